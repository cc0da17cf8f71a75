package fcm

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultCredentialsEnv names the environment variable holding the
// service-account JSON bundle.
const DefaultCredentialsEnv = "FIREBASE_SERVICE_ACCOUNT"

const (
	defaultTokenURI    = "https://oauth2.googleapis.com/token"
	serviceAccountType = "service_account"
)

// Credentials is the subset of a Google service-account key file the sender
// needs.
type Credentials struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`

	key *rsa.PrivateKey
	raw []byte
}

// ParseCredentials decodes and validates a service-account bundle.
func ParseCredentials(data []byte) (*Credentials, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("service account credentials are empty")
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid service account JSON: %w", err)
	}
	if c.Type == "" {
		c.Type = serviceAccountType
	}
	if c.Type != serviceAccountType {
		return nil, fmt.Errorf("credentials type is %q, want %q", c.Type, serviceAccountType)
	}
	var missing []string
	if c.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if c.ClientEmail == "" {
		missing = append(missing, "client_email")
	}
	if c.PrivateKey == "" {
		missing = append(missing, "private_key")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("service account missing fields: %s", strings.Join(missing, ", "))
	}
	// a malformed key must fail at startup, not on the first send
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid service account private key: %w", err)
	}
	c.key = key
	if c.TokenURI == "" {
		c.TokenURI = defaultTokenURI
	}
	// normalized copy for the oauth2 JWT config
	if c.raw, err = json.Marshal(c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TokenSource returns a cached OAuth2 token source for the messaging scope.
// Token exchanges go through the *http.Client stored in ctx under
// oauth2.HTTPClient, if any.
func (c *Credentials) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	cfg, err := google.JWTConfigFromJSON(c.raw, messagingScope)
	if err != nil {
		return nil, fmt.Errorf("fcm: %w", err)
	}
	return cfg.TokenSource(ctx), nil
}

// CredentialsFromEnv reads the bundle from the named environment variable.
func CredentialsFromEnv(name string) (*Credentials, error) {
	if name == "" {
		name = DefaultCredentialsEnv
	}
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%s is not set", name)
	}
	c, err := ParseCredentials([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}
