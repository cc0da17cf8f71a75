package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Entry is one row of the status leaderboard excerpt.
type Entry struct {
	User  string  `json:"user"`
	Score float64 `json:"score"`
}

// Status describes the /status response.
type Status struct {
	State       string  `json:"state"`
	CachedUsers int     `json:"cached_users"`
	Store       string  `json:"store,omitempty"`
	Top         []Entry `json:"top"`
}

// APIError is the error body returned by non-liveness routes.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
