package sqlx

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	libsqlx "github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"leaderwatch/core"
	"leaderwatch/engine"
)

// Driver names a supported SQL backend.
type Driver string

// DriverPostgres is the only driver with a change-notification primitive
// (LISTEN/NOTIFY) the listener can subscribe to.
const DriverPostgres Driver = "postgres"

// DefaultChannel is the NOTIFY channel used when Config.Channel is empty.
const DefaultChannel = "leaderboard_changes"

//go:embed schema_postgres.sql
var postgresSchema string

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver        `json:"driver" env:"LEADERWATCH_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"LEADERWATCH_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"LEADERWATCH_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"LEADERWATCH_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"LEADERWATCH_SQL_CONN_MAX_LIFETIME"`
	Channel         string        `json:"channel" env:"LEADERWATCH_SQL_CHANNEL"`
	Migrate         bool          `json:"migrate" env:"LEADERWATCH_SQL_MIGRATE"`
}

// DefaultConfig returns pool defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
		Channel:         DefaultChannel,
		Migrate:         true,
	}
}

// Store implements engine.Store on PostgreSQL.
type Store struct {
	db      *libsqlx.DB
	driver  Driver
	dsn     string
	channel string
}

// New opens the database, applies the schema when configured, and returns a
// Store able to watch for changes.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("database DSN not set")
	}
	db, err := libsqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	s := NewWithDB(db, cfg.Driver)
	s.dsn = cfg.DSN
	if cfg.Channel != "" {
		s.channel = cfg.Channel
	}
	if cfg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies the schema and (re)creates the change trigger so that it
// notifies on the channel Watch listens to.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DROP TRIGGER IF EXISTS leaderboard_notify_trg ON leaderboard`); err != nil {
		return fmt.Errorf("failed to drop change trigger: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, triggerSQL(s.channel)); err != nil {
		return fmt.Errorf("failed to create change trigger: %w", err)
	}
	return nil
}

func triggerSQL(channel string) string {
	return `CREATE TRIGGER leaderboard_notify_trg
	AFTER INSERT OR UPDATE OR DELETE ON leaderboard
	FOR EACH ROW EXECUTE FUNCTION leaderboard_notify(` + pq.QuoteLiteral(channel) + `)`
}

// Channel is the NOTIFY channel the trigger publishes on and Watch listens to.
func (s *Store) Channel() string { return s.channel }

// WithChannel switches the store to another NOTIFY channel. Call Migrate
// afterwards so the trigger follows.
func (s *Store) WithChannel(channel string) *Store {
	if channel != "" {
		s.channel = channel
	}
	return s
}

// NewWithDB wraps an existing handle (useful for testing). Without a DSN the
// store cannot Watch.
func NewWithDB(db *libsqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver, channel: DefaultChannel}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type scoreRow struct {
	UserID string  `db:"user_id"`
	Score  float64 `db:"score"`
	Name   string  `db:"name"`
}

func (r scoreRow) record() core.ScoreRecord {
	return core.ScoreRecord{UserID: core.UserID(r.UserID), Score: core.NumericScore(r.Score), DisplayName: r.Name}
}

func toRecords(rows []scoreRow) []core.ScoreRecord {
	out := make([]core.ScoreRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out
}

// SetScore upserts a leaderboard row; the trigger publishes the change.
func (s *Store) SetScore(ctx context.Context, rec core.ScoreRecord) error {
	if err := core.ValidateUserID(rec.UserID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO leaderboard (user_id, score, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET score = EXCLUDED.score, name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`),
		string(rec.UserID), float64(rec.Score), rec.DisplayName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set score: %w", err)
	}
	return nil
}

// AddDeviceTokens registers tokens for a user in one transaction.
func (s *Store) AddDeviceTokens(ctx context.Context, user core.UserID, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	q := tx.Rebind(`INSERT INTO user_tokens (user_id, token, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`)
	for _, tok := range tokens {
		if _, err := tx.ExecContext(ctx, q, string(user), tok, now); err != nil {
			return fmt.Errorf("failed to add device token: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadScores(ctx context.Context) ([]core.ScoreRecord, error) {
	var rows []scoreRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, score, name FROM leaderboard`); err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}
	return toRecords(rows), nil
}

func (s *Store) ScoresInRange(ctx context.Context, min, max core.Score) ([]core.ScoreRecord, error) {
	var rows []scoreRow
	q := s.db.Rebind(`SELECT user_id, score, name FROM leaderboard WHERE score >= ? AND score < ?`)
	if err := s.db.SelectContext(ctx, &rows, q, float64(min), float64(max)); err != nil {
		return nil, fmt.Errorf("failed to query score range: %w", err)
	}
	return toRecords(rows), nil
}

func (s *Store) DeviceTokens(ctx context.Context, user core.UserID) ([]string, error) {
	var tokens []string
	q := s.db.Rebind(`SELECT token FROM user_tokens WHERE user_id = ? ORDER BY created_at`)
	if err := s.db.SelectContext(ctx, &tokens, q, string(user)); err != nil {
		return nil, fmt.Errorf("failed to load device tokens: %w", err)
	}
	return tokens, nil
}

// RemoveDeviceTokens deletes only the named rows, so concurrent inserts of
// other tokens survive.
func (s *Store) RemoveDeviceTokens(ctx context.Context, user core.UserID, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	q := s.db.Rebind(`DELETE FROM user_tokens WHERE user_id = ? AND token = ANY(?)`)
	if _, err := s.db.ExecContext(ctx, q, string(user), pq.Array(tokens)); err != nil {
		return fmt.Errorf("failed to remove device tokens: %w", err)
	}
	return nil
}

// Watch LISTENs on the change channel through a dedicated connection.
func (s *Store) Watch(ctx context.Context) (engine.ChangeStream, error) {
	if s.dsn == "" {
		return nil, errors.New("change stream requires a DSN")
	}
	st := newStream(nil)
	l := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventConnectionAttemptFailed && err != nil {
			st.fail(err)
		}
	})
	if err := l.Listen(s.channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", s.channel, err)
	}
	st.src = l
	return st, nil
}

// notifier is the part of *pq.Listener the stream consumes.
type notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

type stream struct {
	src  notifier
	errs chan error
}

func newStream(src notifier) *stream {
	return &stream{src: src, errs: make(chan error, 1)}
}

func (st *stream) fail(err error) {
	select {
	case st.errs <- err:
	default:
	}
}

// Next waits for one notification, then drains whatever else is already
// queued into the same batch. A nil notification marks a reconnect and
// carries no change.
func (st *stream) Next(ctx context.Context) ([]core.ChangeEvent, error) {
	ch := st.src.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-st.errs:
			return nil, fmt.Errorf("listener connection failed: %w", err)
		case n, ok := <-ch:
			if !ok {
				return nil, errors.New("listener closed")
			}
			if n == nil {
				continue
			}
			batch, err := appendNotification(nil, n)
			if err != nil {
				return nil, err
			}
			for {
				select {
				case more, ok := <-ch:
					if !ok || more == nil {
						return batch, nil
					}
					if batch, err = appendNotification(batch, more); err != nil {
						return nil, err
					}
					continue
				default:
				}
				return batch, nil
			}
		}
	}
}

func (st *stream) Close() error {
	if st.src == nil {
		return nil
	}
	return st.src.Close()
}

func appendNotification(batch []core.ChangeEvent, n *pq.Notification) ([]core.ChangeEvent, error) {
	ev, err := decodeChange([]byte(n.Extra))
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", n.Channel, err)
	}
	return append(batch, ev), nil
}

func decodeChange(payload []byte) (core.ChangeEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return core.ChangeEvent{}, err
	}
	id, _ := raw["user_id"].(string)
	name, _ := raw["name"].(string)
	kind, _ := raw["kind"].(string)
	if kind == "" {
		kind = string(core.ChangeModified)
	}
	return core.ChangeEvent{
		Kind:   core.ChangeKind(kind),
		Record: core.ScoreRecord{UserID: core.UserID(id), Score: core.NumericScore(raw["score"]), DisplayName: name},
	}, nil
}

var _ engine.Store = (*Store)(nil)
