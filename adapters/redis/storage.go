package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"leaderwatch/core"
	"leaderwatch/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"LEADERWATCH_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"LEADERWATCH_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"LEADERWATCH_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"LEADERWATCH_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"LEADERWATCH_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"LEADERWATCH_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"LEADERWATCH_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"LEADERWATCH_REDIS_WRITE_TIMEOUT"`
	// StreamBlock is how long one XREAD waits before re-checking the context.
	StreamBlock time.Duration `json:"stream_block" env:"LEADERWATCH_REDIS_STREAM_BLOCK"`
	// StreamBatch caps the number of changes returned by one read.
	StreamBatch int64 `json:"stream_batch" env:"LEADERWATCH_REDIS_STREAM_BATCH"`
	// StreamMaxLen approximately trims the change stream on write; 0 keeps everything.
	StreamMaxLen int64 `json:"stream_max_len" env:"LEADERWATCH_REDIS_STREAM_MAX_LEN"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		StreamBlock:  2 * time.Second,
		StreamBatch:  100,
		StreamMaxLen: 10000,
	}
}

// Key layout:
// - leaderboard:scores   -> sorted set, member user id, score
// - leaderboard:names    -> hash user id -> display name
// - leaderboard:changes  -> stream of {kind, user_id, score, name}
// - user:{user_id}:tokens -> set of device tokens
const (
	scoresKey  = "leaderboard:scores"
	namesKey   = "leaderboard:names"
	changesKey = "leaderboard:changes"
)

// Store implements engine.Store on Redis.
type Store struct {
	client *redis.Client
	block  time.Duration
	batch  int64
	maxLen int64
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	s.block = config.StreamBlock
	s.batch = config.StreamBatch
	s.maxLen = config.StreamMaxLen
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	d := DefaultConfig()
	return &Store{client: client, block: d.StreamBlock, batch: d.StreamBatch, maxLen: d.StreamMaxLen}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// userTokensKey generates the Redis key for a user's device tokens
func userTokensKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:tokens", userID)
}

func formatScore(s core.Score) string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// Lua script that upserts a record and appends the change in one step, so
// the stream never disagrees with the sorted set.
var setScoreScript = redis.NewScript(`
	local existed = redis.call('ZSCORE', KEYS[1], ARGV[1])
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
	if ARGV[3] ~= '' then
		redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
	else
		redis.call('HDEL', KEYS[2], ARGV[1])
	end
	local kind = 'modified'
	if not existed then
		kind = 'added'
	end
	local maxlen = tonumber(ARGV[4])
	if maxlen > 0 then
		return redis.call('XADD', KEYS[3], 'MAXLEN', '~', maxlen, '*', 'kind', kind, 'user_id', ARGV[1], 'score', ARGV[2], 'name', ARGV[3])
	end
	return redis.call('XADD', KEYS[3], '*', 'kind', kind, 'user_id', ARGV[1], 'score', ARGV[2], 'name', ARGV[3])
`)

// SetScore upserts a leaderboard record and publishes the change.
func (s *Store) SetScore(ctx context.Context, rec core.ScoreRecord) error {
	if err := core.ValidateUserID(rec.UserID); err != nil {
		return err
	}
	keys := []string{scoresKey, namesKey, changesKey}
	err := setScoreScript.Run(ctx, s.client, keys, string(rec.UserID), formatScore(rec.Score), rec.DisplayName, s.maxLen).Err()
	if err != nil {
		return fmt.Errorf("failed to set score: %w", err)
	}
	return nil
}

// AddDeviceTokens registers device tokens for a user.
func (s *Store) AddDeviceTokens(ctx context.Context, user core.UserID, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := s.client.SAdd(ctx, userTokensKey(user), toArgs(tokens)...).Err(); err != nil {
		return fmt.Errorf("failed to add device tokens: %w", err)
	}
	return nil
}

func (s *Store) LoadScores(ctx context.Context) ([]core.ScoreRecord, error) {
	zs, err := s.client.ZRangeWithScores(ctx, scoresKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}
	names, err := s.client.HGetAll(ctx, namesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load names: %w", err)
	}
	out := make([]core.ScoreRecord, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, core.ScoreRecord{UserID: core.UserID(id), Score: core.Score(z.Score), DisplayName: names[id]})
	}
	return out, nil
}

// ScoresInRange uses an exclusive upper bound: ZRANGEBYSCORE key min (max.
func (s *Store) ScoresInRange(ctx context.Context, min, max core.Score) ([]core.ScoreRecord, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, scoresKey, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: "(" + formatScore(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query score range: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	names, err := s.client.HMGet(ctx, namesKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load names: %w", err)
	}
	out := make([]core.ScoreRecord, len(zs))
	for i, z := range zs {
		name, _ := names[i].(string)
		out[i] = core.ScoreRecord{UserID: core.UserID(ids[i]), Score: core.Score(z.Score), DisplayName: name}
	}
	return out, nil
}

func (s *Store) DeviceTokens(ctx context.Context, user core.UserID) ([]string, error) {
	tokens, err := s.client.SMembers(ctx, userTokensKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load device tokens: %w", err)
	}
	return tokens, nil
}

// RemoveDeviceTokens uses SREM so tokens added concurrently survive.
func (s *Store) RemoveDeviceTokens(ctx context.Context, user core.UserID, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := s.client.SRem(ctx, userTokensKey(user), toArgs(tokens)...).Err(); err != nil {
		return fmt.Errorf("failed to remove device tokens: %w", err)
	}
	return nil
}

// Watch starts reading the change stream after its current last entry.
func (s *Store) Watch(ctx context.Context) (engine.ChangeStream, error) {
	last := "0-0"
	msgs, err := s.client.XRevRangeN(ctx, changesKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read change stream tail: %w", err)
	}
	if len(msgs) > 0 {
		last = msgs[0].ID
	}
	return &stream{client: s.client, lastID: last, block: s.block, batch: s.batch}, nil
}

type stream struct {
	client *redis.Client
	lastID string
	block  time.Duration
	batch  int64
}

func (st *stream) Next(ctx context.Context) ([]core.ChangeEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := st.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{changesKey, st.lastID},
			Count:   st.batch,
			Block:   st.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read change stream: %w", err)
		}
		var batch []core.ChangeEvent
		for _, xs := range res {
			for _, msg := range xs.Messages {
				st.lastID = msg.ID
				batch = append(batch, decodeChange(msg.Values))
			}
		}
		if len(batch) > 0 {
			return batch, nil
		}
	}
}

func (st *stream) Close() error { return nil }

func decodeChange(values map[string]interface{}) core.ChangeEvent {
	str := func(k string) string {
		v, _ := values[k].(string)
		return v
	}
	kind := core.ChangeKind(str("kind"))
	if kind == "" {
		kind = core.ChangeModified
	}
	return core.ChangeEvent{
		Kind: kind,
		Record: core.ScoreRecord{
			UserID:      core.UserID(str("user_id")),
			Score:       core.ParseScore(str("score")),
			DisplayName: str("name"),
		},
	}
}

func toArgs(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var _ engine.Store = (*Store)(nil)
