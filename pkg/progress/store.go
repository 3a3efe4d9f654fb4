package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a run's state is kept after its last update.
const DefaultTTL = 24 * time.Hour

// ErrRunNotFound is returned when no state exists for a run id.
var ErrRunNotFound = errors.New("progress: run not found")

// Hash fields of the Redis state.
const (
	fieldTotal      = "total"
	fieldAdvanced   = "advanced"
	fieldStartedAt  = "started_at"
	fieldLastUpdate = "last_update"
	fieldFinished   = "finished"
)

// Store persists progress state in Redis hashes.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a Redis-backed progress store. A ttl <= 0 uses DefaultTTL.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("progress: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

// Save writes s and refreshes the key's TTL atomically.
func (s *Store) Save(ctx context.Context, st State) error {
	if st.RunID == "" {
		return fmt.Errorf("progress: run id is required")
	}
	key := RedisKey(st.RunID)

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldTotal, st.Total,
		fieldAdvanced, st.Advanced,
		fieldStartedAt, st.StartedAt.UTC().Format(time.RFC3339Nano),
		fieldLastUpdate, st.LastUpdate.UTC().Format(time.RFC3339Nano),
		fieldFinished, strconv.FormatBool(st.Finished),
	)
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store progress in redis: %w", err)
	}
	return nil
}

// Load reads the state of runID.
func (s *Store) Load(ctx context.Context, runID string) (*State, error) {
	values, err := s.redis.HGetAll(ctx, RedisKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get progress from redis: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	st := &State{RunID: runID}
	if st.Total, err = strconv.Atoi(values[fieldTotal]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldTotal, err)
	}
	if st.Advanced, err = strconv.Atoi(values[fieldAdvanced]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldAdvanced, err)
	}
	if st.StartedAt, err = time.Parse(time.RFC3339Nano, values[fieldStartedAt]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldStartedAt, err)
	}
	if st.LastUpdate, err = time.Parse(time.RFC3339Nano, values[fieldLastUpdate]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldLastUpdate, err)
	}
	if st.Finished, err = strconv.ParseBool(values[fieldFinished]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldFinished, err)
	}

	return st, nil
}
