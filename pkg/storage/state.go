package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var stateOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_state_ops_total",
	Help: "Total state store operations by op",
}, []string{"op"})

// DefaultStatePrefix namespaces per-entity state keys in Redis.
const DefaultStatePrefix = "pipeline:state:"

// StateManager tracks the last successful run time per entity. The
// orchestrator reads it to pick full versus incremental mode and advances
// it only after an entity's run succeeds.
type StateManager interface {
	LastRunTime(ctx context.Context, entity string) (*time.Time, error)
	SaveLastRunTime(ctx context.Context, entity string, runTime time.Time) error
	Reset(ctx context.Context, entity string) error
	States(ctx context.Context) (map[string]*time.Time, error)
}

type stateRecord struct {
	LastRunTime time.Time `json:"last_run_time"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RedisStateManager implements StateManager on Redis, one JSON value per
// entity.
type RedisStateManager struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStateManager creates a state manager. An empty prefix selects
// DefaultStatePrefix.
func NewRedisStateManager(redisClient *redis.Client, prefix string) *RedisStateManager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultStatePrefix
	}
	return &RedisStateManager{redis: redisClient, prefix: prefix}
}

// LastRunTime returns the entity's last successful run time, or nil on the
// first run.
func (m *RedisStateManager) LastRunTime(ctx context.Context, entity string) (*time.Time, error) {
	data, err := m.redis.Get(ctx, m.prefix+entity).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get state %s: %w", entity, err)
	}
	stateOpsTotal.WithLabelValues("get").Inc()

	var record stateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", entity, err)
	}
	t := record.LastRunTime
	return &t, nil
}

// SaveLastRunTime persists the entity's run time.
func (m *RedisStateManager) SaveLastRunTime(ctx context.Context, entity string, runTime time.Time) error {
	record := stateRecord{
		LastRunTime: runTime.UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", entity, err)
	}

	if err := m.redis.Set(ctx, m.prefix+entity, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set state %s: %w", entity, err)
	}
	stateOpsTotal.WithLabelValues("save").Inc()
	return nil
}

// Reset deletes the entity's state, forcing a full load on the next run.
func (m *RedisStateManager) Reset(ctx context.Context, entity string) error {
	if err := m.redis.Del(ctx, m.prefix+entity).Err(); err != nil {
		return fmt.Errorf("redis del state %s: %w", entity, err)
	}
	stateOpsTotal.WithLabelValues("reset").Inc()
	return nil
}

// States returns the saved run time of every tracked entity.
func (m *RedisStateManager) States(ctx context.Context) (map[string]*time.Time, error) {
	states := make(map[string]*time.Time)

	iter := m.redis.Scan(ctx, 0, m.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		entity := strings.TrimPrefix(iter.Val(), m.prefix)
		t, err := m.LastRunTime(ctx, entity)
		if err != nil {
			return nil, err
		}
		states[entity] = t
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan states: %w", err)
	}
	return states, nil
}
