package health

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for resource health.
var (
	eonResourceConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eon_resource_consecutive_failures",
		Help: "Consecutive failed fetches per account contract and resource",
	}, []string{"account_contract", "resource"})

	eonResourceRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_resource_recoveries_total",
		Help: "Total number of times a resource recovered after failures",
	}, []string{"account_contract", "resource"})
)

const (
	fieldFailures    = "failures"
	fieldLastStatus  = "last_status"
	fieldLastSuccess = "last_success"
	fieldLastFailure = "last_failure"
)

// Tracker records fetch outcomes per resource in Redis.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new health tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// Key returns the Redis hash key of a resource. Account-scope resources
// (contract list, wallet) pass an empty account contract.
func Key(accountContract, resource string) string {
	if accountContract == "" {
		return RedisKeyPrefix + resource
	}
	return RedisKeyPrefix + accountContract + ":" + resource
}

// splitKey reverses Key.
func splitKey(key string) (accountContract, resource string) {
	rest := strings.TrimPrefix(key, RedisKeyPrefix)
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		return rest[:i], rest[i+1:]
	}
	return "", rest
}

// Record stores the outcome of one fetch. status is the HTTP status of the
// last attempt, 0 when no response was received.
func (t *Tracker) Record(ctx context.Context, accountContract, resource string, ok bool, status int) error {
	key := Key(accountContract, resource)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var failures *redis.IntCmd
	var previous *redis.StringCmd

	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		previous = pipe.HGet(ctx, key, fieldFailures)
		if ok {
			pipe.HSet(ctx, key, fieldFailures, 0, fieldLastStatus, status, fieldLastSuccess, now)
		} else {
			failures = pipe.HIncrBy(ctx, key, fieldFailures, 1)
			pipe.HSet(ctx, key, fieldLastStatus, status, fieldLastFailure, now)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return fmt.Errorf("store health state in redis: %w", err)
	}

	prev, _ := strconv.Atoi(previous.Val())

	if ok {
		eonResourceConsecutiveFailures.WithLabelValues(accountContract, resource).Set(0)
		if prev > 0 {
			eonResourceRecoveriesTotal.WithLabelValues(accountContract, resource).Inc()
			t.logger.Info().
				Str("account_contract", accountContract).
				Str("resource", resource).
				Int("failures", prev).
				Msg("Resource recovered")
		}
		return nil
	}

	count := int(failures.Val())
	eonResourceConsecutiveFailures.WithLabelValues(accountContract, resource).Set(float64(count))

	event := t.logger.Warn()
	if count >= FailureThresholdDown {
		event = t.logger.Error()
	}
	event.
		Str("account_contract", accountContract).
		Str("resource", resource).
		Int("status", status).
		Int("consecutive_failures", count).
		Msg("Resource fetch failed")

	return nil
}

// GetState retrieves the state of a resource.
// Returns a healthy zero state if nothing was recorded yet.
func (t *Tracker) GetState(ctx context.Context, accountContract, resource string) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, Key(accountContract, resource)).Result()
	if err != nil {
		return nil, fmt.Errorf("get health state: %w", err)
	}

	state := &State{AccountContract: accountContract, Resource: resource}
	if len(fields) == 0 {
		t.logger.Debug().Str("resource", resource).Msg("No health state in Redis, returning healthy state")
		return state, nil
	}

	if err := parseState(state, fields); err != nil {
		return nil, fmt.Errorf("parse health state of %s: %w", Key(accountContract, resource), err)
	}
	return state, nil
}

// All returns the state of every recorded resource, sorted by key:
// account-scope resources first, then per contract.
func (t *Tracker) All(ctx context.Context) ([]*State, error) {
	var keys []string
	iter := t.redis.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan health keys: %w", err)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, ri := splitKey(keys[i])
		aj, rj := splitKey(keys[j])
		if ai != aj {
			return ai < aj
		}
		return ri < rj
	})

	states := make([]*State, 0, len(keys))
	for _, key := range keys {
		ac, resource := splitKey(key)
		state, err := t.GetState(ctx, ac, resource)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func parseState(state *State, fields map[string]string) error {
	var err error
	if v, ok := fields[fieldFailures]; ok {
		if state.ConsecutiveFailures, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%s: %w", fieldFailures, err)
		}
	}
	if v, ok := fields[fieldLastStatus]; ok {
		if state.LastStatus, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%s: %w", fieldLastStatus, err)
		}
	}
	if state.LastSuccess, err = parseMillis(fields[fieldLastSuccess]); err != nil {
		return fmt.Errorf("%s: %w", fieldLastSuccess, err)
	}
	if state.LastFailure, err = parseMillis(fields[fieldLastFailure]); err != nil {
		return fmt.Errorf("%s: %w", fieldLastFailure, err)
	}
	return nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
