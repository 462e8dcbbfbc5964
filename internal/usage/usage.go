// Package usage keeps advisory per-period consumption counters in Redis.
//
// Every logged attempt increments requests, tokens and budget counters for
// the virtual key, deployment, connection and project it ran under, bucketed
// by minute, hour, day, week and month. The counters inform the limits
// metadata on those entities; nothing here enforces anything.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/llmur/internal/store"
)

type Resource string

const (
	ResourceVirtualKey Resource = "virtualkey"
	ResourceDeployment Resource = "deployment"
	ResourceConnection Resource = "connection"
	ResourceProject    Resource = "project"
)

type Period string

const (
	PeriodMinute Period = "minute"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
	PeriodWeek   Period = "week"
	PeriodMonth  Period = "month"
)

// Periods lists every tracked bucket, shortest first.
var Periods = []Period{PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodMonth}

const (
	metricRequests = "requests"
	metricTokens   = "tokens"
	metricBudget   = "budget"
)

// PeriodStats is the consumption observed within one bucket.
type PeriodStats struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// Stats maps each period to its counters.
type Stats map[Period]PeriodStats

// Tracker increments and reads the counters. A nil Redis client turns every
// operation into a no-op, so callers need no nil checks of their own.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// Record folds a batch of attempt logs into one pipeline of increments. It
// satisfies the request logger's sink contract via reqlog.SinkFunc.
func (t *Tracker) Record(ctx context.Context, logs []*store.RequestLog) error {
	if t.client == nil || len(logs) == 0 {
		return nil
	}

	ints := make(map[string]int64)
	floats := make(map[string]float64)
	ttls := make(map[string]time.Duration)

	for _, l := range logs {
		tokens := l.InputTokens + l.OutputTokens
		for _, target := range []struct {
			resource Resource
			id       uuid.UUID
		}{
			{ResourceVirtualKey, l.VirtualKeyID},
			{ResourceDeployment, l.DeploymentID},
			{ResourceConnection, l.ConnectionID},
			{ResourceProject, l.ProjectID},
		} {
			for _, p := range Periods {
				ttl := periodTTL(p)

				k := key(target.resource, target.id, metricRequests, p, l.RequestTS)
				ints[k]++
				ttls[k] = ttl

				k = key(target.resource, target.id, metricTokens, p, l.RequestTS)
				ints[k] += tokens
				ttls[k] = ttl

				k = key(target.resource, target.id, metricBudget, p, l.RequestTS)
				floats[k] += l.Cost
				ttls[k] = ttl
			}
		}
	}

	pipe := t.client.Pipeline()
	for k, v := range ints {
		pipe.IncrBy(ctx, k, v)
		pipe.Expire(ctx, k, ttls[k])
	}
	for k, v := range floats {
		pipe.IncrByFloat(ctx, k, v)
		pipe.Expire(ctx, k, ttls[k])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("usage: recording counters: %w", err)
	}
	return nil
}

// Stats reads the counters for one entity at the buckets containing now.
// Absent counters read as zero.
func (t *Tracker) Stats(ctx context.Context, resource Resource, id uuid.UUID, now time.Time) (Stats, error) {
	out := make(Stats, len(Periods))
	if t.client == nil {
		for _, p := range Periods {
			out[p] = PeriodStats{}
		}
		return out, nil
	}

	keys := make([]string, 0, len(Periods)*3)
	for _, p := range Periods {
		keys = append(keys,
			key(resource, id, metricRequests, p, now),
			key(resource, id, metricTokens, p, now),
			key(resource, id, metricBudget, p, now),
		)
	}

	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("usage: reading counters: %w", err)
	}

	for i, p := range Periods {
		out[p] = PeriodStats{
			Requests: parseInt(values[i*3]),
			Tokens:   parseInt(values[i*3+1]),
			Cost:     parseFloat(values[i*3+2]),
		}
	}
	return out, nil
}

func key(resource Resource, id uuid.UUID, metric string, p Period, ts time.Time) string {
	return fmt.Sprintf("stats:%s:%s:%s:%d", resource, id, metric, floorPeriod(ts, p).Unix())
}

// floorPeriod rounds a timestamp down to the start of its bucket, in UTC.
// Weeks start on Monday.
func floorPeriod(ts time.Time, p Period) time.Time {
	ts = ts.UTC()
	switch p {
	case PeriodMinute:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), 0, 0, time.UTC)
	case PeriodHour:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
	case PeriodDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts
	}
}

// periodTTL keeps a counter alive for two of its periods, so the current
// bucket always survives while dead buckets age out.
func periodTTL(p Period) time.Duration {
	switch p {
	case PeriodMinute:
		return 2 * time.Minute
	case PeriodHour:
		return 2 * time.Hour
	case PeriodDay:
		return 48 * time.Hour
	case PeriodWeek:
		return 14 * 24 * time.Hour
	default:
		return 62 * 24 * time.Hour
	}
}

func parseInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
