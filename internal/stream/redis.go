package stream

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// Stream keys, one per queue name.
const (
	StreamEvents      = "jobs:events"
	StreamDigest      = "jobs:digest"
	StreamMaintenance = "jobs:maintenance"
)

// dedupTTL bounds how long an enqueued job ID suppresses re-enqueues.
const dedupTTL = 24 * time.Hour

type RedisStream struct {
	client *redis.Client
	group  string
}

func NewRedisStream(client *redis.Client, group string) *RedisStream {
	return &RedisStream{
		client: client,
		group:  group,
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Dedup reserves a job ID. It returns false when the same ID was
// enqueued within the dedup window.
func (s *RedisStream) Dedup(ctx context.Context, stream, jobID string) (bool, error) {
	return s.client.SetNX(ctx, "dedup:"+stream+":"+jobID, 1, dedupTTL).Result()
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// PublishDelayed parks the job in a per-stream sorted set until its due
// time. PromoteDue moves it into the stream.
func (s *RedisStream) PublishDelayed(ctx context.Context, stream string, data any, due time.Time) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return s.client.ZAdd(ctx, "delayed:"+stream, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: jsonData,
	}).Err()
}

// PromoteDue moves due delayed jobs into the stream. Returns the number
// promoted.
func (s *RedisStream) PromoteDue(ctx context.Context, stream string, now time.Time) (int, error) {
	key := "delayed:" + stream
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(now),
		Count: 100,
	}).Result()
	if err != nil || len(members) == 0 {
		return 0, err
	}

	promoted := 0
	for _, member := range members {
		if err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{"data": member},
		}).Err(); err != nil {
			return promoted, err
		}
		if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(id string, data []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				logger.Warn("stream read error: stream=%s err=%v", stream, err)
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					// Malformed entry, nothing to retry.
					s.client.XAck(ctx, stream.Stream, s.group, msg.ID)
					continue
				}

				if err := handler(msg.ID, []byte(data)); err != nil {
					logger.Warn("handler error for %s: %v", msg.ID, err)
					continue
				}

				s.client.XAck(ctx, stream.Stream, s.group, msg.ID)
			}
		}
	}
}

// ReclaimStale takes over pending entries whose consumer went quiet and
// re-runs them through the handler. Entries left unacked by a crashed
// worker would otherwise sit in the pending list forever, since the
// normal read path only asks for new deliveries.
func (s *RedisStream) ReclaimStale(ctx context.Context, stream, consumer string, minIdle time.Duration, handler func(id string, data []byte) error) (int, error) {
	reclaimed := 0
	start := "0-0"
	for {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    s.group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    50,
		}).Result()
		if err != nil {
			return reclaimed, err
		}

		for _, msg := range msgs {
			data, ok := msg.Values["data"].(string)
			if !ok {
				s.client.XAck(ctx, stream, s.group, msg.ID)
				continue
			}
			if err := handler(msg.ID, []byte(data)); err != nil {
				logger.Warn("reclaim handler error for %s: %v", msg.ID, err)
				continue
			}
			if err := s.client.XAck(ctx, stream, s.group, msg.ID).Err(); err != nil {
				return reclaimed, err
			}
			reclaimed++
		}

		if next == "0-0" || len(msgs) == 0 {
			return reclaimed, nil
		}
		start = next
	}
}

func (s *RedisStream) Ack(ctx context.Context, stream, id string) error {
	return s.client.XAck(ctx, stream, s.group, id).Err()
}

func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
