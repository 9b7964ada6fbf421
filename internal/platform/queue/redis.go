package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"
)

// readScript claims up to ARGV[3] visible messages by pushing their
// visibility score to ARGV[2]. Orphaned ids are dropped on the way.
var readScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for _, id in ipairs(ids) do
	local body = redis.call('HGET', KEYS[2], id)
	if body then
		redis.call('ZADD', KEYS[1], ARGV[2], id)
		local reads = redis.call('HINCRBY', KEYS[3], id, 1)
		local enqueued = redis.call('HGET', KEYS[4], id) or '0'
		table.insert(out, id)
		table.insert(out, body)
		table.insert(out, tostring(reads))
		table.insert(out, enqueued)
	else
		redis.call('ZREM', KEYS[1], id)
	end
end
return out
`)

// Redis is a Queue over plain redis structures: a hash of bodies and a
// sorted set scored by the time each message becomes visible.
type Redis struct {
	client redis.UniversalClient
	prefix string
	clock  clock.PassiveClock
}

func NewRedisClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
}

func NewRedis(client redis.UniversalClient, name string, clk clock.PassiveClock) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Redis{client: client, prefix: "queue:" + name, clock: clk}, nil
}

func (q *Redis) key(part string) string { return q.prefix + ":" + part }

func (q *Redis) keys() []string {
	return []string{q.key("visible"), q.key("messages"), q.key("reads"), q.key("enqueued")}
}

func (q *Redis) Read(ctx context.Context, n int, visibility time.Duration) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	now := q.clock.Now()
	raw, err := readScript.Run(ctx, q.client, q.keys(),
		now.UnixMilli(), now.Add(visibility).UnixMilli(), n).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis read: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("redis read: unexpected reply length %d", len(raw))
	}

	out := make([]Message, 0, len(raw)/4)
	for i := 0; i < len(raw); i += 4 {
		id, err := strconv.ParseInt(fmt.Sprint(raw[i]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis read: message id %v: %w", raw[i], err)
		}
		reads, _ := strconv.Atoi(fmt.Sprint(raw[i+2]))
		enqueuedMs, _ := strconv.ParseInt(fmt.Sprint(raw[i+3]), 10, 64)
		out = append(out, Message{
			ID:         id,
			ReadCount:  reads,
			EnqueuedAt: time.UnixMilli(enqueuedMs).UTC(),
			Body:       []byte(fmt.Sprint(raw[i+1])),
		})
	}
	return out, nil
}

func (q *Redis) Send(ctx context.Context, body []byte, delay time.Duration) (int64, error) {
	id, err := q.client.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("redis send: %w", err)
	}
	now := q.clock.Now()
	member := strconv.FormatInt(id, 10)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("messages"), member, string(body))
		pipe.HSet(ctx, q.key("enqueued"), member, now.UnixMilli())
		pipe.ZAdd(ctx, q.key("visible"), redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: member})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis send: %w", err)
	}
	return id, nil
}

func (q *Redis) Delete(ctx context.Context, id int64) error {
	member := strconv.FormatInt(id, 10)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key("visible"), member)
		pipe.HDel(ctx, q.key("messages"), member)
		pipe.HDel(ctx, q.key("reads"), member)
		pipe.HDel(ctx, q.key("enqueued"), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %d: %w", id, err)
	}
	return nil
}

func (q *Redis) Retain(ctx context.Context, id int64, delay time.Duration) error {
	score := float64(q.clock.Now().Add(delay).UnixMilli())
	err := q.client.ZAddXX(ctx, q.key("visible"), redis.Z{Score: score, Member: strconv.FormatInt(id, 10)}).Err()
	if err != nil {
		return fmt.Errorf("redis retain %d: %w", id, err)
	}
	return nil
}

func (q *Redis) Check(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

var _ Queue = (*Redis)(nil)
