// Package store persists the engine's seen-signal anchors in Redis so a
// restarted live run does not act on a signal twice.
package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Dial connects and pings Redis.
func Dial(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type seenEntry struct {
	instrument string
	anchor     time.Time
}

// RedisJournal keeps one sorted set per instrument, scored by anchor unix time.
// MarkSeen is write-behind: entries are queued and written by a single worker.
type RedisJournal struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration
	log     zerolog.Logger

	queue chan seenEntry
	done  chan struct{}
	once  sync.Once
}

// NewRedisJournal starts the writer goroutine. Call Close to drain it.
func NewRedisJournal(client redis.Cmdable, prefix string, log zerolog.Logger) *RedisJournal {
	if prefix == "" {
		prefix = "barbot"
	}
	j := &RedisJournal{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		log:     log.With().Str("component", "journal").Logger(),
		queue:   make(chan seenEntry, 256),
		done:    make(chan struct{}),
	}
	go j.loop()
	return j
}

func (j *RedisJournal) key(instrument string) string {
	return j.prefix + ":seen:" + instrument
}

// MarkSeen queues an anchor. When the queue is full the write happens inline
// rather than being dropped.
func (j *RedisJournal) MarkSeen(instrument string, anchor time.Time) {
	e := seenEntry{instrument: instrument, anchor: anchor}
	select {
	case j.queue <- e:
	default:
		j.write(e)
	}
}

func (j *RedisJournal) loop() {
	defer close(j.done)
	for e := range j.queue {
		j.write(e)
	}
}

func (j *RedisJournal) write(e seenEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	member := strconv.FormatInt(e.anchor.UnixNano(), 10)
	if err := j.client.ZAdd(ctx, j.key(e.instrument), redis.Z{Score: float64(e.anchor.Unix()), Member: member}).Err(); err != nil {
		j.log.Error().Err(err).Str("instrument", e.instrument).Time("anchor", e.anchor).Msg("persist seen anchor failed")
	}
}

// Load returns the instrument's recorded anchors, oldest first.
func (j *RedisJournal) Load(ctx context.Context, instrument string) ([]time.Time, error) {
	members, err := j.client.ZRange(ctx, j.key(instrument), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load seen anchors %s: %w", instrument, err)
	}
	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			j.log.Warn().Str("instrument", instrument).Str("member", m).Msg("skipping malformed anchor")
			continue
		}
		out = append(out, time.Unix(0, n).UTC())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Before(out[b]) })
	return out, nil
}

// Prune drops anchors older than cutoff.
func (j *RedisJournal) Prune(ctx context.Context, instrument string, cutoff time.Time) (int64, error) {
	n, err := j.client.ZRemRangeByScore(ctx, j.key(instrument), "-inf", "("+strconv.FormatInt(cutoff.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("prune seen anchors %s: %w", instrument, err)
	}
	return n, nil
}

// Close flushes queued writes. It does not close the Redis client.
func (j *RedisJournal) Close() error {
	j.once.Do(func() { close(j.queue) })
	<-j.done
	return nil
}
