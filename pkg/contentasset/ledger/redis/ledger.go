// Package redis keeps the leak ledger in Redis so every server instance and
// the maintenance CLI see the same pending leaks.
//
// Leaks live in a hash (reference -> CBOR record) next to a sorted set that
// orders references by first sighting.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

const maxRecordRetries = 16

var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// Config configures the Redis connection
type Config struct {
	RedisURL  string // redis://<user>:<password>@<host>:<port>/<db>
	KeyPrefix string // defaults to "ca:leaks"
}

// Ledger is a Redis-backed contentasset.LeakLedger
type Ledger struct {
	client   *redis.Client
	hashKey  string
	orderKey string
	owned    bool
}

var _ contentasset.LeakLedger = (*Ledger)(nil)

// New connects to Redis, failing fast if it is unreachable
func New(cfg Config) (*Ledger, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	l := NewWithClient(client, cfg.KeyPrefix)
	l.owned = true
	return l, nil
}

// NewWithClient uses an existing client, which the caller keeps owning
func NewWithClient(client *redis.Client, keyPrefix string) *Ledger {
	if keyPrefix == "" {
		keyPrefix = "ca:leaks"
	}
	return &Ledger{
		client:   client,
		hashKey:  keyPrefix,
		orderKey: keyPrefix + ":order",
	}
}

// Close closes the client if the ledger created it
func (l *Ledger) Close() error {
	if l.owned {
		return l.client.Close()
	}
	return nil
}

// Record merges leak into any existing entry under an optimistic WATCH
func (l *Ledger) Record(ctx context.Context, leak contentasset.Leak) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, l.hashKey, leak.Reference).Bytes()
		switch {
		case err == nil:
			var existing contentasset.Leak
			if derr := cbor.Unmarshal(raw, &existing); derr == nil {
				leak = contentasset.MergeLeak(existing, leak)
			}
		case !errors.Is(err, redis.Nil):
			return err
		}

		data, err := encMode.Marshal(leak)
		if err != nil {
			return fmt.Errorf("encode leak: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, l.hashKey, leak.Reference, data)
			pipe.ZAdd(ctx, l.orderKey, redis.Z{Score: float64(leak.FirstSeen.UnixMilli()), Member: leak.Reference})
			return nil
		})
		return err
	}

	for i := 0; i < maxRecordRetries; i++ {
		err := l.client.Watch(ctx, txf, l.hashKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("record leak %s: %w", leak.Reference, err)
		}
		return nil
	}
	return fmt.Errorf("record leak %s: too much contention", leak.Reference)
}

// Pending returns up to limit leaks, oldest first. limit <= 0 returns all.
func (l *Ledger) Pending(ctx context.Context, limit int) ([]contentasset.Leak, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	refs, err := l.client.ZRange(ctx, l.orderKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list leaks: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	values, err := l.client.HMGet(ctx, l.hashKey, refs...).Result()
	if err != nil {
		return nil, fmt.Errorf("load leaks: %w", err)
	}
	out := make([]contentasset.Leak, 0, len(refs))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Order entry without a record; drop it on the next resolve
			out = append(out, contentasset.Leak{Reference: refs[i]})
			continue
		}
		var leak contentasset.Leak
		if err := cbor.Unmarshal([]byte(s), &leak); err != nil {
			return nil, fmt.Errorf("decode leak %s: %w", refs[i], err)
		}
		out = append(out, leak)
	}
	return out, nil
}

// Resolve forgets reference
func (l *Ledger) Resolve(ctx context.Context, reference string) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, l.hashKey, reference)
		pipe.ZRem(ctx, l.orderKey, reference)
		return nil
	})
	if err != nil {
		return fmt.Errorf("resolve leak %s: %w", reference, err)
	}
	return nil
}
