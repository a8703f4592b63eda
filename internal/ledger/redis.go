package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"storefront/internal/domain"
)

const claimedPlaceholder = "claimed"

// Redis keeps the ledger under storefront:redirect:{fp}. The claim is a SETNX
// placeholder that Settle overwrites with the verdict JSON.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) key(fp string) string {
	return "storefront:redirect:" + fp
}

func (r *Redis) Claim(ctx context.Context, fp string) (bool, error) {
	return r.client.SetNX(ctx, r.key(fp), claimedPlaceholder, r.ttl).Result()
}

func (r *Redis) Settle(ctx context.Context, fp string, v domain.Verdict) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(fp), b, r.ttl).Err()
}

func (r *Redis) Settled(ctx context.Context, fp string) (domain.Verdict, bool, error) {
	raw, err := r.client.Get(ctx, r.key(fp)).Result()
	if errors.Is(err, redis.Nil) || raw == claimedPlaceholder {
		return domain.Verdict{}, false, nil
	}
	if err != nil {
		return domain.Verdict{}, false, err
	}
	var v domain.Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.Verdict{}, false, fmt.Errorf("ledger: decode verdict: %w", err)
	}
	if err := v.Valid(); err != nil {
		return domain.Verdict{}, false, fmt.Errorf("ledger: %w", err)
	}
	return v, true, nil
}
