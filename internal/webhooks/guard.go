package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	"github.com/angelmondragon/tenantbilling-backend/pkg/redis"
)

const guardScope = "webhook"

// InFlightGuard marks deliveries that are queued but not yet processed.
// It only suppresses duplicate enqueues; the ledger decides what was processed.
type InFlightGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewInFlightGuard(store redis.IdempotencyStore, ttl time.Duration) (*InFlightGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &InFlightGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether the event was already marked, marking it otherwise.
func (g *InFlightGuard) CheckAndMark(ctx context.Context, provider enums.BillingProvider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(provider, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set in-flight key: %w", err)
	}
	return !set, nil
}

func (g *InFlightGuard) Clear(ctx context.Context, provider enums.BillingProvider, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(provider, eventID))
}

func (g *InFlightGuard) key(provider enums.BillingProvider, eventID string) string {
	return g.store.IdempotencyKey(guardScope+":"+string(provider), eventID)
}
