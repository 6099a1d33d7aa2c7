// Package market provides the in-service stand-in for external protection
// markets. Real pool accounting lives outside this service; the bus market
// relays every trigger state change to its market's channel so downstream
// consumers can restrict or release operations.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coverbound/triggerd/internal/domain"
)

// BusMarket implements domain.Market by publishing state updates to the
// signal bus. A nil bus degrades to log-only delivery, which sim mode uses.
type BusMarket struct {
	id     string
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusMarket creates a BusMarket for the given market ID.
func NewBusMarket(id string, bus domain.SignalBus, logger *slog.Logger) *BusMarket {
	return &BusMarket{
		id:     id,
		bus:    bus,
		logger: logger.With(slog.String("component", "market"), slog.String("market_id", id)),
	}
}

// ID returns the market identifier.
func (m *BusMarket) ID() string { return m.id }

// UpdateTriggerState relays the new trigger state to the market's channel.
// A publish failure aborts the transition, keeping the trigger and its
// markets consistent.
func (m *BusMarket) UpdateTriggerState(ctx context.Context, state domain.TriggerState) error {
	m.logger.InfoContext(ctx, "trigger state update",
		slog.String("state", string(state)),
	)
	if m.bus == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"type":       "market_update",
		"market_id":  m.id,
		"state":      string(state),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("market: encode update: %w", err)
	}
	if err := m.bus.Publish(ctx, "ch:market:"+m.id, payload); err != nil {
		return fmt.Errorf("market: publish update: %w", err)
	}
	return nil
}

var _ domain.Market = (*BusMarket)(nil)
