package realtime

import (
	"context"

	"go.uber.org/zap"

	"go-leadchat/internal/infrastructure/metrics"
)

// Bridge forwards payloads to users connected to other nodes.
type Bridge interface {
	Publish(ctx context.Context, userID string, payload []byte) error
}

// Dispatcher routes an encoded event to a user: the local handle first, then
// the cross-node bridge when one is configured.
type Dispatcher struct {
	registry *Registry
	bridge   Bridge
	logger   *zap.Logger
}

// NewDispatcher builds a Dispatcher. bridge may be nil for single-node setups.
func NewDispatcher(registry *Registry, bridge Bridge, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, bridge: bridge, logger: logger}
}

// Registry exposes the local connection registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Deliver pushes payload to userID and reports how the user was reached:
// metrics.DeliveryLive, metrics.DeliveryRemote or metrics.DeliveryDeferred.
// Deferred is the normal outcome for an offline user, not an error.
func (d *Dispatcher) Deliver(ctx context.Context, userID string, payload []byte) string {
	if d.DeliverLocal(userID, payload) {
		return metrics.DeliveryLive
	}
	if d.bridge == nil {
		return metrics.DeliveryDeferred
	}
	if err := d.bridge.Publish(ctx, userID, payload); err != nil {
		d.logger.Warn("cross-node publish failed", zap.String("user_id", userID), zap.Error(err))
		return metrics.DeliveryDeferred
	}
	return metrics.DeliveryRemote
}

// DeliverLocal pushes payload to the user's handle on this node only.
func (d *Dispatcher) DeliverLocal(userID string, payload []byte) bool {
	h, ok := d.registry.Lookup(userID)
	if !ok {
		return false
	}
	if err := h.Send(payload); err != nil {
		d.logger.Debug("live push failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return true
}
