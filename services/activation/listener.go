package activation

import (
	"context"

	"activations-controlplane/pkg/logger"
	"activations-controlplane/services/partnersync"

	"go.uber.org/zap"
)

// SyncListener marks an activation synced once its queued publish event
// reaches the partner.
type SyncListener struct {
	svc *Service
}

func NewSyncListener(svc *Service) *SyncListener {
	return &SyncListener{svc: svc}
}

func (l *SyncListener) Delivered(ctx context.Context, item *partnersync.QueueItem, partnerID string) {
	if item.SyncType != partnersync.SyncActivation || item.EntityID == "" {
		return
	}

	updates := map[string]any{"synced_to_dobble_tap": true}
	if partnerID != "" {
		updates["dobble_tap_id"] = partnerID
	}
	if err := l.svc.activations.Update(ctx, item.EntityID, updates); err != nil {
		logger.WithTrace(ctx).Error("failed to mark activation synced",
			zap.String("activation_id", item.EntityID), zap.Error(err))
	}
}
