package partnersync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"activations-controlplane/pkg/client"
	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/db/option"
	"activations-controlplane/pkg/featureflags"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("activations-controlplane/services/partnersync")

// Listener is told about queued items that were delivered by the drain.
type Listener interface {
	Delivered(ctx context.Context, item *QueueItem, partnerID string)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	flags featureflags.FeatureFlag
	cfg   config.PartnerSync
	now   func() time.Time

	listeners []Listener
	queue     repository.Repository[QueueItem]
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Flags     featureflags.FeatureFlag
	Listeners []Listener `group:"partnersync.listeners"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		flags:     p.Flags,
		cfg:       p.Config.PartnerSync,
		now:       time.Now,
		listeners: p.Listeners,
		queue:     repository.ProvideStore[QueueItem](p.DB),
	}
}

// DefaultOptions retries inline and queues what still fails.
func (s *Service) DefaultOptions() Options {
	return Options{MaxRetries: s.cfg.MaxRetries, QueueOnFailure: true}
}

func (s *Service) enabled(ctx context.Context) bool {
	if s.cfg.BaseURL == "" {
		return false
	}
	return s.flags.Enabled(ctx, featureflags.PartnerSyncEnabled, true)
}

// Sync pushes one event to the partner. It never returns an error: the
// outcome, including a queued retry, is reported in Result.
func (s *Service) Sync(ctx context.Context, syncType SyncType, endpoint string, payload any, entityID string, opts Options) Result {
	ctx, span := tracer.Start(ctx, "partnersync.Sync")
	defer span.End()
	span.SetAttributes(attribute.String("sync.type", string(syncType)), attribute.String("sync.entity_id", entityID))
	zapLog := logger.WithTrace(ctx, zap.String("sync_type", string(syncType)), zap.String("entity_id", entityID))

	if !s.enabled(ctx) {
		syncResults.WithLabelValues(string(syncType), "skipped").Inc()
		return Result{Skipped: true, Error: "partner sync disabled"}
	}

	eventType, ok := EventType(syncType)
	if !ok {
		zapLog.Error("unknown sync type")
		return Result{Error: fmt.Sprintf("unknown sync type %q", syncType)}
	}
	if endpoint == "" {
		endpoint = Endpoint(syncType, entityID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: fmt.Sprintf("encode payload: %v", err)}
	}

	res := s.deliver(ctx, eventType, endpoint, data, opts.MaxRetries)
	if res.Success {
		syncResults.WithLabelValues(string(syncType), "synced").Inc()
		zapLog.Info("partner sync delivered", zap.Int("attempts", res.Attempts))
		return res
	}

	syncResults.WithLabelValues(string(syncType), "failed").Inc()
	zapLog.Warn("partner sync failed", zap.String("error", res.Error), zap.Int("attempts", res.Attempts))

	if opts.QueueOnFailure {
		if err := s.enqueue(ctx, syncType, endpoint, entityID, data, res.Error); err != nil {
			zapLog.Error("failed to queue partner sync", zap.Error(err))
			return res
		}
		res.RetryQueued = true
	}
	return res
}

// deliver posts one envelope, retrying up to maxRetries times, bounded by
// the configured timeout.
func (s *Service) deliver(ctx context.Context, eventType, endpoint string, data []byte, maxRetries int) Result {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(envelope{
		EventType: eventType,
		Timestamp: s.now().UTC(),
		Data:      json.RawMessage(data),
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("encode envelope: %v", err)}
	}

	var attempts atomic.Int32
	httpClient := client.NewHTTPClient(client.HTTPOptions{
		RetryMax:     maxRetries,
		RetryWaitMin: s.cfg.BaseDelay,
		RetryWaitMax: s.cfg.MaxDelay,
		OnAttempt: func(int) {
			attempts.Add(1)
			syncAttempts.WithLabelValues(eventType).Inc()
		},
	})

	url := strings.TrimRight(s.cfg.BaseURL, "/") + endpoint
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := httpClient.Do(req)
	res := Result{}
	if err != nil {
		res.Attempts = int(attempts.Load())
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = "partner sync timed out"
			return res
		}
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()
	res.Attempts = int(attempts.Load())

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Error = fmt.Sprintf("partner responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		return res
	}

	var out partnerResponse
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	res.Success = true
	res.Synced = true
	res.DobbleTapID = out.ID
	return res
}

func (s *Service) enqueue(ctx context.Context, syncType SyncType, endpoint, entityID string, data []byte, lastErr string) error {
	item := &QueueItem{
		ID:         s.node.Generate().String(),
		SyncType:   syncType,
		Endpoint:   endpoint,
		EntityID:   entityID,
		Payload:    datatypes.JSON(data),
		RetryAfter: s.now().UTC().Add(s.cfg.QueueBackoff),
		Status:     ItemPending,
		LastError:  lastErr,
	}
	return s.queue.Create(ctx, item)
}

// Drain delivers due queue items once each. Items are leased inside a short
// transaction and delivered outside it, so concurrent drains never share an
// item and no row lock is held across the network call.
func (s *Service) Drain(ctx context.Context, limit int) (DrainResult, error) {
	ctx, span := tracer.Start(ctx, "partnersync.Drain")
	defer span.End()
	zapLog := logger.WithTrace(ctx)

	if !s.enabled(ctx) {
		return DrainResult{}, nil
	}
	if limit <= 0 {
		limit = s.cfg.DrainBatch
	}

	items, err := s.claim(ctx, limit)
	if err != nil {
		zapLog.Error("failed to claim sync queue items", zap.Error(err))
		return DrainResult{}, err
	}

	out := DrainResult{Claimed: len(items)}
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		eventType, ok := EventType(item.SyncType)
		var res Result
		if !ok {
			res = Result{Error: fmt.Sprintf("unknown sync type %q", item.SyncType)}
		} else {
			res = s.deliver(ctx, eventType, item.Endpoint, item.Payload, 0)
		}

		status, err := s.settle(ctx, item, res)
		if err != nil {
			zapLog.Error("failed to update sync queue item", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}

		switch status {
		case ItemCompleted:
			out.Delivered++
			for _, l := range s.listeners {
				l.Delivered(ctx, item, res.DobbleTapID)
			}
		case ItemFailed:
			out.Failed++
			zapLog.Error("partner sync gave up", zap.String("item_id", item.ID), zap.String("sync_type", string(item.SyncType)), zap.String("error", res.Error))
		default:
			out.Retrying++
		}
	}

	queueDrained.Add(float64(out.Delivered))
	return out, nil
}

func (s *Service) claim(ctx context.Context, limit int) ([]*QueueItem, error) {
	var items []*QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		var err error
		items, err = s.queue.WithTrx(tx).Find(ctx, &QueueItem{Status: ItemPending},
			option.ApplyOperator(option.Condition{Field: "retry_after", Operator: option.LTE, Value: now}),
			option.WithSortBy(option.QuerySortBy{SortBy: "retry_after"}),
			option.WithLimit(limit),
			option.WithSkipLocked(),
		)
		if err != nil || len(items) == 0 {
			return err
		}

		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}

		lease := s.cfg.Timeout
		if lease <= 0 {
			lease = time.Minute
		}
		_, err = s.queue.WithTrx(tx).UpdateWhere(ctx, nil, map[string]any{"retry_after": now.Add(lease)},
			option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}))
		return err
	})
	return items, err
}

func (s *Service) settle(ctx context.Context, item *QueueItem, res Result) (ItemStatus, error) {
	if res.Success {
		err := s.queue.Update(ctx, item.ID, map[string]any{"status": ItemCompleted, "last_error": ""})
		return ItemCompleted, err
	}

	retries := item.RetryCount + 1
	status := ItemPending
	if retries >= s.cfg.QueueMaxRetry {
		status = ItemFailed
	}

	err := s.queue.Update(ctx, item.ID, map[string]any{
		"status":      status,
		"retry_count": retries,
		"retry_after": s.now().UTC().Add(s.cfg.QueueBackoff),
		"last_error":  res.Error,
	})
	return status, err
}

// Pending counts items still waiting for delivery.
func (s *Service) Pending(ctx context.Context) (int64, error) {
	return s.queue.Count(ctx, &QueueItem{Status: ItemPending})
}
