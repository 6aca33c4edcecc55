package metrics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/featureflags"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/services/activation"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type RefreshResult struct {
	Total     int `json:"total"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

type Service struct {
	provider    Provider
	activations *activation.Service
	flags       featureflags.FeatureFlag
	concurrency int
	timeout     time.Duration
	// limiter paces calls to the scraper across requests; nil means no limit.
	limiter *rate.Limiter
}

type ServiceParams struct {
	fx.In

	Provider    Provider
	Activations *activation.Service
	Flags       featureflags.FeatureFlag
	Config      *config.Config
}

func NewService(p ServiceParams) *Service {
	concurrency := p.Config.MetricsScraper.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	svc := &Service{
		provider:    p.Provider,
		activations: p.Activations,
		flags:       p.Flags,
		concurrency: concurrency,
		timeout:     p.Config.MetricsScraper.Timeout,
	}
	if rps := p.Config.MetricsScraper.RatePerSecond; rps > 0 {
		svc.limiter = rate.NewLimiter(rate.Limit(rps), concurrency)
	}
	return svc
}

// RefreshSubmission scrapes one submission and stores its new score.
func (s *Service) RefreshSubmission(ctx context.Context, submissionID string) (*activation.Submission, error) {
	sub, err := s.activations.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	a, err := s.activations.Get(ctx, sub.ActivationID)
	if err != nil {
		return nil, err
	}
	if a.Status != activation.StatusLive {
		return nil, errutil.Conflict(fmt.Sprintf("activation is %s; metrics are frozen", a.Status), nil)
	}

	return s.refresh(ctx, sub)
}

func (s *Service) refresh(ctx context.Context, sub *activation.Submission) (*activation.Submission, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, errutil.ServiceUnavailable("scraper rate limit wait aborted", err)
		}
	}

	m, err := s.provider.ScrapeMetrics(ctx, ScrapeRequest{
		SubmissionID: sub.ID,
		PostURL:      sub.PostURL,
		Platform:     sub.CreatorPlatform,
	})
	if err != nil {
		return nil, errutil.ServiceUnavailable("failed to scrape submission metrics", err)
	}

	return s.activations.UpdateMetrics(ctx, sub.ID, m)
}

// RefreshActivation rescrapes every live submission of an activation. A
// failing submission is counted and skipped; it never stops the others.
func (s *Service) RefreshActivation(ctx context.Context, activationID string) (RefreshResult, error) {
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", activationID))

	if !s.flags.Enabled(ctx, featureflags.MetricsRefresh, true) {
		zapLog.Info("metrics refresh disabled")
		return RefreshResult{}, nil
	}

	a, err := s.activations.Get(ctx, activationID)
	if err != nil {
		return RefreshResult{}, err
	}
	if a.Status != activation.StatusLive {
		return RefreshResult{}, errutil.Conflict(fmt.Sprintf("activation is %s; metrics are frozen", a.Status), nil)
	}

	subs, _, err := s.activations.ScoredSubmissions(ctx, nil, a.ID)
	if err != nil {
		return RefreshResult{}, errutil.Internal("failed to load submissions", err)
	}

	var refreshed, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			if _, err := s.refresh(gctx, sub); err != nil {
				failed.Add(1)
				zapLog.Warn("failed to refresh submission metrics", zap.String("submission_id", sub.ID), zap.Error(err))
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := RefreshResult{Total: len(subs), Refreshed: int(refreshed.Load()), Failed: int(failed.Load())}
	zapLog.Info("activation metrics refreshed", zap.Int("total", res.Total), zap.Int("refreshed", res.Refreshed), zap.Int("failed", res.Failed))
	return res, nil
}
