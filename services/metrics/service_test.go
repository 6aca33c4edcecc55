package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"activations-controlplane/pkg/celengine"
	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/featureflags"
	"activations-controlplane/services/activation"
	"activations-controlplane/services/pricing"
	"activations-controlplane/services/scoring"
	"activations-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSequence struct {
	n atomic.Int64
}

func (f *fakeSequence) NextActivationCode(context.Context, string) (string, error) {
	return fmt.Sprintf("ACT-%d", f.n.Add(1)), nil
}

func (f *fakeSequence) NextSubmissionCode(context.Context, string) (string, error) {
	return fmt.Sprintf("SUB-%d", f.n.Add(1)), nil
}

func newActivations(t *testing.T) *activation.Service {
	t.Helper()

	db := testutil.NewTestDB(t, activation.Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	rules, err := celengine.NewEngine()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.MinContestBudget = 2000

	return activation.NewService(activation.ServiceParams{
		DB: db, Node: node, Seq: &fakeSequence{}, Config: cfg, Pricing: pricing.DefaultModel(), Rules: rules,
	})
}

// liveContest creates a contest, publishes it directly in the store and adds
// one submission per handle.
func liveContest(t *testing.T, acts *activation.Service, handles ...string) (*activation.Activation, []*activation.Submission) {
	t.Helper()
	ctx := context.Background()

	a, err := acts.Create(ctx, activation.CreateParams{WorkspaceID: "ws-1", Type: activation.TypeContest, Title: "Contest", TotalBudget: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	store, _ := acts.Repositories()
	require.NoError(t, store.Update(ctx, a.ID, map[string]any{"status": activation.StatusLive}))

	var subs []*activation.Submission
	for _, h := range handles {
		_, sub, err := acts.CreateSubmission(ctx, activation.SubmissionParams{ActivationID: a.ID, CreatorHandle: h, CreatorPlatform: "tiktok", PostURL: "https://t/" + h})
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	return a, subs
}

func newService(provider Provider, acts *activation.Service) *Service {
	cfg := &config.Config{}
	cfg.MetricsScraper.Concurrency = 2
	return NewService(ServiceParams{Provider: provider, Activations: acts, Flags: featureflags.Static{}, Config: cfg})
}

func TestRefreshSubmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	acts := newActivations(t)
	_, subs := liveContest(t, acts, "ada")

	provider.EXPECT().
		ScrapeMetrics(gomock.Any(), ScrapeRequest{SubmissionID: subs[0].ID, PostURL: "https://t/ada", Platform: "tiktok"}).
		Return(scoring.Metrics{Views: 1000, Likes: 50, Comments: 10}, nil)

	got, err := newService(provider, acts).RefreshSubmission(context.Background(), subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, int64(1130), got.PerformanceScore)
}

func TestRefreshSubmissionProviderDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	acts := newActivations(t)
	_, subs := liveContest(t, acts, "ada")

	provider.EXPECT().ScrapeMetrics(gomock.Any(), gomock.Any()).Return(scoring.Metrics{}, errors.New("timeout"))

	_, err := newService(provider, acts).RefreshSubmission(context.Background(), subs[0].ID)
	require.True(t, errutil.Is(err, errutil.StatusServiceUnavailable))
}

func TestRefreshActivationIsBestEffort(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	acts := newActivations(t)
	a, _ := liveContest(t, acts, "ada", "bo", "cy")

	provider.EXPECT().ScrapeMetrics(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req ScrapeRequest) (scoring.Metrics, error) {
		if req.PostURL == "https://t/bo" {
			return scoring.Metrics{}, errors.New("post removed")
		}
		return scoring.Metrics{Views: 10}, nil
	}).Times(3)

	res, err := newService(provider, acts).RefreshActivation(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, RefreshResult{Total: 3, Refreshed: 2, Failed: 1}, res)
}

func TestRefreshActivationRequiresLive(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	acts := newActivations(t)

	a, err := acts.Create(context.Background(), activation.CreateParams{WorkspaceID: "ws-1", Type: activation.TypeContest, Title: "Draft", TotalBudget: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	_, err = newService(provider, acts).RefreshActivation(context.Background(), a.ID)
	require.True(t, errutil.Is(err, errutil.StatusConflict))
}

func TestHTTPProvider(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.Equal(t, "/scrape", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var in ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "sub-1", in.SubmissionID)

		_ = json.NewEncoder(w).Encode(scoring.Metrics{Views: 7, Likes: 2, Comments: 1})
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.MetricsScraper.BaseURL = srv.URL
	cfg.MetricsScraper.APIKey = "key"
	cfg.MetricsScraper.MaxRetries = 1
	cfg.MetricsScraper.Timeout = 10 * time.Second

	m, err := NewHTTPProvider(cfg).ScrapeMetrics(context.Background(), ScrapeRequest{SubmissionID: "sub-1", PostURL: "https://t/1", Platform: "tiktok"})
	require.NoError(t, err)
	require.Equal(t, scoring.Metrics{Views: 7, Likes: 2, Comments: 1}, m)
	require.Equal(t, int32(2), hits.Load())
}

func TestRefreshSubmissionRateLimited(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)
	acts := newActivations(t)
	_, subs := liveContest(t, acts, "ada")

	provider.EXPECT().ScrapeMetrics(gomock.Any(), gomock.Any()).Return(scoring.Metrics{Views: 1}, nil).Times(1)

	cfg := &config.Config{}
	cfg.MetricsScraper.Concurrency = 1
	cfg.MetricsScraper.RatePerSecond = 0.001
	svc := NewService(ServiceParams{Provider: provider, Activations: acts, Flags: featureflags.Static{}, Config: cfg})

	_, err := svc.RefreshSubmission(context.Background(), subs[0].ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.RefreshSubmission(ctx, subs[0].ID)
	require.True(t, errutil.Is(err, errutil.StatusServiceUnavailable))
}
