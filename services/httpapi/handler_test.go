package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"activations-controlplane/pkg/celengine"
	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/featureflags"
	"activations-controlplane/pkg/middleware"
	"activations-controlplane/services/activation"
	"activations-controlplane/services/metrics"
	"activations-controlplane/services/partnersync"
	"activations-controlplane/services/pricing"
	"activations-controlplane/services/scoring"
	"activations-controlplane/services/settlement"
	"activations-controlplane/services/task"
	"activations-controlplane/services/testutil"
	"activations-controlplane/services/wallet"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fakeSequence struct {
	n atomic.Int64
}

func (f *fakeSequence) NextActivationCode(context.Context, string) (string, error) {
	return fmt.Sprintf("ACT-%03d", f.n.Add(1)), nil
}

func (f *fakeSequence) NextSubmissionCode(context.Context, string) (string, error) {
	return fmt.Sprintf("SUB-%03d", f.n.Add(1)), nil
}

type skipSync struct{}

func (skipSync) Sync(context.Context, partnersync.SyncType, string, any, string, partnersync.Options) partnersync.Result {
	return partnersync.Result{Skipped: true, Error: "partner sync disabled"}
}

func (skipSync) DefaultOptions() partnersync.Options { return partnersync.Options{} }

type fakeQueue struct {
	queued []string
}

func (f *fakeQueue) EnqueueRescrape(_ context.Context, activationID string) (*task.Job, error) {
	f.queued = append(f.queued, activationID)
	return &task.Job{ID: "job-1", ActivationID: activationID, Status: task.JobPending}, nil
}

type testAPI struct {
	router   *gin.Engine
	provider *metrics.MockProvider
	queue    *fakeQueue
}

func newTestAPI(t *testing.T, apiKeys ...string) *testAPI {
	t.Helper()

	models := append(activation.Models(), wallet.Models()...)
	db := testutil.NewTestDB(t, append(models, settlement.Models()...)...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	rules, err := celengine.NewEngine()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.APIKeys = apiKeys
	cfg.Settlement.ServiceFeeRate = 0.10
	cfg.Settlement.MinContestBudget = 2000

	acts := activation.NewService(activation.ServiceParams{
		DB: db, Node: node, Seq: &fakeSequence{}, Config: cfg, Pricing: pricing.DefaultModel(), Rules: rules,
	})
	w := wallet.NewService(wallet.ServiceParams{DB: db, Node: node})
	settle := settlement.NewService(settlement.ServiceParams{
		DB: db, Node: node, Config: cfg, Activations: acts, Wallet: w, Pricing: pricing.DefaultModel(), Sync: skipSync{},
	})

	provider := metrics.NewMockProvider(gomock.NewController(t))
	m := metrics.NewService(metrics.ServiceParams{
		Provider: provider, Activations: acts, Flags: featureflags.Static{}, Config: cfg,
	})
	queue := &fakeQueue{}

	h := NewHandler(Params{
		Config: cfg, Activations: acts, Settlement: settle, Wallet: w, Metrics: m, Pricing: pricing.DefaultModel(), Rescrape: queue,
	})

	r := gin.New()
	r.Use(middleware.Error())
	h.Register(r)
	return &testAPI{router: r, provider: provider, queue: queue}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, "test-key")

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func decimalField(t *testing.T, v any) decimal.Decimal {
	t.Helper()
	s, isString := v.(string)
	require.True(t, isString, "expected a decimal string, got %T", v)
	return decimal.RequireFromString(s)
}

func TestContestLifecycle(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodPost, "/v1/activations", map[string]any{
		"workspace_id": "ws-1",
		"type":         "contest",
		"title":        "Dance Off",
		"total_budget": "100000",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := body["id"].(string)

	w, body = api.do(t, http.MethodPost, "/v1/activation-publish", map[string]any{"activationId": id})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, string(errutil.StatusValidationFailed), body["code"])

	w, _ = api.do(t, http.MethodPost, "/v1/wallets/ws-1/deposit", map[string]any{"amount": "200000", "idempotency_key": "k1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body = api.do(t, http.MethodPost, "/v1/activation-publish", map[string]any{"activationId": id})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decimalField(t, body["service_fee"]).Equal(decimal.NewFromInt(10000)))

	w, body = api.do(t, http.MethodPost, "/v1/activations/"+id+"/submissions", map[string]any{
		"creator_id":       "c-1",
		"creator_handle":   "@ana",
		"creator_platform": "tiktok",
		"post_url":         "https://tiktok.com/@ana/video/1",
		"views":            1000,
		"likes":            50,
		"comments":         10,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	subID := body["id"].(string)

	w, body = api.do(t, http.MethodGet, "/v1/activations/"+id+"/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	require.EqualValues(t, 1130, entries[0].(map[string]any)["cumulative_score"])

	api.provider.EXPECT().ScrapeMetrics(gomock.Any(), gomock.Any()).Return(scoring.Metrics{Views: 2000}, nil)
	w, body = api.do(t, http.MethodPost, "/v1/scrape-submission", map[string]any{"submissionId": subID})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2000, body["performance_score"])

	w, body = api.do(t, http.MethodPost, "/v1/finalize-winners", map[string]any{
		"activationId": id,
		"winners":      []map[string]any{{"submissionId": subID, "rank": 1}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decimalField(t, body["total_paid"]).Equal(decimal.NewFromInt(25000)))

	w, body = api.do(t, http.MethodGet, "/v1/wallets/ws-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// 200000 - 110000 + 75000
	require.True(t, decimalField(t, body["balance"]).Equal(decimal.NewFromInt(165000)))

	w, body = api.do(t, http.MethodGet, "/v1/wallets/ws-1/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["valid"])
}

func TestErrorsUseCodeBody(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   errutil.CoreStatus
	}{
		{name: "missing activation", method: http.MethodGet, path: "/v1/activations/nope", status: http.StatusNotFound, code: errutil.StatusNotFound},
		{name: "bad publish body", method: http.MethodPost, path: "/v1/activation-publish", body: map[string]any{}, status: http.StatusBadRequest, code: errutil.StatusBadRequest},
		{name: "invalid type", method: http.MethodPost, path: "/v1/activations", body: map[string]any{"workspace_id": "ws-1", "type": "raffle", "title": "x"}, status: http.StatusBadRequest, code: errutil.StatusValidationFailed},
		{name: "pricing missing rate", method: http.MethodGet, path: "/v1/pricing/breakdown?task_type=like&total_budget=1000", status: http.StatusBadRequest, code: errutil.StatusBadRequest},
		{name: "unknown submission", method: http.MethodPost, path: "/v1/submissions/nope/approve", status: http.StatusNotFound, code: errutil.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := api.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code)
			require.Equal(t, string(tt.code), body["code"])
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestPricingEndpoints(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodGet, "/v1/pricing/breakdown?task_type=like&base_rate=100&total_budget=10000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["tiers"], 5)

	w, _ = api.do(t, http.MethodGet, "/v1/pricing/estimate?task_type=story&base_rate=100&total_budget=10000", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshMetricsQueuesJob(t *testing.T) {
	api := newTestAPI(t)

	_, body := api.do(t, http.MethodPost, "/v1/activations", map[string]any{
		"workspace_id": "ws-1",
		"type":         "contest",
		"title":        "Dance Off",
		"total_budget": "0",
	})
	id := body["id"].(string)

	w, body := api.do(t, http.MethodPost, "/v1/activations/"+id+"/refresh-metrics", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "job-1", body["id"])
	require.Equal(t, []string{id}, api.queue.queued)
}

func TestAPIKeyRequired(t *testing.T) {
	api := newTestAPI(t, "prod-key")

	w, body := api.do(t, http.MethodGet, "/v1/wallets/ws-1", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, string(errutil.StatusUnauthorized), body["code"])
}

func (a *testAPI) liveContest(t *testing.T, handles ...string) (string, []string) {
	t.Helper()

	w, body := a.do(t, http.MethodPost, "/v1/activations", map[string]any{
		"workspace_id": "ws-1", "type": "contest", "title": "Dance Off", "total_budget": "100000",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := body["id"].(string)

	w, _ = a.do(t, http.MethodPost, "/v1/wallets/ws-1/deposit", map[string]any{"amount": "200000", "idempotency_key": "k-" + id})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = a.do(t, http.MethodPost, "/v1/activation-publish", map[string]any{"activationId": id})
	require.Equal(t, http.StatusOK, w.Code)

	var subs []string
	for i, h := range handles {
		w, body = a.do(t, http.MethodPost, "/v1/activations/"+id+"/submissions", map[string]any{
			"creator_handle":   h,
			"creator_platform": "tiktok",
			"post_url":         "https://tiktok.com/" + h + "/video/1",
			"views":            1000 - i,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		subs = append(subs, body["id"].(string))
	}
	return id, subs
}

func TestFinalizeWinnersHonoursPrizeAmount(t *testing.T) {
	api := newTestAPI(t)
	id, subs := api.liveContest(t, "@ana", "@bo")

	w, body := api.do(t, http.MethodPost, "/v1/finalize-winners", map[string]any{
		"activationId": id,
		"winners": []map[string]any{
			{"submissionId": subs[0], "rank": 1, "prizeAmount": "1000"},
			{"submissionId": subs[1], "rank": 2},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	// 1000 requested for rank 1, rank 2 keeps its 15000 default
	require.True(t, decimalField(t, body["total_paid"]).Equal(decimal.NewFromInt(16000)))

	w, body = api.do(t, http.MethodGet, "/v1/wallets/ws-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// 200000 - 110000 + 84000 refunded
	require.True(t, decimalField(t, body["balance"]).Equal(decimal.NewFromInt(174000)))
}

func TestFinalizeWinnersValidatesEachWinner(t *testing.T) {
	api := newTestAPI(t)
	id, subs := api.liveContest(t, "@ana")

	tests := []struct {
		name   string
		winner map[string]any
	}{
		{name: "missing submission", winner: map[string]any{"rank": 1}},
		{name: "missing rank", winner: map[string]any{"submissionId": subs[0]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := api.do(t, http.MethodPost, "/v1/finalize-winners", map[string]any{
				"activationId": id,
				"winners":      []map[string]any{tt.winner},
			})
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Equal(t, string(errutil.StatusBadRequest), body["code"])
		})
	}

	w, body := api.do(t, http.MethodGet, "/v1/activations/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "live", body["status"])
}
