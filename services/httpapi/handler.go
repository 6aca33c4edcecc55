package httpapi

import (
	"context"
	"net/http"

	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/db/pagination"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/middleware"
	"activations-controlplane/services/activation"
	"activations-controlplane/services/metrics"
	"activations-controlplane/services/pricing"
	"activations-controlplane/services/settlement"
	"activations-controlplane/services/task"
	"activations-controlplane/services/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// RescrapeQueue queues a background metrics refresh.
type RescrapeQueue interface {
	EnqueueRescrape(ctx context.Context, activationID string) (*task.Job, error)
}

type Handler struct {
	activations *activation.Service
	settlement  *settlement.Service
	wallet      *wallet.Service
	metrics     *metrics.Service
	pricing     pricing.Model
	rescrape    RescrapeQueue
	apiKeys     []string
}

type Params struct {
	fx.In

	Config      *config.Config
	Activations *activation.Service
	Settlement  *settlement.Service
	Wallet      *wallet.Service
	Metrics     *metrics.Service
	Pricing     pricing.Model
	Rescrape    RescrapeQueue
}

func NewHandler(p Params) *Handler {
	return &Handler{
		activations: p.Activations,
		settlement:  p.Settlement,
		wallet:      p.Wallet,
		metrics:     p.Metrics,
		pricing:     p.Pricing,
		rescrape:    p.Rescrape,
		apiKeys:     p.Config.Server.APIKeys,
	}
}

// Register mounts every /v1 route on r.
func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/v1", middleware.APIKey(h.apiKeys))

	v1.POST("/activation-publish", h.publish)
	v1.POST("/finalize-winners", h.finalizeWinners)
	v1.POST("/scrape-submission", h.scrapeSubmission)

	v1.POST("/activations", h.createActivation)
	v1.GET("/activations", h.listActivations)
	v1.GET("/activations/:id", h.getActivation)
	v1.PATCH("/activations/:id", h.updateActivation)
	v1.DELETE("/activations/:id", h.deleteActivation)
	v1.GET("/activations/:id/leaderboard", h.leaderboard)
	v1.GET("/activations/:id/submissions", h.listSubmissions)
	v1.POST("/activations/:id/submissions", h.createSubmission)
	v1.POST("/activations/:id/complete", h.complete)
	v1.POST("/activations/:id/cancel", h.cancel)
	v1.POST("/activations/:id/refresh-metrics", h.refreshMetrics)

	v1.POST("/submissions/:id/approve", h.approve)
	v1.POST("/submissions/:id/reject", h.reject)

	v1.GET("/wallets/:workspaceId", h.getWallet)
	v1.POST("/wallets/:workspaceId/deposit", h.deposit)
	v1.PUT("/wallets/:workspaceId/daily-limit", h.setDailyLimit)
	v1.GET("/wallets/:workspaceId/transactions", h.listTransactions)
	v1.GET("/wallets/:workspaceId/verify", h.verifyWallet)

	v1.GET("/pricing/breakdown", h.pricingBreakdown)
	v1.GET("/pricing/estimate", h.pricingEstimate)
}

type listResponse[T any] struct {
	Data     []*T                `json:"data"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, v any) bool {
	if err := c.ShouldBindQuery(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return false
	}
	return true
}

func queryDecimal(c *gin.Context, name string, required bool) (decimal.Decimal, bool) {
	raw := c.Query(name)
	if raw == "" {
		if required {
			_ = c.Error(errutil.BadRequest(name+" is required", nil, errutil.WithField(name, "required")))
			return decimal.Zero, false
		}
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		_ = c.Error(errutil.BadRequest(name+" must be a number", err, errutil.WithField(name, "invalid number")))
		return decimal.Zero, false
	}
	return d, true
}

func respond(c *gin.Context, code int, v any, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(code, v)
}

func ok(c *gin.Context, v any, err error) {
	respond(c, http.StatusOK, v, err)
}
