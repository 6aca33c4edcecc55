package httpapi

import (
	"activations-controlplane/services/pricing"

	"github.com/gin-gonic/gin"
)

type pricingParams struct {
	TaskType pricing.TaskType `form:"task_type" binding:"required"`
}

func (h *Handler) pricingBreakdown(c *gin.Context) {
	var req pricingParams
	if !bindQuery(c, &req) {
		return
	}
	baseRate, valid := queryDecimal(c, "base_rate", true)
	if !valid {
		return
	}
	budget, valid := queryDecimal(c, "total_budget", true)
	if !valid {
		return
	}

	rows, err := h.pricing.GetPricingBreakdown(baseRate, req.TaskType, budget)
	ok(c, gin.H{"task_type": req.TaskType, "base_rate": baseRate, "total_budget": budget, "tiers": rows}, err)
}

func (h *Handler) pricingEstimate(c *gin.Context) {
	var req pricingParams
	if !bindQuery(c, &req) {
		return
	}
	baseRate, valid := queryDecimal(c, "base_rate", true)
	if !valid {
		return
	}
	budget, valid := queryDecimal(c, "total_budget", true)
	if !valid {
		return
	}

	est, err := h.pricing.EstimateParticipation(budget, baseRate, req.TaskType)
	ok(c, est, err)
}
