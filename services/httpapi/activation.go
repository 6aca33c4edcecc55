package httpapi

import (
	"net/http"

	"activations-controlplane/pkg/db/pagination"
	"activations-controlplane/services/activation"
	"activations-controlplane/services/settlement"

	"github.com/gin-gonic/gin"
)

type publishRequest struct {
	ActivationID string `json:"activationId" binding:"required"`
}

type finalizeRequest struct {
	ActivationID string              `json:"activationId" binding:"required"`
	Winners      []settlement.Winner `json:"winners" binding:"dive"`
}

type scrapeRequest struct {
	SubmissionID string `json:"submissionId" binding:"required"`
}

func (h *Handler) publish(c *gin.Context) {
	var req publishRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.settlement.Publish(c.Request.Context(), req.ActivationID)
	ok(c, res, err)
}

func (h *Handler) finalizeWinners(c *gin.Context) {
	var req finalizeRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.settlement.FinalizeWinners(c.Request.Context(), req.ActivationID, req.Winners)
	ok(c, res, err)
}

func (h *Handler) scrapeSubmission(c *gin.Context) {
	var req scrapeRequest
	if !bindJSON(c, &req) {
		return
	}
	sub, err := h.metrics.RefreshSubmission(c.Request.Context(), req.SubmissionID)
	ok(c, sub, err)
}

func (h *Handler) createActivation(c *gin.Context) {
	var req activation.CreateParams
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.activations.Create(c.Request.Context(), req)
	respond(c, http.StatusCreated, a, err)
}

func (h *Handler) listActivations(c *gin.Context) {
	var (
		req  activation.ListParams
		page pagination.Pagination
	)
	if !bindQuery(c, &req) || !bindQuery(c, &page) {
		return
	}
	rows, info, err := h.activations.List(c.Request.Context(), req, page)
	ok(c, listResponse[activation.Activation]{Data: rows, PageInfo: info}, err)
}

func (h *Handler) getActivation(c *gin.Context) {
	a, err := h.activations.Get(c.Request.Context(), c.Param("id"))
	ok(c, a, err)
}

func (h *Handler) updateActivation(c *gin.Context) {
	var req activation.UpdateParams
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.activations.Update(c.Request.Context(), c.Param("id"), req)
	ok(c, a, err)
}

func (h *Handler) deleteActivation(c *gin.Context) {
	if err := h.activations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) leaderboard(c *gin.Context) {
	lb, err := h.activations.Leaderboard(c.Request.Context(), c.Param("id"))
	ok(c, lb, err)
}

type submissionQuery struct {
	Status activation.SubmissionStatus `form:"status"`
}

func (h *Handler) listSubmissions(c *gin.Context) {
	var (
		req  submissionQuery
		page pagination.Pagination
	)
	if !bindQuery(c, &req) || !bindQuery(c, &page) {
		return
	}
	rows, info, err := h.activations.ListSubmissions(c.Request.Context(), c.Param("id"), req.Status, page)
	ok(c, listResponse[activation.Submission]{Data: rows, PageInfo: info}, err)
}

func (h *Handler) createSubmission(c *gin.Context) {
	var req activation.SubmissionParams
	if !bindJSON(c, &req) {
		return
	}
	req.ActivationID = c.Param("id")
	sub, err := h.settlement.Submit(c.Request.Context(), req)
	respond(c, http.StatusCreated, sub, err)
}

func (h *Handler) complete(c *gin.Context) {
	res, err := h.settlement.Complete(c.Request.Context(), c.Param("id"))
	ok(c, res, err)
}

func (h *Handler) cancel(c *gin.Context) {
	res, err := h.settlement.Cancel(c.Request.Context(), c.Param("id"))
	ok(c, res, err)
}

func (h *Handler) refreshMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := h.activations.Get(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	job, err := h.rescrape.EnqueueRescrape(ctx, a.ID)
	respond(c, http.StatusAccepted, job, err)
}

func (h *Handler) approve(c *gin.Context) {
	sub, err := h.settlement.Approve(c.Request.Context(), c.Param("id"))
	ok(c, sub, err)
}

func (h *Handler) reject(c *gin.Context) {
	sub, err := h.settlement.Reject(c.Request.Context(), c.Param("id"))
	ok(c, sub, err)
}
