package httpapi

import (
	"activations-controlplane/services/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi.handler",
	fx.Provide(
		NewHandler,
		func(s *task.Service) RescrapeQueue { return s },
	),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.Register(r) }),
)
