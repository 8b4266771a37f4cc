package reconcile

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksred/steam-billing-api/pkg/response"
)

// RunRequest optionally overrides the report window start
type RunRequest struct {
	Since *time.Time `json:"since"`
}

// GinHandlers exposes manual reconciliation runs to internal clients
type GinHandlers struct {
	processor *Processor
}

func NewGinHandlers(processor *Processor) *GinHandlers {
	return &GinHandlers{processor: processor}
}

// RunHandler handles POST requests that run one reconciliation tick
func (h *GinHandlers) RunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RunRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.BadRequest(c, "Invalid request body")
				return
			}
		}

		var (
			result TickResult
			err    error
		)
		if req.Since != nil {
			result, err = h.processor.RunSince(c.Request.Context(), *req.Since)
		} else {
			result, err = h.processor.RunOnce(c.Request.Context())
		}
		response.Handle(c, result, err)
	}
}
