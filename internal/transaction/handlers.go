package transaction

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/steam-billing-api/pkg/response"
)

// GinHandlers exposes reconciled transactions to internal clients
type GinHandlers struct {
	store Store
}

func NewGinHandlers(store Store) *GinHandlers {
	return &GinHandlers{store: store}
}

// GetTransactionHandler handles GET requests for one stored transaction
// URL parameters: order_id, trans_id
func (h *GinHandlers) GetTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		transID := c.Param("trans_id")
		if orderID == "" || transID == "" {
			response.BadRequest(c, "Order ID and trans ID are required")
			return
		}

		tx, err := h.store.Find(c.Request.Context(), orderID, transID)
		response.Handle(c, tx, err)
	}
}
