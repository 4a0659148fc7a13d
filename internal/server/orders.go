package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	orderdomain "github.com/craftlane/craftlane/internal/order/domain"
	"github.com/gin-gonic/gin"
)

type actorRequest struct {
	ActorID string `json:"actor_id"`
}

type startProductionRequest struct {
	ActorID       string `json:"actor_id"`
	EstimatedDays *int   `json:"estimated_days"`
}

type markShippedRequest struct {
	ActorID        string `json:"actor_id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

type confirmDeliveryRequest struct {
	ActorID string `json:"actor_id"`
	Notes   string `json:"notes"`
}

type cancelOrderRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type adminOverrideRequest struct {
	ActorID   string `json:"actor_id"`
	NewStatus string `json:"new_status"`
	Reason    string `json:"reason"`
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ord, err := s.orderSvc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ord})
}

func (s *Server) CompleteConsultation(c *gin.Context) {
	s.transition(c, func(c *gin.Context, orderID, actorID snowflake.ID) error {
		return s.orderSvc.CompleteConsultation(c.Request.Context(), orderID, actorID)
	})
}

func (s *Server) ReceiveOrder(c *gin.Context) {
	s.transition(c, func(c *gin.Context, orderID, actorID snowflake.ID) error {
		return s.orderSvc.ReceiveOrder(c.Request.Context(), orderID, actorID)
	})
}

func (s *Server) StartProduction(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req startProductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	actorID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.StartProduction(c.Request.Context(), orderID, actorID, req.EstimatedDays); err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) MarkReadyForDelivery(c *gin.Context) {
	s.transition(c, func(c *gin.Context, orderID, actorID snowflake.ID) error {
		return s.orderSvc.MarkReadyForDelivery(c.Request.Context(), orderID, actorID)
	})
}

func (s *Server) MarkShipped(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req markShippedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	actorID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.MarkShipped(c.Request.Context(), orderID, actorID,
		strings.TrimSpace(req.TrackingNumber), strings.TrimSpace(req.Carrier)); err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ConfirmDelivery runs the two-step settlement: confirm the order, then
// release the escrow hold. The confirm CAS also misses when another
// transition won the race, so the hold is only released once the order is
// verifiably completed. A release that reports already-processed still
// counts as success, so a replayed confirmation cannot double-pay.
func (s *Server) ConfirmDelivery(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req confirmDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	actorID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := s.orderSvc.ConfirmDelivery(ctx, orderID, actorID, strings.TrimSpace(req.Notes)); err != nil {
		if !errors.Is(err, orderdomain.ErrAlreadyProcessed) {
			AbortWithError(c, err)
			return
		}

		ord, err := s.orderSvc.GetOrder(ctx, orderID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if ord.Status != orderdomain.StatusCompleted {
			// A cancel or override won the race; the payout must not run.
			c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
	}

	status, err := s.escrowSvc.GetStatus(ctx, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.escrowSvc.Release(ctx, status.HoldID, orderID); err != nil {
		if !errors.Is(err, escrowdomain.ErrAlreadyProcessed) {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	actorID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.Cancel(c.Request.Context(), orderID, actorID, strings.TrimSpace(req.Reason)); err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) AdminOverride(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adminOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	actorID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.AdminOverride(c.Request.Context(), orderdomain.AdminOverrideRequest{
		OrderID:   orderID,
		NewStatus: orderdomain.OrderStatus(strings.TrimSpace(req.NewStatus)),
		ActorID:   actorID,
		Reason:    strings.TrimSpace(req.Reason),
	}); err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// transition handles the transitions whose request body is just the actor.
func (s *Server) transition(c *gin.Context, fn func(c *gin.Context, orderID, actorID snowflake.ID) error) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	actorID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := fn(c, orderID, actorID); err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
