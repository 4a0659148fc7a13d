package server

import (
	"net/http"
	"strings"

	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	"github.com/gin-gonic/gin"
)

type requestRefundRequest struct {
	ActorID string `json:"actor_id"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
	Notes   string `json:"notes"`
}

type processRefundRequest struct {
	ActorID    string `json:"actor_id"`
	PaymentRef string `json:"payment_ref"`
}

func (s *Server) GetEscrowStatus(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.escrowSvc.GetStatus(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) RequestRefund(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req requestRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	requestedBy, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.escrowSvc.GetStatus(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	refund, err := s.escrowSvc.RequestRefund(c.Request.Context(), escrowdomain.RequestRefundRequest{
		OrderID:     orderID,
		HoldID:      status.HoldID,
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
		Notes:       strings.TrimSpace(req.Notes),
		RequestedBy: requestedBy,
	})
	if err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) ProcessRefund(c *gin.Context) {
	refundID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req processRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	approvedBy, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.escrowSvc.ProcessRefund(c.Request.Context(), escrowdomain.ProcessRefundRequest{
		RefundID:   refundID,
		ApprovedBy: approvedBy,
		PaymentRef: strings.TrimSpace(req.PaymentRef),
	}); err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
