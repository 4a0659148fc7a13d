package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes attaches the API surface. Transition endpoints are POSTs so
// payment-webhook retries replay safely against the idempotent services.
func (s *Server) RegisterRoutes() {
	s.engine.Use(ErrorHandlingMiddleware())

	v1 := s.engine.Group("/v1")

	v1.POST("/bookings/confirm", s.ConfirmBooking)

	orders := v1.Group("/orders")
	orders.GET("/:id", s.GetOrder)
	orders.GET("/:id/escrow", s.GetEscrowStatus)
	orders.GET("/:id/timeline", s.GetTimeline)
	orders.GET("/:id/proofs", s.ListProofs)

	orders.POST("/:id/consultation/complete", s.CompleteConsultation)
	orders.POST("/:id/receive", s.ReceiveOrder)
	orders.POST("/:id/production/start", s.StartProduction)
	orders.POST("/:id/proofs", s.SubmitProof)
	orders.POST("/:id/proofs/:proof_id/approve", s.ApproveProof)
	orders.POST("/:id/proofs/:proof_id/reject", s.RejectProof)
	orders.POST("/:id/proofs/:proof_id/revision", s.RequestRevision)
	orders.POST("/:id/ready", s.MarkReadyForDelivery)
	orders.POST("/:id/ship", s.MarkShipped)
	orders.POST("/:id/delivery/confirm", s.ConfirmDelivery)
	orders.POST("/:id/cancel", s.CancelOrder)
	orders.POST("/:id/override", s.AdminOverride)
	orders.POST("/:id/refunds", s.RequestRefund)

	v1.POST("/refunds/:id/process", s.ProcessRefund)
}

func parseID(c *gin.Context, name string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param(name))
	if raw == "" {
		return 0, newValidationError(name, "invalid_"+name, "missing "+name)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return id, nil
}

func parseBodyID(field, raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newValidationError(field, "invalid_"+field, "missing "+field)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return id, nil
}

func parseOptionalBodyID(field, raw string) (*snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return &id, nil
}
