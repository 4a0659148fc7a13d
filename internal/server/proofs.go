package server

import (
	"context"
	"net/http"
	"strings"

	orderdomain "github.com/craftlane/craftlane/internal/order/domain"
	"github.com/gin-gonic/gin"
)

type submitProofRequest struct {
	ActorID string   `json:"actor_id"`
	Images  []string `json:"images"`
	Files   []string `json:"files"`
	Notes   string   `json:"notes"`
}

type proofDecisionRequest struct {
	ActorID        string   `json:"actor_id"`
	Feedback       string   `json:"feedback"`
	ChangeRequests []string `json:"change_requests"`
}

func (s *Server) SubmitProof(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req submitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	providerID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	proof, err := s.orderSvc.SubmitProof(c.Request.Context(), orderdomain.SubmitProofRequest{
		OrderID:    orderID,
		ProviderID: providerID,
		Images:     req.Images,
		Files:      req.Files,
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": proof})
}

func (s *Server) ApproveProof(c *gin.Context) {
	s.decideProof(c, s.orderSvc.ApproveProof)
}

func (s *Server) RejectProof(c *gin.Context) {
	s.decideProof(c, s.orderSvc.RejectProof)
}

func (s *Server) RequestRevision(c *gin.Context) {
	s.decideProof(c, s.orderSvc.RequestRevision)
}

func (s *Server) ListProofs(c *gin.Context) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	proofs, err := s.orderSvc.GetProofs(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": proofs})
}

func (s *Server) decideProof(c *gin.Context, decide func(ctx context.Context, req orderdomain.ProofDecisionRequest) error) {
	orderID, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	proofID, err := parseID(c, "proof_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req proofDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	customerID, err := parseBodyID("actor_id", req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := decide(c.Request.Context(), orderdomain.ProofDecisionRequest{
		OrderID:        orderID,
		ProofID:        proofID,
		CustomerID:     customerID,
		Feedback:       strings.TrimSpace(req.Feedback),
		ChangeRequests: req.ChangeRequests,
	}); err != nil {
		if respondIdempotent(c, err) {
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
