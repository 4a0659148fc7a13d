package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/notifier"
	"github.com/craftlane/craftlane/internal/order/domain"
	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	pkgdb "github.com/craftlane/craftlane/pkg/db"
	"gorm.io/datatypes"
)

const proofInsertAttempts = 3

func (s *Service) SubmitProof(ctx context.Context, req domain.SubmitProofRequest) (*domain.ProductionProof, error) {
	if len(req.Images) == 0 && len(req.Files) == 0 {
		return nil, domain.ErrInvalidInput
	}

	ord, err := s.loadProviderOrder(ctx, req.OrderID, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if ord.Status != domain.StatusInProduction {
		return nil, domain.ErrInvalidState
	}

	images, err := marshalList(req.Images)
	if err != nil {
		return nil, err
	}
	files, err := marshalList(req.Files)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	proof := domain.ProductionProof{
		ID:            s.genID.Generate(),
		OrderID:       req.OrderID,
		Images:        images,
		Files:         files,
		ProviderNotes: strings.TrimSpace(req.Notes),
		Status:        domain.ProofStatusPending,
		CreatedAt:     now,
	}

	// Version assignment races with concurrent submissions; the unique
	// (order_id, version) index arbitrates and the loser recomputes.
	inserted := false
	for attempt := 0; attempt < proofInsertAttempts; attempt++ {
		res := s.db.WithContext(ctx).Exec(
			`INSERT INTO production_proofs (
				id, order_id, version, images, files, provider_notes,
				customer_notes, change_requests, status, created_at, decided_at
			) SELECT ?, ?, COALESCE(MAX(version), 0) + 1, ?, ?, ?, '', NULL, ?, ?, NULL
			FROM production_proofs WHERE order_id = ?`,
			proof.ID,
			proof.OrderID,
			proof.Images,
			proof.Files,
			proof.ProviderNotes,
			string(proof.Status),
			proof.CreatedAt,
			proof.OrderID,
		)
		if res.Error == nil && res.RowsAffected > 0 {
			inserted = true
			break
		}
		if res.Error != nil && !pkgdb.IsDuplicateKeyErr(res.Error) {
			return nil, res.Error
		}
	}
	if !inserted {
		return nil, domain.ErrAlreadyProcessed
	}

	var versions []int
	if err := s.db.WithContext(ctx).Raw(
		`SELECT version FROM production_proofs WHERE id = ?`,
		proof.ID,
	).Scan(&versions).Error; err != nil {
		return nil, err
	}
	if len(versions) > 0 {
		proof.Version = versions[0]
	}

	if err := s.transition(ctx, ord, domain.StatusPendingApproval,
		map[string]any{"proofs_submitted_at": now},
		timelinedomain.EventProofSubmitted, req.ProviderID, map[string]any{
			"proof_id": proof.ID.String(),
			"version":  proof.Version,
		},
		notifier.EventProofSubmitted, ord.CustomerID,
	); err != nil {
		return nil, err
	}
	return &proof, nil
}

func (s *Service) ApproveProof(ctx context.Context, req domain.ProofDecisionRequest) error {
	return s.decideProof(ctx, req, domain.ProofStatusApproved)
}

func (s *Service) RejectProof(ctx context.Context, req domain.ProofDecisionRequest) error {
	return s.decideProof(ctx, req, domain.ProofStatusRejected)
}

func (s *Service) RequestRevision(ctx context.Context, req domain.ProofDecisionRequest) error {
	if len(req.ChangeRequests) == 0 && strings.TrimSpace(req.Feedback) == "" {
		return domain.ErrInvalidInput
	}
	return s.decideProof(ctx, req, domain.ProofStatusRevisionRequested)
}

func (s *Service) decideProof(ctx context.Context, req domain.ProofDecisionRequest, decision domain.ProofStatus) error {
	ord, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if ord.CustomerID != req.CustomerID {
		return domain.ErrForbidden
	}
	if ord.Status != domain.StatusPendingApproval {
		return domain.ErrInvalidState
	}

	latest, err := s.latestProof(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if latest == nil {
		return domain.ErrNotFound
	}
	// Only the latest proof is active for approval.
	if req.ProofID != 0 && req.ProofID != latest.ID {
		return domain.ErrInvalidState
	}
	if latest.Status != domain.ProofStatusPending {
		return domain.ErrAlreadyProcessed
	}

	changeRequests, err := marshalList(req.ChangeRequests)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE production_proofs
		 SET status = ?, customer_notes = ?, change_requests = ?, decided_at = ?
		 WHERE id = ? AND status = ?`,
		string(decision),
		strings.TrimSpace(req.Feedback),
		changeRequests,
		now,
		latest.ID,
		string(domain.ProofStatusPending),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyProcessed
	}

	metadata := map[string]any{
		"proof_id": latest.ID.String(),
		"version":  latest.Version,
	}

	switch decision {
	case domain.ProofStatusApproved:
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE orders SET proof_approved_at = ?, updated_at = ? WHERE id = ?`,
			now,
			now,
			ord.ID,
		).Error; err != nil {
			return s.partialFailure("approve_proof", ord.ID, err)
		}
		if _, err := s.timelineSvc.Append(ctx, ord.ID, timelinedomain.EventProofApproved, req.CustomerID, metadata); err != nil {
			return s.partialFailure("approve_proof", ord.ID, err)
		}
	case domain.ProofStatusRejected:
		// A rejected proof sends the order back to production for a fresh
		// submission.
		if err := s.transition(ctx, ord, domain.StatusInProduction, nil,
			timelinedomain.EventProofRejected, req.CustomerID, metadata, "", 0); err != nil {
			return err
		}
	case domain.ProofStatusRevisionRequested:
		if err := s.transition(ctx, ord, domain.StatusInProduction, nil,
			timelinedomain.EventRevisionRequested, req.CustomerID, metadata, "", 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetProofs(ctx context.Context, orderID snowflake.ID) ([]domain.ProductionProof, error) {
	if orderID == 0 {
		return nil, domain.ErrInvalidInput
	}
	var proofs []domain.ProductionProof
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("version asc").
		Find(&proofs).Error; err != nil {
		return nil, err
	}
	return proofs, nil
}

func (s *Service) latestProof(ctx context.Context, orderID snowflake.ID) (*domain.ProductionProof, error) {
	var proofs []domain.ProductionProof
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("version desc").
		Limit(1).
		Find(&proofs).Error; err != nil {
		return nil, err
	}
	if len(proofs) == 0 {
		return nil, nil
	}
	return &proofs[0], nil
}

func marshalList(values []string) (datatypes.JSON, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
