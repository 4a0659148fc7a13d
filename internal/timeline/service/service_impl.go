package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/clock"
	"github.com/craftlane/craftlane/internal/timeline/domain"
	"github.com/craftlane/craftlane/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("timeline.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Append(ctx context.Context, orderID snowflake.ID, eventType domain.EventType, actorID snowflake.ID, metadata map[string]any) (*domain.TimelineEvent, error) {
	return s.AppendTx(ctx, s.db, orderID, eventType, actorID, metadata)
}

func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, eventType domain.EventType, actorID snowflake.ID, metadata map[string]any) (*domain.TimelineEvent, error) {
	if orderID == 0 {
		return nil, domain.ErrInvalidOrder
	}
	if strings.TrimSpace(string(eventType)) == "" {
		return nil, domain.ErrInvalidEventType
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	event := domain.TimelineEvent{
		ID:          s.genID.Generate(),
		OrderID:     orderID,
		EventType:   eventType,
		Description: domain.Describe(eventType),
		ActorID:     actorID,
		Metadata:    datatypes.JSONMap(payload),
		CreatedAt:   s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, tx, &event); err != nil {
		s.log.Error("failed to append timeline event",
			zap.String("order_id", orderID.String()),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return nil, err
	}
	return &event, nil
}

func (s *Service) History(ctx context.Context, req domain.ListHistoryRequest) (domain.ListHistoryResponse, error) {
	if req.OrderID == 0 {
		return domain.ListHistoryResponse{}, domain.ErrInvalidOrder
	}

	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListHistoryResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil {
			return domain.ListHistoryResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListHistoryResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{CreatedAt: createdAt, ID: id}
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 50
	}

	events, err := s.repo.List(ctx, s.db, domain.ListFilter{
		OrderID: req.OrderID,
		Cursor:  cursor,
		Limit:   limit,
	})
	if err != nil {
		return domain.ListHistoryResponse{}, err
	}

	resp := domain.ListHistoryResponse{}
	if len(events) > limit {
		events = events[:limit]
		last := events[len(events)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return domain.ListHistoryResponse{}, err
		}
		resp.HasMore = true
		resp.NextPageToken = token
	}
	resp.Events = events
	return resp, nil
}
