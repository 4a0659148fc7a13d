package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListHistoryRequest struct {
	pagination.Pagination
	OrderID snowflake.ID
}

type ListHistoryResponse struct {
	pagination.PageInfo
	Events []TimelineEvent `json:"events"`
}

type Service interface {
	// Append records one state change. It performs no business validation
	// beyond requiring an order and an event type; the timeline is the sole
	// audit trail and must accept whatever the lifecycle and ledger write.
	Append(ctx context.Context, orderID snowflake.ID, eventType EventType, actorID snowflake.ID, metadata map[string]any) (*TimelineEvent, error)

	// AppendTx is Append inside an existing transaction, so callers can make
	// the status write and the audit append one unit.
	AppendTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, eventType EventType, actorID snowflake.ID, metadata map[string]any) (*TimelineEvent, error)

	// History returns events for an order ordered by created_at ascending.
	History(ctx context.Context, req ListHistoryRequest) (ListHistoryResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *TimelineEvent) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]TimelineEvent, error)
}

type ListFilter struct {
	OrderID snowflake.ID
	Cursor  *Cursor
	Limit   int
}

type Cursor struct {
	CreatedAt time.Time
	ID        snowflake.ID
}

var (
	ErrInvalidOrder     = errors.New("invalid_order")
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
