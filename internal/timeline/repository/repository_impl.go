package repository

import (
	"context"

	"github.com/craftlane/craftlane/internal/timeline/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.TimelineEvent) error {
	if event == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO timeline_events (
			id, order_id, event_type, description, actor_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.OrderID,
		string(event.EventType),
		event.Description,
		event.ActorID,
		event.Metadata,
		event.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	stmt := db.WithContext(ctx).Model(&domain.TimelineEvent{}).
		Where("order_id = ?", filter.OrderID)

	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at > ?) OR (created_at = ? AND id > ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at asc, id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
