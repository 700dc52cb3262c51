package repository

import (
	"context"
	"strings"

	"github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, actor_id, actor_role, actor_name, action, target_type, target_id,
			metadata, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorID,
		entry.ActorRole,
		entry.ActorName,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.RequestID,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	opts := []option.QueryOption{
		option.Equal("action", strings.TrimSpace(filter.Action)),
		option.Equal("target_type", strings.TrimSpace(filter.TargetType)),
		option.Equal("target_id", strings.TrimSpace(filter.TargetID)),
		option.Equal("actor_id", strings.TrimSpace(filter.ActorID)),
		option.Within("created_at", filter.StartAt, filter.EndAt),
		option.WithOrder("created_at desc, id desc"),
		option.When(filter.Limit > 0, option.WithLimit(filter.Limit+1)),
	}
	if c := filter.Cursor; c != nil {
		opts = append(opts, option.OlderThan("created_at", "id", c.CreatedAt, c.ID))
	}

	var logs []*domain.AuditLog
	err := option.Apply(db.WithContext(ctx).Model(&domain.AuditLog{}), opts...).Find(&logs).Error
	return logs, err
}
