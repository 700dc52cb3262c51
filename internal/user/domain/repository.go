package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindBySubject(ctx context.Context, subject string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
}
