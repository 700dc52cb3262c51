// Package seed prepares a fresh installation so someone can sign in and
// manage roles.
package seed

import (
	"context"
	"strings"

	"github.com/engineerpark/cdulog/internal/config"
	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	"go.uber.org/zap"
)

// EnsureBootstrapAdmin grants admin to the configured identity provider
// subject. It is a no-op when no subject is configured.
func EnsureBootstrapAdmin(ctx context.Context, cfg config.Config, users userdomain.Service, log *zap.Logger) error {
	subject := strings.TrimSpace(cfg.Bootstrap.AdminSubject)
	if subject == "" {
		return nil
	}
	user, err := users.EnsureAdmin(ctx, userdomain.Principal{
		Subject: subject,
		Name:    cfg.Bootstrap.AdminName,
		Email:   cfg.Bootstrap.AdminEmail,
	})
	if err != nil {
		return err
	}
	log.Named("seed").Info("bootstrap admin ensured",
		zap.String("user_id", user.ID.String()),
		zap.String("subject", subject),
	)
	return nil
}
