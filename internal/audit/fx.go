package audit

import (
	"github.com/engineerpark/cdulog/internal/audit/repository"
	"github.com/engineerpark/cdulog/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
