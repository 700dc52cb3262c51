package user

import (
	"github.com/engineerpark/cdulog/internal/user/repository"
	"github.com/engineerpark/cdulog/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
