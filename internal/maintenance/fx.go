package maintenance

import (
	"errors"

	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/internal/maintenance/service"
	"github.com/engineerpark/cdulog/internal/maintenance/store/gormstore"
	"github.com/engineerpark/cdulog/internal/maintenance/store/memstore"
	"github.com/engineerpark/cdulog/internal/maintenance/store/redisstore"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("maintenance.service",
	fx.Provide(NewStore),
	fx.Provide(service.New),
	fx.Provide(
		func(s *service.Service) domain.UnitService { return s },
		func(s *service.Service) domain.RecordService { return s },
		func(s *service.Service) domain.StatusEngine { return s },
	),
)

type StoreParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB      `optional:"true"`
	Redis  *redis.Client `optional:"true"`
}

// NewStore picks the backend named by STORE_BACKEND.
func NewStore(p StoreParams) (domain.Store, error) {
	log := p.Log.Named("maintenance.store")
	switch p.Config.StoreBackend {
	case config.StoreMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	case config.StoreRedis:
		if p.Redis == nil {
			return nil, errors.New("STORE_BACKEND=redis requires REDIS_ADDR")
		}
		log.Info("using redis document store; writes are not transactional across documents")
		return redisstore.New(p.Redis, p.Config.Redis.KeyPrefix), nil
	default:
		if p.DB == nil {
			return nil, errors.New("STORE_BACKEND=gorm requires a database")
		}
		return gormstore.New(p.DB), nil
	}
}
