package marketplace

import (
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-marketplace/adapters/gojob"
	"github.com/goliatone/go-marketplace/adapters/prometheus"
	"github.com/goliatone/go-marketplace/ratelimit"
	"github.com/goliatone/go-marketplace/security"
	sqlstore "github.com/goliatone/go-marketplace/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares rate windows across processes using cfg's limit
// and window.
func RedisRateLimiter(client redis.Cmdable, cfg Config) RateLimiter {
	effective := withConfigDefaults(cfg)
	return ratelimit.NewRedisFixedWindowLimiter(client, effective.RateLimit.Limit, effective.RateLimit.Window)
}

func SQLRepositoryFactory(client *persistence.Client, opts ...sqlstore.FactoryOption) (*sqlstore.RepositoryFactory, error) {
	return sqlstore.NewRepositoryFactoryFromPersistence(client, opts...)
}

// AppKeyCredentialSecrets seals installation credentials stored by the SQL
// factory under a single application key.
func AppKeyCredentialSecrets(appKey string, opts ...security.Option) (sqlstore.FactoryOption, error) {
	provider, err := security.NewAppKeySecretProviderFromString(appKey, opts...)
	if err != nil {
		return nil, err
	}
	return sqlstore.WithCredentialSecrets(provider), nil
}

// GoJobEnqueuer routes delivery jobs to a go-job queue.
func GoJobEnqueuer(enqueuer queue.Enqueuer) JobEnqueuer {
	return gojob.NewEnqueuerAdapter(enqueuer)
}

// GoJobDequeuer drains a go-job queue, dead lettering deliveries once the
// webhook attempt budget in cfg is spent.
func GoJobDequeuer(dequeuer queue.Dequeuer, cfg Config) JobDequeuer {
	return gojob.NewDequeuerAdapter(dequeuer, gojob.DeliveryRetryPolicy(cfg.Webhooks))
}

func PrometheusRecorder(cfg prometheus.Config) *prometheus.Recorder {
	return prometheus.NewRecorder(cfg)
}

// WithSQLStores uses the factory's stores and catalog for the service.
func WithSQLStores(factory *sqlstore.RepositoryFactory) Option {
	return WithRepositoryFactory(factory)
}
