// package service provides functions and methods
// for creating and running the api of the proxy service
package service

import (
	"fmt"
	"net/http"

	"github.com/veil-labs/veil-proxy-service/admission"
	"github.com/veil-labs/veil-proxy-service/cachepolicy"
	"github.com/veil-labs/veil-proxy-service/clients/cache"
	"github.com/veil-labs/veil-proxy-service/clients/database"
	"github.com/veil-labs/veil-proxy-service/clients/database/noop"
	"github.com/veil-labs/veil-proxy-service/config"
	"github.com/veil-labs/veil-proxy-service/dispatch"
	"github.com/veil-labs/veil-proxy-service/logging"
	"github.com/veil-labs/veil-proxy-service/nodepool"
)

// ProxyService represents an instance of the proxy service API
type ProxyService struct {
	Cache        *cachepolicy.ServiceCache
	CacheClient  cache.Cache
	Pools        *nodepool.Registry
	TenantStore  database.TenantStore
	MetricsStore database.MetricsStore

	httpProxy  *http.Server
	actor      *admission.Actor
	dispatcher *dispatch.Dispatcher

	*logging.ServiceLogger
}

// New returns a new ProxyService with the specified config and error (if any)
func New(serviceConfig config.Config, serviceLogger *logging.ServiceLogger) (*ProxyService, error) {
	service := &ProxyService{
		ServiceLogger: serviceLogger,
	}

	// create clients for the service's database dependencies,
	// failing closed on admission when the database is disabled
	if serviceConfig.DatabaseEnabled {
		postgresClient, err := database.NewPostgresClient(database.PostgresDatabaseConfig{
			DatabaseName:                     serviceConfig.DatabaseName,
			DatabaseEndpointURL:              serviceConfig.DatabaseEndpointURL,
			DatabaseUsername:                 serviceConfig.DatabaseUsername,
			DatabasePassword:                 serviceConfig.DatabasePassword,
			ReadTimeoutSeconds:               serviceConfig.DatabaseReadTimeoutSeconds,
			DatabaseMaxIdleConnections:       serviceConfig.DatabaseMaxIdleConnections,
			DatabaseConnectionMaxIdleSeconds: serviceConfig.DatabaseConnectionMaxIdleSeconds,
			DatabaseMaxOpenConnections:       serviceConfig.DatabaseMaxOpenConnections,
			SSLEnabled:                       serviceConfig.DatabaseSSLEnabled,
			QueryLoggingEnabled:              serviceConfig.DatabaseQueryLoggingEnabled,
			Logger:                           serviceLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed creating database client: %w", err)
		}

		service.TenantStore = &postgresClient
		service.MetricsStore = &postgresClient
	} else {
		serviceLogger.Info().Msg("database disabled, all authenticated requests will fail closed")

		noopClient := noop.New()
		service.TenantStore = noopClient
		service.MetricsStore = noopClient
	}

	// create the edge cache client used for response caching
	var cacheClient cache.Cache
	if serviceConfig.CacheEnabled {
		redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
			Address:  serviceConfig.RedisEndpointURL,
			Password: serviceConfig.RedisPassword,
		}, serviceLogger)
		if err != nil {
			return nil, fmt.Errorf("failed creating redis client: %w", err)
		}
		cacheClient = redisCache
	} else {
		cacheClient = cache.NewInMemoryCache()
	}
	service.CacheClient = cacheClient

	service.Cache = cachepolicy.NewServiceCache(
		cacheClient,
		&cachepolicy.Config{
			StaticTTL:     serviceConfig.CacheStaticTTL,
			FixedBlockTTL: serviceConfig.CacheFixedBlockTTL,
			LogRangeTTL:   serviceConfig.CacheLogRangeTTL,
			VolatileTTL:   serviceConfig.CacheVolatileTTL,
		},
		serviceConfig.CacheEnabled,
		serviceConfig.CacheWhitelistedHeaders,
		serviceLogger,
	)

	// the pool registry is seeded from config and kept fresh by the
	// node pool refresh routine consuming the external prober's output
	service.Pools = nodepool.NewRegistry(serviceConfig.NodePools)

	service.dispatcher = dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Pools:            service.Pools,
		UpstreamTimeout:  serviceConfig.UpstreamTimeout,
		ServiceAuthToken: serviceConfig.UpstreamServiceAuthToken,
		Logger:           serviceLogger,
	})

	service.actor = admission.NewActor(admission.ActorConfig{
		Store:           service.TenantStore,
		BurstMultiplier: serviceConfig.RateLimitBurstMultiplier,
		FlushQueueSize:  int(serviceConfig.UsageFlushQueueSize),
		Logger:          serviceLogger,
	})

	// create an http router for registering handlers for a given route
	mux := http.NewServeMux()

	mux.HandleFunc("/healthcheck", createHealthcheckHandler(service))
	mux.HandleFunc("/servicecheck", createServicecheckHandler(service))

	// the proxy handler chain runs, outermost first:
	// access log -> path extraction -> request decoding -> admission
	// -> cache lookup -> proxy
	proxyHandler := service.createProxyRequestHandler()
	chain := service.createCacheLookupMiddleware(proxyHandler)
	chain = createAdmissionMiddleware(chain, service.actor, serviceLogger)
	chain = createRequestDecodingMiddleware(chain, serviceLogger)
	chain = createPathExtractionMiddleware(chain, serviceLogger)
	chain = createAccessLogMiddleware(chain, serviceLogger)

	mux.HandleFunc("/", chain)

	// create an http server for the caller to start at their own discretion
	service.httpProxy = &http.Server{
		Addr:    fmt.Sprintf(":%s", serviceConfig.ProxyServicePort),
		Handler: mux,
	}

	return service, nil
}

// Run runs the proxy service, returning error (if any) in the event
// the proxy service stops
func (p *ProxyService) Run() error {
	defer p.actor.Stop()

	return p.httpProxy.ListenAndServe()
}
