package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/taskhive/realtime/confgateway/conference"
	"github.com/taskhive/realtime/confgateway/signal"
	"github.com/taskhive/realtime/confgateway/transport"
	"github.com/taskhive/realtime/internal/config"
	"github.com/taskhive/realtime/internal/httputil"
	wsrpc "github.com/taskhive/realtime/internal/jsonrpc/websocket"
	"github.com/taskhive/realtime/internal/jwt"
	"github.com/taskhive/realtime/internal/log"
	"github.com/taskhive/realtime/internal/otel"
	"github.com/taskhive/realtime/internal/redis"
	"github.com/taskhive/realtime/internal/scheduler"
	"github.com/taskhive/realtime/internal/workflow"
	"github.com/taskhive/realtime/teams/directory"
)

type Config struct {
	App   config.App       `mapstructure:"app"`
	HTTP  httputil.Config  `mapstructure:"http"`
	Redis redis.Config     `mapstructure:"redis"`
	Otel  otel.Config      `mapstructure:"otel"`
	Teams directory.Config `mapstructure:"teams"`

	RedisGuardPrefix string `mapstructure:"redis_guard_prefix"`

	JWTSecret string `mapstructure:"jwt_secret"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("redis_guard_prefix", "confgw")
		v.SetDefault("jwt_secret", "MY-secret-key-change-in-production")
		v.SetDefault("allowed_origins", []string{"*"})

		config.Setup(v, "app")
		redis.Setup(v, "redis")
		otel.Setup(v, "otel")
		httputil.Setup(v, "http")
		directory.Setup(v, "teams")

		v.SetDefault("http.addr", "0.0.0.0:8081")
	})
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(config.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting Conference Gateway...")

	redisClient := redis.NewClient(&config.Redis)
	if err := redis.Ping(redisClient); err != nil {
		logger.Fatal("Failed to connect to Redis", log.Error(err))
	}

	jwtAuth := jwt.NewAuth(config.JWTSecret)

	teamDirectory := directory.NewCached(
		directory.NewClient(&config.Teams, logger.Module("Teams")),
		config.Teams.CacheSize,
		config.Teams.CacheTTL,
		logger.Module("TeamsCache"),
	)

	store := conference.NewStore()
	connMgr := signal.NewConnManager(logger.Module("ConnMgr"))
	sched := scheduler.New(logger.Module("Scheduler"))

	serverID := uuid.New().String()
	connGuard := signal.NewConnGuard(
		redisClient,
		config.RedisGuardPrefix,
		serverID,
		logger.Module("ConnGuard"),
	)

	hook := signal.NewWSHook(
		connMgr,
		connGuard,
		jwtAuth,
		logger.Module("WSHook"),
	)
	wsRPCServer := wsrpc.NewServer(
		hook,
		config.AllowedOrigins,
		logger.Module("WSRPC"),
	)
	signalServer := signal.NewServer(
		wsRPCServer,
		store,
		teamDirectory,
		connMgr,
		connGuard,
		sched,
		logger.Module("Signal"),
	)
	signal.BindHook(hook, signalServer)

	if err := signalServer.Open(ctx); err != nil {
		logger.Fatal("Failed to open signal server", log.Error(err))
	}

	router := transport.NewRouter(
		wsRPCServer.HandleWebSocket,
		config.AllowedOrigins,
		logger.Module("Router"),
	)
	httpServer := httputil.NewServer(&config.HTTP, router.Handler())

	go func() {
		logger.Info("Starting HTTP server", log.String("addr", config.HTTP.Addr))
		if err := httpServer.Listen(); err != nil {
			logger.Fatal("Failed to start HTTP server", log.Error(err))
		}
	}()

	cleanup := func(ctx context.Context) {
		_ = httpServer.Shutdown(ctx)

		// end live sessions so clients see `ended` instead of a silent drop
		signalServer.EndAll()
		_ = signalServer.Close()

		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis client", log.Error(err))
		}
		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout)
}
