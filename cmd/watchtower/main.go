package main

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chainops/watchtower/internal/config"
	"github.com/chainops/watchtower/internal/middleware"
	monitorapi "github.com/chainops/watchtower/internal/monitoring/api"
	"github.com/chainops/watchtower/internal/monitoring/cache"
	"github.com/chainops/watchtower/internal/monitoring/database"
	"github.com/chainops/watchtower/internal/monitoring/service/alerting"
	"github.com/chainops/watchtower/internal/monitoring/service/health"
	"github.com/chainops/watchtower/internal/monitoring/service/notify"
	"github.com/chainops/watchtower/internal/monitoring/service/scheduler"
	"github.com/chainops/watchtower/internal/realtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Info().Msg("Starting watchtower monitoring server")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	db, err := database.New(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	nodeRepo := database.NewNodeRepo(db)
	alertRepo := database.NewAlertRepo(db)
	metricRepo := database.NewMetricRepo(db)
	settingsRepo := database.NewSettingsRepo(db)

	var store cache.Cache
	rdb := cache.NewRedisClientFromConfig(&cfg.Redis)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-process cache")
		store = cache.NewMemory()
	} else {
		store = cache.NewRedis(rdb)
	}

	snapshotter := health.NewSnapshotter(nodeRepo, metricRepo, alertRepo, metricRepo, store)
	hub := realtime.New(snapshotter)
	defer hub.Close()

	fanout := notify.NewFanout(settingsRepo,
		notify.NewEmailSender(cfg.Notify.EmailURLTemplate),
		notify.NewChatWebhookSender(cfg.Notify.ChatURLTemplate),
		notify.NewBotChatSender(cfg.Notify.BotChatURLTemplate),
		notify.NewWebhookSender(config.ParseDuration(cfg.Notify.WebhookTimeout, 0)),
	)

	alertManager := alerting.NewManager(alertRepo, nodeRepo, store, hub, fanout)

	agent := health.NewAgentClient(health.NewAgentConfigFromApp(&cfg.Monitoring))
	executor := health.NewExecutor(agent, nodeRepo, metricRepo, alertManager, settingsRepo,
		hub, config.ParseDuration(cfg.Monitoring.AgentTimeout, 0))

	engine := scheduler.NewEngine(scheduler.Config{
		CheckInterval:       config.ParseDuration(cfg.Monitoring.CheckInterval, 0),
		SnapshotInterval:    config.ParseDuration(cfg.Monitoring.SnapshotInterval, 0),
		BroadcastInterval:   config.ParseDuration(cfg.Monitoring.BroadcastInterval, 0),
		RetentionInterval:   config.ParseDuration(cfg.Monitoring.RetentionInterval, 0),
		MetricRetentionDays: cfg.Monitoring.MetricRetentionDays,
		AlertRetentionDays:  cfg.Monitoring.AlertRetentionDays,
	}, nodeRepo, executor, snapshotter, metricRepo, metricRepo, alertRepo, hub)

	if err := engine.Start(context.Background()); err != nil {
		log.Error().Err(err).Msg("scheduler start failed; engine can be started via the API")
	}
	defer engine.Stop()

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.Authentication(cfg.Server.AuthToken))
	monitorapi.NewApi(router, engine, alertManager, snapshotter, nodeRepo, hub)

	log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
	if err := router.Run(cfg.Server.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("start watchtower server failed.")
	}
	log.Info().Msg("watchtower server exit...")
}
