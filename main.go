package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pokemon-battle-system/handlers"
	"pokemon-battle-system/middleware"
	"pokemon-battle-system/models"
	"pokemon-battle-system/services"
	"pokemon-battle-system/utils"
	"pokemon-battle-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const eventStreamPath = "/battles/events/stream"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, reading environment variables directly")
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(cfg.LogLevel)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(
		&models.Trainer{},
		&models.Team{},
		&models.Battle{},
		&models.BattlePlayer{},
		&models.TurnDecision{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without Redis, events only reach subscribers connected to this instance.
	hub := services.NewHub()
	var notifier services.Notifier = hub
	if cfg.RedisURL != "" {
		redisNotifier, err := services.NewRedisNotifier(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisNotifier.Close()
		go redisNotifier.RelayTo(ctx, hub)
		notifier = redisNotifier
	}

	var archive services.ReplayArchiver
	if cfg.R2.Enabled() {
		replayArchive, err := utils.NewReplayArchive(ctx, cfg.R2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		archive = replayArchive
	} else {
		log.Info().Msg("R2 not configured, replays are kept in the database only")
	}

	store := services.NewBattleStore(db)
	engine := services.NewEngineClient(cfg.EngineURL, cfg.EngineTimeout)
	orchestrator := services.NewTurnOrchestrator(store, engine, services.NewPvEAgent(0), notifier, archive)
	matchmaker := services.NewMatchmaker(db, store)

	battleService := services.NewBattleService(orchestrator, matchmaker, hub)
	teamService := services.NewTeamService(db)
	trainerService := services.NewTrainerService(db)

	var authClient *services.AuthServiceClient
	if cfg.AuthServiceURL != "" {
		authClient = services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.GatewayToken)
	} else {
		log.Warn().Msg("AUTH_SERVICE_URL not set, battle event stream disabled")
	}

	sched, err := services.StartMaintenanceScheduler(orchestrator, cfg.CleanupInterval, cfg.OrphanAge)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	if cfg.SyncServiceURL != "" {
		syncWorker := workers.NewTrainerSyncWorker(db, cfg.SyncServiceURL, "/api/v1/public/profiles", cfg.GatewayToken, time.Minute)
		syncWorker.Start(ctx)
	} else {
		log.Warn().Msg("SYNC_SERVICE_URL not set, trainer mirror will not be refreshed")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, eventStreamPath))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupBattleRoutes(app, battleService, authClient)
	handlers.SetupTeamRoutes(app, teamService, trainerService)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("engine", cfg.EngineURL).Strs("origins", cfg.AllowedOrigins).Msg("battle service running")

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	if err := sched.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown")
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "battle").Logger()
}
