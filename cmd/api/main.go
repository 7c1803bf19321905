package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-calling/internal/audit"
	"whatsapp-calling/internal/auth"
	"whatsapp-calling/internal/bot"
	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/config"
	"whatsapp-calling/internal/conversation"
	"whatsapp-calling/internal/crm"
	"whatsapp-calling/internal/gateway"
	"whatsapp-calling/internal/httpapi"
	"whatsapp-calling/internal/metrics"
	"whatsapp-calling/internal/pricing"
	"whatsapp-calling/internal/queue"
	"whatsapp-calling/internal/realtime"
	"whatsapp-calling/internal/reporting"
	"whatsapp-calling/internal/routing"
	"whatsapp-calling/internal/whatsapp"
	"whatsapp-calling/pkg/logger"
	"whatsapp-calling/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}
	callTokens, err := auth.NewCallTokenIssuer(cfg.CallToken)
	if err != nil {
		return fmt.Errorf("call token init: %w", err)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer db.Close()

	gdb, err := utils.OpenGorm(db)
	if err != nil {
		return fmt.Errorf("gorm init: %w", err)
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}
	defer rdb.Close()

	locker := utils.NewRedisLocker(rdb, "lock:", 30*time.Second)

	crmStore := crm.NewGormStore(gdb)
	if err := crmStore.Migrate(ctx); err != nil {
		return fmt.Errorf("crm migrate: %w", err)
	}
	convStore := conversation.NewGormStore(gdb)
	if err := convStore.Migrate(ctx); err != nil {
		return fmt.Errorf("conversation migrate: %w", err)
	}

	m := metrics.New()
	auditor := audit.NewService(audit.NewPostgresRepo(db), log)

	backend, err := openQueue(cfg.Queue, rdb)
	if err != nil {
		return fmt.Errorf("queue init: %w", err)
	}
	defer backend.Close()
	tasks := queue.New(backend)

	adapter, err := gateway.New(ctx, cfg.Gateway, gateway.Deps{Redis: rdb, Twilio: cfg.Twilio, Log: log})
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	fallbackTier, _ := pricing.ParseTier(cfg.App.DefaultTier)
	tiers := pricing.NewService(pricing.NewCRMTierSource(crmStore, cfg.WhatsApp.BusinessNumber, fallbackTier, log), log)

	leads := crm.NewLeads(crmStore, locker, log)

	callManager, err := calls.NewManager(calls.ManagerOptions{
		FromNumber:    cfg.WhatsApp.BusinessNumber,
		CreateTimeout: cfg.Gateway.CreateTimeout,
	}, calls.ManagerDeps{
		Store:     calls.NewPostgresStore(db),
		Gateway:   adapter,
		Tokens:    callTokens,
		Locker:    locker,
		Features:  tiers,
		Leads:     leads,
		Queue:     tasks,
		Observers: []calls.Observer{m, auditor},
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("call manager init: %w", err)
	}
	monitor := calls.NewMonitor(callManager, cfg.Monitor.QualityInterval, m, log)

	conversations := conversation.NewService(convStore, locker, conversation.ServiceOptions{
		HistoryLimit:  cfg.Bot.HistoryLimit,
		InactiveAfter: cfg.Bot.InactiveAfter,
	}, log)

	agents, err := routing.ParseAgents(cfg.Bot.SalesAgents)
	if err != nil {
		return fmt.Errorf("sales agents: %w", err)
	}
	assigner := routing.NewRoundRobin(agents, routing.NewRedisCursor(rdb, "routing:sales:cursor"), cfg.WhatsApp.DefaultLeadOwner, log)

	waClient := whatsapp.NewClient(whatsapp.ClientOptions{
		BaseURL:       cfg.WhatsApp.GraphBaseURL,
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
	}, log)
	messenger := whatsapp.NewMessenger(waClient, crmStore, cfg.WhatsApp.BusinessNumber, log)

	engine, err := bot.NewEngine(bot.EngineOptions{
		EscalationThreshold: cfg.Bot.EscalationThreshold,
		Company: bot.Company{
			Name:     cfg.Bot.CompanyName,
			Industry: cfg.Bot.CompanyIndustry,
			Products: cfg.Bot.CompanyProducts,
			Contact:  cfg.Bot.CompanyContact,
		},
	}, bot.EngineDeps{
		Conversations: conversations,
		Completer:     newCompleter(cfg.AI),
		Sender:        messenger,
		Assigner:      assigner,
		Leads:         leads,
		Queue:         tasks,
		Locker:        locker,
		Observer:      m,
		Auditor:       auditor,
		Log:           log,
	})
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}

	hub := realtime.NewHub(cfg.App.WSOrigins, log)
	processor := whatsapp.NewProcessor(whatsapp.ProcessorOptions{
		BusinessNumber:   cfg.WhatsApp.BusinessNumber,
		DefaultLeadOwner: cfg.WhatsApp.DefaultLeadOwner,
		BotEnabled:       cfg.WhatsApp.BotEnabled,
		Publisher:        hub,
	}, leads, whatsapp.NewRedisDeduper(rdb), tasks, log)

	var transcriber calls.Transcriber
	if cfg.AI.OpenAIKey != "" {
		transcriber = calls.NewWhisperTranscriber(calls.WhisperOptions{APIKey: cfg.AI.OpenAIKey, MaxRetries: 2})
	}

	worker := queue.NewWorker(backend, queue.WorkerOptions{Concurrency: cfg.Queue.Workers, Observer: m}, log)
	worker.Handle(queue.TaskProcessWebhook, processor.HandleTask)
	worker.Handle(queue.TaskBotProcessMessage, engine.HandleTask)
	worker.Handle(queue.TaskBotNotifySales, bot.NewSalesNotifier(crmStore, log).HandleTask)
	worker.Handle(queue.TaskGenerateTranscript, calls.NewTranscriptWorker(transcriber, crmStore, log).HandleTask)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		DB:      db,
		Redis:   rdb,
		Metrics: m,
		Webhook: whatsapp.WebhookHandler{
			AppSecret:   cfg.WhatsApp.AppSecret,
			VerifyToken: cfg.WhatsApp.VerifyToken,
			Queue:       tasks,
			Observer:    m,
			Auditor:     auditor,
		},
		Handlers: httpapi.Handlers{
			Calls:         callManager,
			Reports:       reporting.NewService(callManager.Store),
			Conversations: engine,
			GatewayToken:  cfg.Gateway.EventToken,
		},
		Hub:    hub,
		AuthMW: auth.RequireAccessToken(authManager),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "gateway", adapter.Name(), "queue", cfg.Queue.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return conversations.RunSweeper(gctx, cfg.Monitor.SweepInterval) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}

func openQueue(cfg config.QueueConfig, rdb redis.Cmdable) (queue.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return queue.NewMemoryBackend(1024), nil
	case "amqp":
		return queue.DialAMQP(cfg.AMQPURL, cfg.Name)
	default:
		return queue.NewRedisBackend(rdb, cfg.Name), nil
	}
}

func newCompleter(cfg config.AIConfig) bot.Completer {
	if cfg.Provider == "openai" {
		return bot.NewOpenAICompleter(bot.ProviderOptions{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel, MaxRetries: 2})
	}
	return bot.NewAnthropicCompleter(bot.ProviderOptions{APIKey: cfg.AnthropicKey, Model: cfg.AnthropicModel, MaxRetries: 2})
}
