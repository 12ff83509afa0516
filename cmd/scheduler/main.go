package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"lead_email_automation/internal/app"
	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/clock"
	"lead_email_automation/internal/domain/emaillog"
	"lead_email_automation/internal/domain/lead"
	"lead_email_automation/internal/domain/mail"
	"lead_email_automation/internal/infra/config"
	idb "lead_email_automation/internal/infra/database"
	"lead_email_automation/internal/infra/httpapi"
	"lead_email_automation/internal/infra/inbox"
	"lead_email_automation/internal/infra/logger"
	"lead_email_automation/internal/infra/mailer"
	"lead_email_automation/internal/infra/memstore"
	"lead_email_automation/internal/infra/metrics"
	"lead_email_automation/internal/infra/scheduler"
	"lead_email_automation/internal/infra/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"log_level":   cfg.LogLevel,
	}).Info("Lead email automation starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		db       *sql.DB
		records  automation.Repository
		emailLog emaillog.Repository
		leads    lead.Repository
	)
	if cfg.DatabaseURL != "" {
		db, err = idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			mainLogger.Fatalf("Could not connect to database: %v", err)
		}
		defer db.Close()
		if err := idb.EnsureSchema(ctx, db); err != nil {
			mainLogger.Fatalf("Could not apply database schema: %v", err)
		}
		records = idb.NewPostgresAutomationRepository(db)
		emailLog = idb.NewPostgresEmailLogRepository(db)
		leads = idb.NewPostgresLeadRepository(db)
		mainLogger.Info("Postgres repositories initialized")
	} else {
		records = memstore.NewAutomationStore()
		emailLog = memstore.NewEmailLogStore()
		leads = memstore.NewLeadStore()
		mainLogger.Warn("DATABASE_URL not set, using the in-memory store (state is lost on restart)")
	}

	// Telegram bot (optional)
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		botLogger := logger.Component("telebot")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.Fatalf("Could not create Telegram bot: %v", err)
		}
	}

	// Mail transport
	var transport mail.Mailer
	if cfg.SMTPHost != "" {
		transport = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.SMTPFromEmail,
			FromName:  cfg.SMTPFromName,
		}, logger.Component("mailer"))
	} else {
		transport = mailer.NewLogMailer(logger.Component("mailer"))
		mainLogger.Warn("SMTP_HOST not set, emails are only logged")
	}
	router := mailer.NewRoutingMailer(transport)
	if bot != nil && cfg.StaffTelegramChatID != 0 {
		router.Route(mail.AudienceStaff, telegram.NewStaffNotifier(
			telegram.NewTelebotAdapter(bot), cfg.StaffTelegramChatID, logger.Component("telegram")))
		mainLogger.WithField("chat_id", cfg.StaffTelegramChatID).Info("Staff reminders routed to Telegram")
	}

	// Core
	policy := automation.DefaultPolicy()
	engine := app.NewEmailSchedulerImpl(records, emailLog, leads, router, policy, app.SchedulerConfig{
		Concurrency: cfg.SweepConcurrency,
		Lease:       cfg.SweepLease,
		BatchLimit:  cfg.SweepBatchLimit,
		StaffEmail:  cfg.StaffEmail,
		StaffName:   cfg.StaffName,
	}, logger.Component("app"))
	service := app.NewAutomationService(records, emailLog, leads, policy, clock.System{}, engine, logger.Component("app"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)
	engine.SetObserver(appMetrics)

	// Reply detection (optional)
	var replies scheduler.ReplyChecker
	if cfg.IMAPAddr != "" {
		replies = inbox.NewReplyPoller(
			inbox.DialIMAP(inbox.Config{
				Addr:     cfg.IMAPAddr,
				Username: cfg.IMAPUsername,
				Password: cfg.IMAPPassword,
				Mailbox:  cfg.IMAPMailbox,
				TLS:      cfg.IMAPTLS,
			}),
			cfg.IMAPMailbox, service,
			[]string{cfg.SMTPFromEmail, cfg.StaffEmail, cfg.IMAPUsername},
			72*time.Hour, logger.Component("inbox"),
		)
		mainLogger.WithField("mailbox", cfg.IMAPMailbox).Info("IMAP reply polling enabled")
	}

	cronScheduler := scheduler.NewAutomationScheduler(
		service, replies, logger.Component("scheduler"),
		cfg.CronSpecSweep, cfg.CronSpecReplyCheck, cfg.SweepTimeout,
	)
	if err := cronScheduler.Start(); err != nil {
		mainLogger.Fatalf("Could not start scheduler: %v", err)
	}

	if bot != nil {
		telegramLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, telegramLogger)
		telegram.RegisterAdminHandlers(ctx, bot, service, cfg.AdminTelegramID, telegramLogger)
		telegram.RegisterStaffResponseHandlers(ctx, bot, service, telegramLogger)
		go bot.Start()
		mainLogger.Info("Telegram bot started")
	}

	// HTTP control surface
	var pinger httpapi.Pinger
	if db != nil {
		pinger = db
	}
	server := httpapi.NewServer(httpapi.ServerOptions{
		Handler:    httpapi.NewAutomationHandler(service, logger.Component("http")),
		Middleware: []echo.MiddlewareFunc{appMetrics.Middleware()},
		Gatherer:   registry,
		DB:         pinger,
		Logger:     logger.Component("http"),
	})
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("HTTP server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown error")
	}
	if bot != nil {
		bot.Stop()
	}
	cronScheduler.Stop() // waits for a running sweep to finish
	mainLogger.Info("Application shut down gracefully")
}
