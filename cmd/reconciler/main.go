package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"road_anomaly_reconciler/internal/app"
	"road_anomaly_reconciler/internal/domain/media"
	"road_anomaly_reconciler/internal/domain/notification"
	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/infra/config"
	idb "road_anomaly_reconciler/internal/infra/database"
	"road_anomaly_reconciler/internal/infra/gcs"
	"road_anomaly_reconciler/internal/infra/httpapi"
	"road_anomaly_reconciler/internal/infra/locality"
	"road_anomaly_reconciler/internal/infra/logger"
	"road_anomaly_reconciler/internal/infra/metrics"
	"road_anomaly_reconciler/internal/infra/scheduler"
	"road_anomaly_reconciler/internal/infra/telegram"
	"road_anomaly_reconciler/internal/infra/twilio"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Road Anomaly Reconciler starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"store":       cfg.Store.Backend,
		"classifier":  cfg.Classifier.Mode,
	}).Info("Configuration loaded.")

	metrics.Register()

	ctx := context.Background()

	// Report store
	store, closeStore, err := openStore(ctx, cfg.Store, mainLogger)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize report store")
	}
	defer closeStore()
	repo := idb.NewInstrumentedRepository(store, cfg.Store.CallTimeout)

	// Media URL signing
	var resolver media.Resolver = media.NoopResolver{}
	if cfg.Media.Bucket != "" {
		signer, err := gcs.NewSigner(ctx, cfg.Media, logger.Component("gcs"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not initialize media signer")
		}
		defer signer.Close()
		resolver = signer
		mainLogger.WithField("bucket", cfg.Media.Bucket).Info("Media URL signing enabled.")
	} else {
		mainLogger.Warn("MEDIA_BUCKET is not set, media URLs will be empty.")
	}

	// Alert senders
	senders := make(map[notification.Channel]notification.Sender)
	if cfg.Twilio.Enabled() {
		client, err := twilio.New(cfg.Twilio, logger.Component("twilio"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Twilio client")
		}
		whatsAppFrom := cfg.Twilio.WhatsAppFrom
		if whatsAppFrom == "" {
			whatsAppFrom = cfg.Twilio.FromNumber
		}
		senders[notification.ChannelSMS] = twilio.NewSMSSender(client, cfg.Twilio.FromNumber, cfg.Notify.ToNumber)
		senders[notification.ChannelWhatsApp] = twilio.NewWhatsAppSender(client, whatsAppFrom, cfg.Notify.ToNumber)
		mainLogger.Info("Twilio SMS and WhatsApp senders initialized.")
	}

	var bot *telebot.Bot
	if cfg.Telegram.Enabled() {
		botLogger := logger.Component("telebot")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.Telegram.Token,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := botLogger.WithError(err)
				if c != nil && c.Chat() != nil {
					entry = entry.WithField("chat_id", c.Chat().ID)
				}
				entry.Error("Telegram handler failed")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		senders[notification.ChannelTelegram] = telegram.NewTelebotAdapter(bot, cfg.Telegram.AlertChatID)
		mainLogger.Info("Telegram sender initialized.")
	}

	// Services
	reportService := app.NewReportService(
		repo,
		resolver,
		locality.NewResolver(cfg.Locality),
		cfg.Classifier,
		cfg.Decision,
		logger.Component("report_service"),
	)
	notificationService := app.NewNotificationService(
		repo,
		senders,
		resolver,
		cfg.Notify,
		logger.Component("notification_service"),
	)

	notifScheduler := scheduler.NewNotificationScheduler(
		notificationService,
		logger.Component("scheduler"),
		cfg.Notify.CronSpec,
		cfg.Notify.CycleTimeout,
	)
	if err := notifScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start notification scheduler")
	}

	if bot != nil {
		telegram.RegisterOpsCommands(ctx, bot, cfg.Telegram.AlertChatID, reportService, notifScheduler, logger.Component("telegram"))
		go bot.Start()
		mainLogger.Info("Telegram ops commands registered, bot polling started.")
	}

	// HTTP API
	router := httpapi.NewRouter(httpapi.RouterConfig{
		ReportHandler: httpapi.NewReportHandler(reportService, logger.Component("http")),
		Logger:        logger.Component("http"),
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening.")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	notifScheduler.Stop()
	if bot != nil {
		bot.Stop()
	}
	mainLogger.Info("Application shut down gracefully.")
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg config.StoreConfig, log *logrus.Entry) (report.Repository, func(), error) {
	switch cfg.Backend {
	case config.StoreBackendPostgres:
		db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := idb.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("PostgreSQL report store ready.")
		return idb.NewPostgresReportRepository(db), closeSQL(db, log), nil

	case config.StoreBackendMongo:
		client, err := idb.NewMongoConnection(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		repo := idb.NewMongoReportRepository(client.Database(cfg.MongoDB))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		log.WithField("database", cfg.MongoDB).Info("MongoDB report store ready.")
		return repo, closeMongo(client, log), nil

	default:
		log.Warn("Using in-memory report store, data is lost on restart.")
		return idb.NewMemoryReportRepository(), func() {}, nil
	}
}

func closeSQL(db *sql.DB, log *logrus.Entry) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("Closing database failed")
		}
	}
}

func closeMongo(client *mongo.Client, log *logrus.Entry) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.WithError(err).Warn("Disconnecting MongoDB failed")
		}
	}
}
