package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/kenshi-labs/unchained-dashboard/aggregate"
	"github.com/kenshi-labs/unchained-dashboard/api"
	"github.com/kenshi-labs/unchained-dashboard/cache"
	"github.com/kenshi-labs/unchained-dashboard/contact"
	"github.com/kenshi-labs/unchained-dashboard/counting"
	"github.com/kenshi-labs/unchained-dashboard/db"
	"github.com/kenshi-labs/unchained-dashboard/metrics"
	"github.com/kenshi-labs/unchained-dashboard/schema"
	"github.com/kenshi-labs/unchained-dashboard/sharedcache"
	"github.com/kenshi-labs/unchained-dashboard/sqlstore"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "UNCHAINED_DASHBOARD"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	if err := godotenv.Load(); err != nil {
		sLogger.Infow("No .env file loaded.", "error", err)
	}

	var cfg struct {
		Server struct {
			HttpHost        string        `conf:"default:0.0.0.0:8000"`
			MetricsHttpHost string        `conf:"default:0.0.0.0:9999"`
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:60s"`
			ShutdownTimeout time.Duration `conf:"default:10s"`
		}
		Database struct {
			Driver             string `conf:"default:postgres"`
			Url                string `conf:"default:postgres://localhost:5432/unchained?sslmode=disable,noprint"`
			MaxOpenConnections int    `conf:"default:10"`
		}
		Dashboard struct {
			SprintWindow     time.Duration `conf:"default:5m"`
			Generations      []string      `conf:"default:current"`
			LegacyWindow     int           `conf:"default:14400"`
			CurrentWindow    int           `conf:"default:1440"`
			DefaultCount     string        `conf:"default:exact"`
			EstimatedTables  []string      `conf:"optional"`
			ExactTables      []string      `conf:"optional"`
			MetricsNamespace string        `conf:"default:unchained_dashboard"`
		}
		InternalStoreFolder string `conf:"default:store"`
		Redis               struct {
			Address  string        `conf:"optional"`
			Password string        `conf:"optional,noprint"`
			Db       int           `conf:"default:0"`
			Prefix   string        `conf:"default:unchained:dashboard"`
			Ttl      time.Duration `conf:"default:10m"`
		}
		Contact struct {
			Enabled         bool          `conf:"default:false"`
			RecaptchaSecret string        `conf:"optional,noprint"`
			RecaptchaUrl    string        `conf:"default:https://www.google.com/recaptcha/api/siteverify"`
			SendgridApiKey  string        `conf:"optional,noprint"`
			SendgridHost    string        `conf:"optional"`
			Recipient       string        `conf:"default:admin@kenshi.io"`
			Sender          string        `conf:"default:noreply@kenshi.io"`
			MinScore        float64       `conf:"default:0.5"`
			Throttle        time.Duration `conf:"default:1m"`
			Timeout         time.Duration `conf:"default:5s"`
		}
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	if cfg.Contact.Enabled && (cfg.Contact.RecaptchaSecret == "" || cfg.Contact.SendgridApiKey == "") {
		return errors.New("contact relay enabled without recaptcha secret or sendgrid api key")
	}
	defaultCount, err := counting.ParseStrategy(cfg.Dashboard.DefaultCount)
	if err != nil {
		return errors.Wrap(err, "parsing default count strategy")
	}

	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.Url, cfg.Database.MaxOpenConnections)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer store.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(pingCtx)
	cancelPing()
	if err != nil {
		// the dashboard serves errors until the database is reachable
		sLogger.Warnw("Database not reachable.", "error", err)
	}

	generations, err := schema.NewAll(cfg.Dashboard.Generations, store, schema.Windows{
		Legacy:  cfg.Dashboard.LegacyWindow,
		Current: cfg.Dashboard.CurrentWindow,
	})
	if err != nil {
		return errors.Wrap(err, "creating schema generations")
	}
	estimator := counting.NewEstimatorForTables(store, defaultCount, cfg.Dashboard.EstimatedTables, cfg.Dashboard.ExactTables)
	aggregator, err := aggregate.NewAggregator(generations, estimator)
	if err != nil {
		return errors.Wrap(err, "creating aggregator")
	}

	m := metrics.NewMetrics(cfg.Dashboard.MetricsNamespace, prometheus.DefaultRegisterer)

	archive, err := db.NewPebbleStore(cfg.InternalStoreFolder)
	if err != nil {
		return errors.Wrap(err, "creating db")
	}
	defer archive.Close()

	dashboard := cache.NewDashboardCache(aggregator, clockwork.NewRealClock(), cfg.Dashboard.SprintWindow, m, sLogger).
		WithArchive(archive)

	epoch, snapshot, err := archive.LoadSnapshot()
	switch {
	case err == nil:
		dashboard.Restore(epoch, snapshot)
		sLogger.Infow("Restored dashboard snapshot.", "epoch", epoch)
	case errors.Is(err, db.ErrNotFound):
		sLogger.Info("No archived dashboard snapshot.")
	default:
		sLogger.Warnw("Error loading archived dashboard snapshot.", "error", err)
	}

	if cfg.Redis.Address != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Db,
		})
		defer redisClient.Close()
		dashboard.WithSharedStore(sharedcache.NewRedisStore(redisClient, cfg.Redis.Prefix, cfg.Redis.Ttl))
	}

	var contactHandler http.Handler
	if cfg.Contact.Enabled {
		relay := contact.NewRelay(
			contact.NewRecaptchaVerifier(cfg.Contact.RecaptchaUrl, cfg.Contact.RecaptchaSecret, cfg.Contact.Timeout),
			contact.NewSendgridMailer(cfg.Contact.SendgridApiKey, cfg.Contact.SendgridHost, cfg.Contact.Sender, cfg.Contact.Recipient),
			cfg.Contact.MinScore,
			cfg.Contact.Throttle,
			m,
			sLogger,
		)
		relay.Start()
		defer relay.Stop()
		contactHandler = contact.NewHandler(relay, sLogger)
	} else {
		sLogger.Warn("Contact relay disabled.")
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:         cfg.Server.HttpHost,
		Handler:      api.NewRouter(api.NewHandler(dashboard, sLogger), contactHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	serverError := make(chan error, 1)
	go func() {
		sLogger.Infow("Starting server.", "addr", cfg.Server.HttpHost)
		serverError <- server.ListenAndServe()
	}()

	metricsServerError := make(chan error, 1)
	go func() {
		sLogger.Infow("Starting metrics server.", "addr", cfg.Server.MetricsHttpHost)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServerError <- http.ListenAndServe(cfg.Server.MetricsHttpHost, metricsMux)
	}()

	sLogger.Info("Service started.")

	for {
		select {
		case <-shutdown:
			sLogger.Info("Received shutdown signal, shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(ctx)
		case err := <-metricsServerError:
			return errors.Wrap(err, "starting metrics endpoint")
		case err := <-serverError:
			return errors.Wrap(err, "starting server endpoint")
		}
	}
}
