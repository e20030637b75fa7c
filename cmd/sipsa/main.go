// Package main provides the SIPSA ingestion service.
//
// The service pulls agricultural price data from the upstream SOAP endpoint
// on cron schedules, persists curated records with skip-on-conflict dedup and
// exposes an HTTP API for manual triggers, audit timelines and curated reads.
package main

import (
	"flag"
	"io"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/dalejandrov/sipsa-ingest/internal/api"
	"github.com/dalejandrov/sipsa-ingest/internal/api/middleware"
	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
	"github.com/dalejandrov/sipsa-ingest/internal/parser"
	"github.com/dalejandrov/sipsa-ingest/internal/scheduler"
	"github.com/dalejandrov/sipsa-ingest/internal/soap"
	"github.com/dalejandrov/sipsa-ingest/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "sipsa-ingest"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting SIPSA ingestion service",
		slog.String("service", name),
		slog.String("version", version),
	)

	ingestionConfig := ingestion.LoadConfig()
	if err := ingestionConfig.Validate(); err != nil {
		logger.Error("Invalid ingestion configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	policy, err := ingestion.NewWindowPolicy(ingestionConfig)
	if err != nil {
		logger.Error("Failed to build window policy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Loaded ingestion configuration",
		slog.String("timezone", ingestionConfig.TimeZone),
		slog.String("daily_window", ingestionConfig.DailyWindowStart+"-"+ingestionConfig.DailyWindowEnd),
		slog.Any("monthly_run_days", ingestionConfig.MonthlyRunDays),
		slog.Int("batch_size", ingestionConfig.BatchSize),
		slog.Int("max_reject_count", ingestionConfig.MaxRejectCount),
	)

	soapConfig := soap.LoadConfig()
	if err := soapConfig.Validate(); err != nil {
		logger.Error("Invalid SOAP configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	logger.Info("Database connection established",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	stores, err := buildStores(dbConn)
	if err != nil {
		logger.Error("Failed to initialize stores", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	var publisher ingestion.AuditPublisher

	publisherConfig := ingestion.LoadPublisherConfig()
	if publisherConfig.Enabled() {
		kafkaPublisher := ingestion.NewKafkaAuditPublisher(publisherConfig, logger)
		defer func() { _ = kafkaPublisher.Close() }()

		publisher = kafkaPublisher

		logger.Info("Audit event publishing enabled",
			slog.Any("brokers", publisherConfig.Brokers),
			slog.String("topic", publisherConfig.Topic),
		)
	}

	recorder := ingestion.NewRecorder(stores.control, publisher, logger)
	source := soap.NewClient(soapConfig, logger)

	maxChildren := soapConfig.MaxChildElements
	batchSize := ingestionConfig.BatchSize

	registry := ingestion.NewRegistry(
		ingestion.NewCiudadHandler(source, stores.ciudad, func(body io.Reader) ingestion.CiudadIterator {
			return parser.NewCiudad(body, maxChildren)
		}, batchSize, logger),
		ingestion.NewParcialHandler(source, stores.parcial, func(body io.Reader) ingestion.ParcialIterator {
			return parser.NewParcial(body, maxChildren)
		}, batchSize, logger),
		ingestion.NewSemanaHandler(source, stores.semana, func(body io.Reader) ingestion.SemanaIterator {
			return parser.NewSemana(body, maxChildren)
		}, batchSize, logger),
		ingestion.NewMesHandler(source, stores.mes, func(body io.Reader) ingestion.MesIterator {
			return parser.NewMes(body, maxChildren)
		}, batchSize, logger),
		ingestion.NewAbasHandler(source, stores.abas, func(body io.Reader) ingestion.AbasIterator {
			return parser.NewAbas(body, maxChildren)
		}, batchSize, logger),
	)

	job := ingestion.NewJob(policy, stores.control, registry, recorder, ingestionConfig, logger)

	schedulerConfig := scheduler.LoadConfig()

	cronScheduler := scheduler.New(schedulerConfig, job, policy.Location(), logger)
	if err := cronScheduler.Start(); err != nil {
		logger.Error("Failed to start scheduler", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	defer cronScheduler.Stop()

	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
	)

	server := api.NewServer(serverConfig, job, stores.reads, recorder, rateLimiter, policy.Location())

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("SIPSA ingestion service stopped")
}

// stores bundles the persistence layer handed to the orchestrator and the
// HTTP server.
type stores struct {
	control *storage.ControlStore
	ciudad  *storage.CiudadStore
	parcial *storage.ParcialStore
	semana  *storage.MayoristasSemanalStore
	mes     *storage.MayoristasMensualStore
	abas    *storage.AbastecimientoStore
	reads   *storage.ReadStore
}

func buildStores(conn *storage.Connection) (*stores, error) {
	control, err := storage.NewControlStore(conn)
	if err != nil {
		return nil, err
	}

	ciudad, err := storage.NewCiudadStore(conn)
	if err != nil {
		return nil, err
	}

	parcial, err := storage.NewParcialStore(conn)
	if err != nil {
		return nil, err
	}

	semana, err := storage.NewMayoristasSemanalStore(conn)
	if err != nil {
		return nil, err
	}

	mes, err := storage.NewMayoristasMensualStore(conn)
	if err != nil {
		return nil, err
	}

	abas, err := storage.NewAbastecimientoStore(conn)
	if err != nil {
		return nil, err
	}

	reads, err := storage.NewReadStore(conn)
	if err != nil {
		return nil, err
	}

	return &stores{
		control: control,
		ciudad:  ciudad,
		parcial: parcial,
		semana:  semana,
		mes:     mes,
		abas:    abas,
		reads:   reads,
	}, nil
}
