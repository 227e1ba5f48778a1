package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/fuzzy-index/pkg/config"
	"github.com/ekaya-inc/fuzzy-index/pkg/database"
	"github.com/ekaya-inc/fuzzy-index/pkg/fieldproc"
	"github.com/ekaya-inc/fuzzy-index/pkg/indexer"
	"github.com/ekaya-inc/fuzzy-index/pkg/logging"
	"github.com/ekaya-inc/fuzzy-index/pkg/models"
	"github.com/ekaya-inc/fuzzy-index/pkg/query"
	"github.com/ekaya-inc/fuzzy-index/pkg/retry"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
	"github.com/ekaya-inc/fuzzy-index/pkg/store/postgres"
	"github.com/ekaya-inc/fuzzy-index/pkg/store/sqlite"
	"github.com/ekaya-inc/fuzzy-index/pkg/workerpool"
)

// Version is set at build time via ldflags
var Version = "dev"

// job is the YAML file describing what to index and what to match.
type job struct {
	Index    []indexer.FieldSpec   `yaml:"index"`
	Force    bool                  `yaml:"force"`
	Mappings []models.FieldMapping `yaml:"mappings"`
	Records  []jobRecord           `yaml:"records"`
}

type jobRecord struct {
	ID     string         `yaml:"id"`
	Fields map[string]any `yaml:"fields"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	jobPath := flag.String("job", "", "path to a job file with index specs, mappings and records")
	flag.Parse()

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("backend", cfg.Store.Backend),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *jobPath, logger); err != nil {
		logger.Error("Run failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, jobPath string, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	var lease indexer.BuildLease
	if redisClient != nil {
		defer redisClient.Close()
		lease = indexer.NewRedisLease(redisClient, cfg.Redis.LeaseTTL, logger)
	}

	segmenter, err := fieldproc.NewSegmenter(cfg.Text.Segmenter, cfg.Text.GseDictPath)
	if err != nil {
		return fmt.Errorf("failed to create segmenter: %w", err)
	}
	registry := fieldproc.NewRegistry(fieldproc.RegistryOptions{
		Segmenter:     segmenter,
		MaxCandidates: cfg.Query.DefaultMaxCandidates,
		Thresholds:    cfg.Text.Thresholds,
	})
	classifier, err := fieldproc.NewClassifier(cfg.Query.FieldTypeCacheSize, logger)
	if err != nil {
		return err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Query.MaxRetries
	retryCfg.InitialDelay = cfg.Query.RetryInitialDelay
	refKind := models.RefKind(cfg.Store.RefKind)

	// Builds are bounded by their context only.
	indexPool := workerpool.New(workerpool.Config{MaxConcurrent: cfg.Index.Workers}, logger)
	defer indexPool.Close()
	queryPool := workerpool.New(workerpool.Config{
		MaxConcurrent: cfg.Query.Workers,
		TaskTimeout:   cfg.Query.TaskTimeout,
	}, logger)
	defer queryPool.Close()

	builder := indexer.NewBuilder(st, registry, classifier, indexPool, lease, indexer.Options{
		BatchSize:              cfg.Index.BatchSize,
		SampleSize:             cfg.Index.SampleSize,
		TableFieldKeywordIndex: cfg.Index.TableFieldKeywordIndex,
		RefKind:                refKind,
		Retry:                  retryCfg,
	}, logger)

	engine, err := query.NewEngine(st, registry, classifier, builder, queryPool, query.Options{
		AutoBuild:            cfg.Query.AutoBuild,
		BatchCandidateFactor: cfg.Query.BatchCandidateFactor,
		PlanCacheSize:        cfg.Query.PlanCacheSize,
		FieldTypeCacheSize:   cfg.Query.FieldTypeCacheSize,
		SampleSize:           cfg.Index.SampleSize,
		TaskTimeout:          cfg.Query.TaskTimeout,
		RefKind:              refKind,
		Retry:                retryCfg,
	}, logger)
	if err != nil {
		return err
	}

	if jobPath == "" {
		logger.Info("No job file given; store and engine are ready")
		return nil
	}
	j, err := loadJob(jobPath)
	if err != nil {
		return err
	}

	if len(j.Index) > 0 {
		for _, res := range builder.BuildIndexes(ctx, j.Index, j.Force) {
			if err := printJSON(res); err != nil {
				return err
			}
		}
	}

	if len(j.Records) > 0 {
		records := make([]models.Record, len(j.Records))
		for i, r := range j.Records {
			records[i] = models.Record{ID: models.RecordID(r.ID), Fields: r.Fields}
		}
		results := engine.QueryBatch(ctx, records, j.Mappings)
		for _, r := range records {
			if err := printJSON(results[r.ID]); err != nil {
				return err
			}
		}
		hits, misses := engine.Plans().Stats()
		logger.Info("Batch finished",
			zap.Int("records", len(records)),
			zap.Int64("plan_cache_hits", hits),
			zap.Int64("plan_cache_misses", misses))
	}
	return nil
}

// openStore migrates the build registry and opens the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	opts := store.Options{
		IDColumn: cfg.Store.IDColumn,
		RefKind:  models.RefKind(cfg.Store.RefKind),
	}

	switch cfg.Store.Backend {
	case string(store.BackendSQLite):
		// Migrations get their own handle; RunMigrations closes it.
		migrationDB, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(migrationDB, database.DialectSQLite, cfg.Store.MigrationsPath, logger); err != nil {
			return nil, err
		}
		db, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqlite.New(db, opts, logger), nil

	default:
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(db.SQL(), database.DialectPostgres, cfg.Store.MigrationsPath, logger); err != nil {
			db.Close()
			return nil, err
		}
		return &pgStore{Store: postgres.New(db, opts, logger), db: db}, nil
	}
}

// pgStore closes the pool it was opened with.
type pgStore struct {
	*postgres.Store
	db *database.DB
}

func (s *pgStore) Close() error {
	s.db.Close()
	return nil
}

func loadJob(path string) (*job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	var j job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}
	return &j, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
