package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/agent/pipeline"
	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/cache"
	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/internal/idempotency"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/internal/migration"
	"github.com/BaSui01/inkflow/internal/pool"
	"github.com/BaSui01/inkflow/internal/telemetry"
	"github.com/BaSui01/inkflow/llm"
	"github.com/BaSui01/inkflow/llm/tools"
	"github.com/BaSui01/inkflow/persistence"
	"github.com/BaSui01/inkflow/workflow"
)

// journalPrefix Redis 活动日志键前缀
const journalPrefix = "inkflow:journal:"

// application 持有一次进程运行的全部组件，按依赖顺序构建、逆序关闭
type application struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry   *telemetry.Providers
	db          *database.PoolManager
	redis       *cache.Manager
	journal     idempotency.Store
	collector   *metrics.Collector
	stores      *persistence.Stores
	coordinator *workflow.Coordinator
}

// newApplication 构建所有组件。失败时已构建的部分会被关闭。
func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *application, err error) {
	a := &application{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		// 追踪不可用不影响服务
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(ctx, cfg.Database, logger); err != nil {
			return nil, err
		}
	}
	a.db, err = database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a.collector = metrics.NewCollector("inkflow", logger)

	switch cfg.Workflow.JournalBackend {
	case "redis":
		a.redis, err = cache.NewManager(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.journal = idempotency.NewRedisStore(a.redis.Client(), journalPrefix, logger)
	default:
		logger.Warn("using in-memory activity journal; interrupted executions replay side effects after a restart")
		a.journal = idempotency.NewMemoryStore(logger)
	}

	generator, err := llm.NewOpenAIGenerator(cfg.LLM, logger, llm.WithUsageObserver(a.collector))
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	var searcher tools.WebSearchProvider
	if cfg.Search.APIKey != "" {
		tavily, err := tools.NewTavilyProvider(cfg.Search, logger)
		if err != nil {
			return nil, fmt.Errorf("create search provider: %w", err)
		}
		searcher = tavily
	} else {
		logger.Warn("search.api_key not configured, web search returns no results")
	}

	a.stores = persistence.NewStores(a.db, cfg.Checkpoint.MaxPerDocument, logger)
	pipe := pipeline.New(pipeline.LimitsFromConfig(cfg.Workflow), logger,
		pipeline.WithObserver(workflow.StageMetrics{Collector: a.collector}))
	executor := workflow.NewActivityExecutor(cfg.Workflow, a.journal, logger,
		workflow.WithExecutorMetrics(a.collector))
	activities := workflow.NewActivities(a.stores, generator, searcher, cfg.Workflow.HistoryLimit, logger)
	if cfg.Search.MaxResults > 0 {
		opts := tools.DefaultWebSearchOptions()
		opts.MaxResults = cfg.Search.MaxResults
		activities.WithSearchOptions(opts)
	}

	a.coordinator, err = workflow.NewCoordinator(workflow.Dependencies{
		Pipeline:   pipe,
		Executor:   executor,
		Activities: activities,
		Executions: a.stores.Executions,
	}, logger,
		workflow.WithPool(pool.NewGoroutinePool(pool.ConfigFromWorkflow(cfg.Workflow), logger)),
		workflow.WithMetrics(a.collector),
	)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	return a, nil
}

// reportDBStats 定期把连接池状态写入指标，直到 ctx 结束
func (a *application) reportDBStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.db.Stats()
			a.collector.RecordDBConnections(a.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
		}
	}
}

// Close 逆序关闭组件
func (a *application) Close() error {
	var errs []error
	if a.coordinator != nil {
		a.coordinator.Close()
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// migrateUp 以独立连接执行全部待应用的迁移
func migrateUp(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := migration.NewMigratorFromConfig(dbCfg)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	info, err := m.Info(ctx)
	if err == nil {
		logger.Info("database migrated", zap.Uint("version", info.CurrentVersion))
	}
	return nil
}
