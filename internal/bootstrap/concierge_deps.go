// Package bootstrap wires configuration, storage, and services into the
// process entrypoints.
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/AliedRevenue/family-concierge-sub000/adapter/out/persistence"
	"github.com/AliedRevenue/family-concierge-sub000/adapter/out/provider"
	"github.com/AliedRevenue/family-concierge-sub000/config"
	"github.com/AliedRevenue/family-concierge-sub000/core/agent/llm"
	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/assign"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/classify"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/dashboard"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/digest"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/discovery"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/items"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/orchestrator"
	"github.com/AliedRevenue/family-concierge-sub000/infra/database"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/cache"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/ratelimit"
)

// Dependencies holds every wired component. Optional pieces (redis, LLM) are
// nil when unconfigured; consumers degrade rather than fail.
type Dependencies struct {
	Config *config.Config
	Agent  *config.AgentConfig

	DB    *pgxpool.Pool
	SQLDB *sqlx.DB
	Redis *redis.Client

	Cache   *cache.RedisCache
	Dedup   *cache.DedupCache
	RunLock *cache.RunLock

	Messages   domain.ProcessedMessageRepository
	Items      domain.ItemRepository
	Audit      domain.AuditRepository
	Events     domain.EventRepository
	Operations domain.OperationRepository
	Tokens     domain.TokenRepository
	Dismissals domain.DismissalRepository
	Forwards   domain.ForwardRepository
	Query      *persistence.QueryAdapter

	Mail out.MailSource

	Engine       *discovery.Engine
	Orchestrator *orchestrator.Orchestrator
	Dashboards   *dashboard.Service
	ItemService  *items.Service
	Digests      *digest.Builder
}

// NewDependencies builds the full dependency graph.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	agent, err := config.LoadAgent(cfg.AgentConfigPath)
	if err != nil {
		return nil, nil, err
	}
	deps.Agent = agent

	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("database url is not configured")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to connect via sqlx: %w", err)
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, continuing without dedup cache")
		} else {
			deps.Redis = rdb
			deps.Cache = cache.NewRedisCache(rdb)
			deps.Dedup = cache.NewDedupCache(deps.Cache)
			deps.RunLock = cache.NewRunLock(deps.Cache)
			cleanups = append(cleanups, func() { rdb.Close() })
		}
	}

	// Repositories
	deps.Messages = persistence.NewProcessedMessageAdapter(sqlDB)
	deps.Items = persistence.NewItemAdapter(sqlDB)
	deps.Audit = persistence.NewAuditAdapter(sqlDB)
	deps.Events = persistence.NewEventAdapter(sqlDB)
	deps.Operations = persistence.NewOperationAdapter(sqlDB)
	deps.Tokens = persistence.NewTokenAdapter(sqlDB)
	deps.Dismissals = persistence.NewDismissalAdapter(sqlDB)
	deps.Forwards = persistence.NewForwardAdapter(sqlDB)
	deps.Query = persistence.NewQueryAdapter(sqlDB)

	// Mail source
	deps.Mail = provider.NewGmailAdapter(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		RefreshToken: cfg.GoogleRefreshToken,
		Limiter:      ratelimit.NewMailLimiter(deps.Redis, 10, 20),
	})

	// Classification stack
	var classifier out.ItemClassifier
	if cfg.StageBEnabled() {
		classifier = llm.NewClientWithConfig(llm.ClientConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.LLMMaxTokens,
		})
		logger.Info("second-stage classifier enabled: model=%s", cfg.LLMModel)
	}

	assigner := assign.New(agent.Family.Members, agent.Family.Assignments, cfg.PersonAssignmentEnabled)
	relevance := classify.NewRelevanceScorer()
	categories := classify.NewCategoryClassifier()
	itemTypes := classify.NewItemTypeClassifier(classifier, cfg.LLMTimeout)

	deps.Engine = discovery.NewEngine(
		deps.Mail, deps.Items, deps.Messages, deps.Audit,
		assigner, relevance, categories, itemTypes, deps.Dedup,
	)

	limits := discovery.Limits{
		LookbackDays:    agent.Processing.LookbackDays,
		MaxEmailsPerRun: agent.Processing.MaxEmailsPerRun,
		Workers:         cfg.DiscoveryWorkers,
		MailTimeout:     cfg.MailTimeout,
	}
	deps.Orchestrator = orchestrator.New(
		deps.Engine, deps.Items, deps.Tokens, deps.Audit, agent, cfg.Mode, limits,
	)

	deps.Dashboards = dashboard.New(deps.Query)
	deps.ItemService = items.New(deps.Items, deps.Dismissals)
	deps.Digests = digest.NewBuilder(deps.Query, deps.Forwards, deps.Dismissals, deps.Audit)

	return deps, cleanup, nil
}
