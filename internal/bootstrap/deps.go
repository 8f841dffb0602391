package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/elie222/inbox-zero-sub011/adapter/out/persistence"
	"github.com/elie222/inbox-zero-sub011/adapter/out/provider"
	"github.com/elie222/inbox-zero-sub011/config"
	"github.com/elie222/inbox-zero-sub011/core/ai"
	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/core/service/classify"
	"github.com/elie222/inbox-zero-sub011/core/service/digest"
	"github.com/elie222/inbox-zero-sub011/core/service/pipeline"
	"github.com/elie222/inbox-zero-sub011/core/service/rules"
	"github.com/elie222/inbox-zero-sub011/core/service/tracker"
	"github.com/elie222/inbox-zero-sub011/infra/database"
	"github.com/elie222/inbox-zero-sub011/internal/stream"
	"github.com/elie222/inbox-zero-sub011/pkg/cache"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Dependencies wires every adapter and service the engine needs. Both
// the API and the worker build from the same graph so each mode sees
// identical semantics.
type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	Accounts out.AccountRepository
	Rules    out.RuleRepository
	Executed out.ExecutedRuleRepository
	Trackers out.ThreadTrackerRepository
	Senders  out.SenderRepository
	Groups   out.GroupRepository
	Digests  out.DigestRepository

	// Infrastructure
	Cache     out.Cache
	Queue     out.JobQueue
	Stream    *stream.RedisStream
	Providers out.ProviderFactory
	AI        *ai.Client

	// Services
	Matcher        *rules.Matcher
	Executor       *rules.Executor
	Learner        *rules.PatternLearner
	ColdBlocker    *classify.ColdEmailBlocker
	Categorizer    *classify.Categorizer
	TrackerService *tracker.Service
	DigestService  *digest.Service
	Orchestrator   *pipeline.Orchestrator
}

// consumerGroup is shared by every worker instance so the streams fan
// out across replicas instead of duplicating deliveries.
const consumerGroup = "engine-workers"

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Database (pgxpool for health checks and pool stats)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the adapters). Simple protocol avoids prepared
	// statement conflicts behind PgBouncer.
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	deps.Cache = cache.NewRedisCache(redisClient)
	deps.Stream = stream.NewRedisStream(redisClient, consumerGroup)
	deps.Queue = stream.NewProducer(deps.Stream)

	// Repositories
	deps.Accounts = persistence.NewAccountAdapter(sqlDB)
	deps.Rules = persistence.NewRuleAdapter(sqlDB)
	deps.Executed = persistence.NewExecutedRuleAdapter(sqlDB)
	deps.Trackers = persistence.NewTrackerAdapter(sqlDB)
	deps.Senders = persistence.NewSenderAdapter(sqlDB)
	deps.Groups = persistence.NewGroupAdapter(sqlDB)
	deps.Digests = persistence.NewDigestAdapter(sqlDB)

	// Mail providers. Tokens refreshed by the oauth transport are saved
	// back through the token adapter.
	tokens := persistence.NewTokenAdapter(sqlDB)
	deps.Providers = provider.NewFactory(provider.FactoryConfig{
		Google: provider.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			PubSubTopic:  cfg.GoogleTopicName,
		},
		Microsoft: provider.MicrosoftConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			TenantID:     cfg.MicrosoftTenantID,
			WebhookURL:   cfg.MicrosoftWebhookURL,
			ClientState:  cfg.MicrosoftClientState,
		},
	}, tokens)

	// AI client. Classifier outages degrade rather than block: cold
	// email falls through to "not cold" and criteria rules to no-match.
	deps.AI = ai.NewClient(ai.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	})

	// Services
	log := logger.Default()
	deps.TrackerService = tracker.New(deps.Trackers, log)
	deps.Matcher = rules.NewMatcher(deps.Rules, deps.Senders, deps.Groups, deps.AI, log)
	deps.Executor = rules.NewExecutor(deps.Executed, deps.Digests, deps.TrackerService, deps.Queue, log)
	deps.Learner = rules.NewPatternLearner(deps.Executed, deps.Senders, log)
	deps.ColdBlocker = classify.NewColdEmailBlocker(deps.Senders, deps.AI, cfg.ColdEmailLabel, log)
	deps.Categorizer = classify.NewCategorizer(deps.Senders, deps.AI, log)
	deps.DigestService = digest.New(deps.Digests, deps.Accounts, deps.Providers, deps.Queue, cfg.DigestBatchSize, log)

	guard := pipeline.NewGuard(deps.Cache, deps.Executed, cfg.ProcessingLockTTL, log)
	deps.Orchestrator = pipeline.New(pipeline.Deps{
		Guard:       guard,
		Accounts:    deps.Accounts,
		Providers:   deps.Providers,
		Senders:     deps.Senders,
		ColdBlocker: deps.ColdBlocker,
		Categorizer: deps.Categorizer,
		Matcher:     deps.Matcher,
		Executor:    deps.Executor,
		Trackers:    deps.TrackerService,
		Assistant:   assistantStub(log),

		AssistantTag: cfg.AssistantAlias,

		Log: log,
	})

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

// assistantStub acknowledges messages addressed to the assistant alias.
// Conversational handling lives outside this engine; the stub keeps the
// pipeline from treating assistant mail as ordinary inbound.
func assistantStub(log *logger.Logger) pipeline.AssistantHook {
	return func(ctx context.Context, account *domain.Account, msg *domain.Message) error {
		log.WithFields(map[string]any{
			"account_id": account.ID.String(),
			"message_id": msg.ID,
		}).Info("assistant message received, no handler configured")
		return nil
	}
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}
	return d.Redis.Ping(ctx).Err()
}
