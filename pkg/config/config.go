package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Delivery     DeliveryConfig
	Regions      RegionsConfig
	ThirdParty   ThirdPartyConfig
	DeadLetter   DeadLetterConfig
	Metrics      MetricsConfig
	Admin        AdminConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Delivery.Validate(); err != nil {
		return nil, err
	}
	if cfg.Delivery.DispatchMode == DispatchModePubSub {
		if strings.TrimSpace(cfg.PubSub.DrainTopic) == "" {
			return nil, fmt.Errorf("%s is required when dispatch mode is %s", EnvPubSubDrainTopic, DispatchModePubSub)
		}
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RELAY_APP_ENV" required:"true"`
	Port         string `envconfig:"RELAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"RELAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RELAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RELAY_SERVICE_KIND" default:"scheduler"`
}

type DBConfig struct {
	DSN    string `envconfig:"RELAY_DB_DSN"`
	Driver string `envconfig:"RELAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RELAY_DB_HOST"`
	LegacyPort     int    `envconfig:"RELAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RELAY_DB_USER"`
	LegacyPassword string `envconfig:"RELAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"RELAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"RELAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RELAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RELAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RELAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RELAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"RELAY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RELAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RELAY_REDIS_ADDR"`
	Password     string        `envconfig:"RELAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"RELAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RELAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RELAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RELAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RELAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RELAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RELAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RELAY_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RELAY_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"RELAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DrainTopic        string        `envconfig:"RELAY_PUBSUB_DRAIN_TOPIC"`
	DrainSubscription string        `envconfig:"RELAY_PUBSUB_DRAIN_SUBSCRIPTION"`
	IdempotencyTTL    time.Duration `envconfig:"RELAY_PUBSUB_IDEMPOTENCY_TTL" default:"10m"`
	// MaxOutstanding bounds drain tasks a worker holds at once; each one may
	// run a full mailbox drain.
	MaxOutstanding int           `envconfig:"RELAY_PUBSUB_MAX_OUTSTANDING" default:"8"`
	PublishDelay   time.Duration `envconfig:"RELAY_PUBSUB_PUBLISH_DELAY" default:"10ms"`
}

// DeliveryConfig carries the scheduling and retry tunables of the delivery engine.
type DeliveryConfig struct {
	MaxAttempts         int            `envconfig:"RELAY_DELIVERY_MAX_ATTEMPTS" default:"10"`
	BackoffInterval     time.Duration  `envconfig:"RELAY_DELIVERY_BACKOFF_INTERVAL" default:"3m"`
	BackoffRate         float64        `envconfig:"RELAY_DELIVERY_BACKOFF_RATE" default:"1.4"`
	MaxBackoff          time.Duration  `envconfig:"RELAY_DELIVERY_MAX_BACKOFF" default:"60m"`
	BatchScheduleOffset time.Duration  `envconfig:"RELAY_DELIVERY_BATCH_SCHEDULE_OFFSET" default:"3m"`
	BatchSize           int            `envconfig:"RELAY_DELIVERY_BATCH_SIZE" default:"1000"`
	MaxMailboxDrain     int            `envconfig:"RELAY_DELIVERY_MAX_MAILBOX_DRAIN" default:"300"`
	SequentialSlice     int            `envconfig:"RELAY_DELIVERY_SEQUENTIAL_SLICE" default:"100"`
	MaxDeliveryAge      time.Duration  `envconfig:"RELAY_DELIVERY_MAX_AGE" default:"72h"`
	StaleDiscardBatch   int            `envconfig:"RELAY_DELIVERY_STALE_DISCARD_BATCH" default:"10000"`
	WorkerThreads       int            `envconfig:"RELAY_DELIVERY_WORKER_THREADS" default:"4"`
	ScheduleInterval    time.Duration  `envconfig:"RELAY_DELIVERY_SCHEDULE_INTERVAL" default:"10s"`
	InlineWorkers       int            `envconfig:"RELAY_DELIVERY_INLINE_WORKERS" default:"16"`
	DispatchMode        string         `envconfig:"RELAY_DELIVERY_DISPATCH_MODE" default:"pubsub"`
	ProviderPriorities  map[string]int `envconfig:"RELAY_DELIVERY_PROVIDER_PRIORITIES" default:"stripe:1"`
	DefaultPriority     int            `envconfig:"RELAY_DELIVERY_DEFAULT_PRIORITY" default:"10"`
}

// Validate rejects tunables that would stall or spin the scheduler.
func (d DeliveryConfig) Validate() error {
	positives := map[string]int{
		EnvDeliveryMaxAttempts:     d.MaxAttempts,
		EnvDeliveryBatchSize:       d.BatchSize,
		EnvDeliveryMaxMailboxDrain: d.MaxMailboxDrain,
		EnvDeliverySequentialSlice: d.SequentialSlice,
		EnvDeliveryStaleBatch:      d.StaleDiscardBatch,
		EnvDeliveryWorkerThreads:   d.WorkerThreads,
	}
	for _, name := range deliveryIntVars {
		if positives[name] <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if d.BackoffInterval <= 0 || d.BatchScheduleOffset <= 0 || d.MaxDeliveryAge <= 0 {
		return fmt.Errorf("delivery durations must be positive")
	}
	if d.BackoffRate < 1 {
		return fmt.Errorf("%s must be >= 1", EnvDeliveryBackoffRate)
	}
	switch d.DispatchMode {
	case DispatchModePubSub, DispatchModeInline:
	default:
		return fmt.Errorf("%s must be %s or %s", EnvDeliveryDispatchMode, DispatchModePubSub, DispatchModeInline)
	}
	return nil
}

// ParallelThreshold is the leased-window size at which a mailbox is drained in parallel.
func (d DeliveryConfig) ParallelThreshold() int {
	return d.MaxMailboxDrain / 5
}

// RegionsConfig lists the region silos payloads can be routed to.
type RegionsConfig struct {
	Addresses      RegionAddresses `envconfig:"RELAY_REGION_ADDRESSES"`
	RequestTimeout time.Duration   `envconfig:"RELAY_REGION_REQUEST_TIMEOUT" default:"10s"`
	SharedSecret   string          `envconfig:"RELAY_REGION_SHARED_SECRET"`
	RestrictedCIDR []string        `envconfig:"RELAY_REGION_RESTRICTED_CIDRS"`
}

// RegionAddresses maps region names to base URLs. It decodes a comma
// separated list of name=url pairs; URLs keep their scheme and port colons.
type RegionAddresses map[string]string

func (r *RegionAddresses) Decode(value string) error {
	out := RegionAddresses{}
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, addr, ok := strings.Cut(item, "=")
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if !ok || name == "" || addr == "" {
			return fmt.Errorf("invalid region address %q: want name=url", item)
		}
		if _, dup := out[name]; dup {
			return fmt.Errorf("region %q listed twice", name)
		}
		out[name] = addr
	}
	*r = out
	return nil
}

// ThirdPartyConfig describes the best-effort third party forwarding destination.
type ThirdPartyConfig struct {
	BaseURL         string        `envconfig:"RELAY_THIRD_PARTY_BASE_URL"`
	Token           string        `envconfig:"RELAY_THIRD_PARTY_TOKEN"`
	SourcePath      string        `envconfig:"RELAY_THIRD_PARTY_SOURCE_PATH" default:"/extensions/github/webhook/"`
	ForwardEndpoint string        `envconfig:"RELAY_THIRD_PARTY_FORWARD_ENDPOINT" default:"/webhooks/sentry"`
	SkipOwners      []string      `envconfig:"RELAY_THIRD_PARTY_SKIP_OWNERS"`
	Timeout         time.Duration `envconfig:"RELAY_THIRD_PARTY_TIMEOUT" default:"10s"`
	TokenIssuer     string        `envconfig:"RELAY_THIRD_PARTY_TOKEN_ISSUER" default:"webhook-relay"`
	TokenTTL        time.Duration `envconfig:"RELAY_THIRD_PARTY_TOKEN_TTL" default:"5m"`
}

// Configured reports whether the third party destination can be reached at all.
func (t ThirdPartyConfig) Configured() bool {
	return strings.TrimSpace(t.BaseURL) != "" && strings.TrimSpace(t.Token) != ""
}

type DeadLetterConfig struct {
	RetentionDays int `envconfig:"RELAY_DEAD_LETTER_RETENTION_DAYS" default:"30"`
}

// AdminConfig guards the operator endpoints. An empty secret disables them.
type AdminConfig struct {
	JWTSecret string        `envconfig:"RELAY_ADMIN_JWT_SECRET"`
	Issuer    string        `envconfig:"RELAY_ADMIN_JWT_ISSUER" default:"webhook-relay-admin"`
	TokenTTL  time.Duration `envconfig:"RELAY_ADMIN_TOKEN_TTL" default:"15m"`
}

func (a AdminConfig) Enabled() bool {
	return strings.TrimSpace(a.JWTSecret) != ""
}

// CronConfig drives cmd/cron-worker; every job runs once per interval.
type CronConfig struct {
	Interval time.Duration `envconfig:"RELAY_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"RELAY_CRON_LOCK_TTL" default:"5m"`
}

type MetricsConfig struct {
	Address string `envconfig:"RELAY_METRICS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DBDriverSQLite
		if db.DSN == "" {
			db.DSN = "file:relay.db?cache=shared"
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
