package config

const EnvPrefix = "RELAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	DispatchModePubSub = "pubsub"
	DispatchModeInline = "inline"
)

const (
	EnvAppEnv   = "RELAY_APP_ENV"
	EnvPort     = "RELAY_APP_PORT"
	EnvLogLevel = "RELAY_LOG_LEVEL"

	EnvDBDSN     = "RELAY_DB_DSN"
	EnvDBHost    = "RELAY_DB_HOST"
	EnvDBUser    = "RELAY_DB_USER"
	EnvDBName    = "RELAY_DB_NAME"
	EnvUseSQLite = "RELAY_USE_SQLITE"

	EnvRedisURL = "RELAY_REDIS_URL"

	EnvGCPProjectID          = "RELAY_GCP_PROJECT_ID"
	EnvPubSubDrainTopic      = "RELAY_PUBSUB_DRAIN_TOPIC"
	EnvPubSubDrainSub        = "RELAY_PUBSUB_DRAIN_SUBSCRIPTION"
	EnvPubSubIdempotencyTTL  = "RELAY_PUBSUB_IDEMPOTENCY_TTL"
	EnvDeliveryMaxAttempts   = "RELAY_DELIVERY_MAX_ATTEMPTS"
	EnvDeliveryBackoffRate   = "RELAY_DELIVERY_BACKOFF_RATE"
	EnvDeliveryBatchSize     = "RELAY_DELIVERY_BATCH_SIZE"
	EnvDeliveryDispatchMode  = "RELAY_DELIVERY_DISPATCH_MODE"
	EnvDeliveryPriorities    = "RELAY_DELIVERY_PROVIDER_PRIORITIES"
	EnvDeliveryWorkerThreads = "RELAY_DELIVERY_WORKER_THREADS"

	EnvDeliveryMaxMailboxDrain = "RELAY_DELIVERY_MAX_MAILBOX_DRAIN"
	EnvDeliverySequentialSlice = "RELAY_DELIVERY_SEQUENTIAL_SLICE"
	EnvDeliveryStaleBatch      = "RELAY_DELIVERY_STALE_DISCARD_BATCH"

	EnvRegionAddresses      = "RELAY_REGION_ADDRESSES"
	EnvRegionRestrictedCIDR = "RELAY_REGION_RESTRICTED_CIDRS"
	EnvThirdPartyBaseURL    = "RELAY_THIRD_PARTY_BASE_URL"
	EnvThirdPartyToken      = "RELAY_THIRD_PARTY_TOKEN"
	EnvThirdPartySkipOwners = "RELAY_THIRD_PARTY_SKIP_OWNERS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

var deliveryIntVars = []string{
	EnvDeliveryMaxAttempts,
	EnvDeliveryBatchSize,
	EnvDeliveryMaxMailboxDrain,
	EnvDeliverySequentialSlice,
	EnvDeliveryStaleBatch,
	EnvDeliveryWorkerThreads,
}
