package config

// EnvPrefix namespaces every environment variable the engine reads.
const EnvPrefix = "BRIA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "BRIA_APP_ENV"
	EnvAppPort  = "BRIA_APP_PORT"
	EnvDBDSN    = "BRIA_PG_DSN"
	EnvDBHost   = "BRIA_DB_HOST"
	EnvDBUser   = "BRIA_DB_USER"
	EnvDBName   = "BRIA_DB_NAME"
	EnvRedisURL = "BRIA_REDIS_URL"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// Signer backend selectors. The backend is fixed at configuration time;
// there is no runtime switching between local and remote signing.
const (
	SignerBackendLocal  = "local"
	SignerBackendRemote = "remote"
)
