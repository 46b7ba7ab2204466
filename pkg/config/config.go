package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SMARTRENT_DB_DSN"
	EnvDBHost = "SMARTRENT_DB_HOST"
	EnvDBUser = "SMARTRENT_DB_USER"
	EnvDBName = "SMARTRENT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	VNPay        VNPayConfig
	PayPal       PayPalConfig
	MoMo         MoMoConfig
	Payment      PaymentConfig
	Settlement   SettlementConfig
	FeatureFlags FeatureFlagsConfig
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SMARTRENT_AUTO_MIGRATE" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SMARTRENT_APP_ENV" required:"true"`
	Port         string `envconfig:"SMARTRENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SMARTRENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SMARTRENT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SMARTRENT_DB_DSN"`
	Driver string `envconfig:"SMARTRENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SMARTRENT_DB_HOST"`
	LegacyPort     int    `envconfig:"SMARTRENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SMARTRENT_DB_USER"`
	LegacyPassword string `envconfig:"SMARTRENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SMARTRENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SMARTRENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SMARTRENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SMARTRENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SMARTRENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SMARTRENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SMARTRENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SMARTRENT_REDIS_ADDR"`
	Password     string        `envconfig:"SMARTRENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SMARTRENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SMARTRENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SMARTRENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SMARTRENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SMARTRENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SMARTRENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SMARTRENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SMARTRENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SMARTRENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type VNPayConfig struct {
	TmnCode    string        `envconfig:"SMARTRENT_VNPAY_TMN_CODE"`
	HashSecret string        `envconfig:"SMARTRENT_VNPAY_HASH_SECRET"`
	PayURL     string        `envconfig:"SMARTRENT_VNPAY_PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	APIURL     string        `envconfig:"SMARTRENT_VNPAY_API_URL" default:"https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"`
	ReturnURL  string        `envconfig:"SMARTRENT_VNPAY_RETURN_URL"`
	Timeout    time.Duration `envconfig:"SMARTRENT_VNPAY_TIMEOUT" default:"10s"`
}

type PayPalConfig struct {
	ClientID string        `envconfig:"SMARTRENT_PAYPAL_CLIENT_ID"`
	Secret   string        `envconfig:"SMARTRENT_PAYPAL_SECRET"`
	BaseURL  string        `envconfig:"SMARTRENT_PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`
	Timeout  time.Duration `envconfig:"SMARTRENT_PAYPAL_TIMEOUT" default:"15s"`
}

type MoMoConfig struct {
	PartnerCode string        `envconfig:"SMARTRENT_MOMO_PARTNER_CODE"`
	AccessKey   string        `envconfig:"SMARTRENT_MOMO_ACCESS_KEY"`
	SecretKey   string        `envconfig:"SMARTRENT_MOMO_SECRET_KEY"`
	Endpoint    string        `envconfig:"SMARTRENT_MOMO_ENDPOINT" default:"https://test-payment.momo.vn/v2/gateway/api"`
	RedirectURL string        `envconfig:"SMARTRENT_MOMO_REDIRECT_URL"`
	IPNURL      string        `envconfig:"SMARTRENT_MOMO_IPN_URL"`
	Timeout     time.Duration `envconfig:"SMARTRENT_MOMO_TIMEOUT" default:"10s"`
}

type PaymentConfig struct {
	PendingTTL         time.Duration `envconfig:"SMARTRENT_PAYMENT_PENDING_TTL" default:"24h"`
	IdempotencyTTL     time.Duration `envconfig:"SMARTRENT_PAYMENT_IDEMPOTENCY_TTL" default:"168h"`
	EventGuardTTL      time.Duration `envconfig:"SMARTRENT_PAYMENT_EVENT_GUARD_TTL" default:"720h"`
	CallbackRateLimit  int           `envconfig:"SMARTRENT_PAYMENT_CALLBACK_RATE_LIMIT" default:"120"`
	CallbackRateWindow time.Duration `envconfig:"SMARTRENT_PAYMENT_CALLBACK_RATE_WINDOW" default:"1m"`
}

type SettlementConfig struct {
	BatchSize      int           `envconfig:"SMARTRENT_SETTLEMENT_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SMARTRENT_SETTLEMENT_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SMARTRENT_SETTLEMENT_MAX_ATTEMPTS" default:"10"`
	BaseDelay      time.Duration `envconfig:"SMARTRENT_SETTLEMENT_BASE_DELAY" default:"1s"`
	MaxDelay       time.Duration `envconfig:"SMARTRENT_SETTLEMENT_MAX_DELAY" default:"5m"`
	ExpireInterval time.Duration `envconfig:"SMARTRENT_SETTLEMENT_EXPIRE_INTERVAL" default:"1m"`
	ClaimLease     time.Duration `envconfig:"SMARTRENT_SETTLEMENT_CLAIM_LEASE" default:"2m"`
}

func (db *DBConfig) ensureDSN() error {
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
