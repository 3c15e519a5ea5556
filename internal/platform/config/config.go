package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

const defaultEnvFile = ".env"

// OrderServiceName is the registry key the validators use to reach the order facade.
const OrderServiceName = "orders"

// Service names the binary whose configuration is being loaded. Validation differs per service.
type Service string

const (
	ServiceOrder   Service = "order-service"
	ServiceDispute Service = "dispute-service"
	ServiceReview  Service = "review-service"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Service     Service
	Server      ServerConfig
	Log         LogConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Postgres    PostgresConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	ServiceAuth ServiceAuthConfig
	OrderClient OrderClientConfig
	Review      ReviewConfig

	// Raw registry inputs. Services holds the merged, validated result.
	ServiceURLs     string          `env:"SERVICE_URLS"`
	OrderServiceURL string          `env:"ORDER_SERVICE_URL"`
	Services        ServiceRegistry
}

// ServerConfig configures the public listener and the admin listener serving /metrics.
type ServerConfig struct {
	Addr            string        `env:"HTTP_ADDR" env-default:":8080"`
	AdminAddr       string        `env:"ADMIN_ADDR" env-default:":9090"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string `env:"FIREBASE_PROJECT_ID"`
	CredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	CheckRevoked    bool   `env:"FIREBASE_CHECK_REVOKED" env-default:"false"`
}

// FirestoreConfig stores database parameters. ProjectID defaults to the Firebase project.
type FirestoreConfig struct {
	ProjectID       string        `env:"FIRESTORE_PROJECT_ID"`
	DatabaseID      string        `env:"FIRESTORE_DATABASE_ID" env-default:"(default)"`
	EmulatorHost    string        `env:"FIRESTORE_EMULATOR_HOST"`
	CredentialsFile string        `env:"FIRESTORE_CREDENTIALS_FILE"`
	DialTimeout     time.Duration `env:"FIRESTORE_DIAL_TIMEOUT" env-default:"10s"`
}

type PubSubConfig struct {
	ProjectID   string `env:"PUBSUB_PROJECT_ID"`
	OrderTopic  string `env:"PUBSUB_ORDER_TOPIC" env-default:"order-events"`
	ReviewTopic string `env:"PUBSUB_REVIEW_TOPIC" env-default:"review-events"`
}

type PostgresConfig struct {
	DSN             string        `env:"POSTGRES_DSN"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" env-default:"30m"`
	AutoMigrate     bool          `env:"POSTGRES_AUTO_MIGRATE" env-default:"true"`
}

type KafkaConfig struct {
	Brokers      []string `env:"KAFKA_BROKERS" env-separator:","`
	DisputeTopic string   `env:"KAFKA_DISPUTE_TOPIC" env-default:"dispute-events"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// IdempotencyConfig controls the Idempotency-Key middleware.
type IdempotencyConfig struct {
	Header string        `env:"IDEMPOTENCY_HEADER" env-default:"Idempotency-Key"`
	TTL    time.Duration `env:"IDEMPOTENCY_TTL" env-default:"24h"`
}

// ServiceAuthConfig configures HS256 service tokens exchanged between the services.
type ServiceAuthConfig struct {
	Issuer     string        `env:"SERVICE_TOKEN_ISSUER" env-default:"furnishop-internal"`
	Audience   string        `env:"SERVICE_TOKEN_AUDIENCE" env-default:"order-service"`
	SigningKey string        `env:"SERVICE_TOKEN_SIGNING_KEY"`
	TTL        time.Duration `env:"SERVICE_TOKEN_TTL" env-default:"5m"`
}

type OrderClientConfig struct {
	Timeout time.Duration `env:"ORDER_CLIENT_TIMEOUT" env-default:"3s"`
}

type ReviewConfig struct {
	EligibilityMode string        `env:"REVIEW_ELIGIBILITY_MODE" env-default:"query"`
	ScanLimit       int           `env:"REVIEW_SCAN_LIMIT" env-default:"100"`
	// Per-customer submission throttle. A zero limit disables it.
	RateLimit  int           `env:"REVIEW_RATE_LIMIT" env-default:"10"`
	RateWindow time.Duration `env:"REVIEW_RATE_WINDOW" env-default:"1m"`
}

// SecretResolver resolves references to external secrets (Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field found while loading.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile string
	secret  SecretResolver
}

// WithEnvFile overrides the .env file path. An empty path skips dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// LoadDotEnv merges the optional .env file into the process environment without overriding
// variables that are already set. Callers that need settings before Load (the secret
// resolver's project id) invoke it first.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load assembles configuration for service from the .env file, environment variables and
// Secret Manager references.
func Load(ctx context.Context, service Service, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile}
	for _, opt := range opts {
		opt(&options)
	}

	if err := LoadDotEnv(options.envFile); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read environment: %w", err)
	}
	cfg.Service = service

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Firestore.CredentialsFile == "" {
		cfg.Firestore.CredentialsFile = cfg.Firebase.CredentialsFile
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.ServiceAuth.SigningKey,
		&cfg.Postgres.DSN,
		&cfg.Redis.Password,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	var invalid []string
	registry, registryErrs := buildServiceRegistry(cfg.ServiceURLs, cfg.OrderServiceURL)
	cfg.Services = registry
	invalid = append(invalid, registryErrs...)
	invalid = append(invalid, validate(cfg)...)
	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

func validate(cfg Config) []string {
	var invalid []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			invalid = append(invalid, name)
		}
	}

	require("Server.Addr", cfg.Server.Addr)
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		invalid = append(invalid, "Log.Level")
	}
	require("Firebase.ProjectID", cfg.Firebase.ProjectID)
	require("ServiceAuth.Issuer", cfg.ServiceAuth.Issuer)
	require("ServiceAuth.SigningKey", cfg.ServiceAuth.SigningKey)
	if cfg.ServiceAuth.TTL <= 0 {
		invalid = append(invalid, "ServiceAuth.TTL")
	}

	switch cfg.Service {
	case ServiceOrder:
		require("Firestore.ProjectID", cfg.Firestore.ProjectID)
		require("PubSub.OrderTopic", cfg.PubSub.OrderTopic)
	case ServiceDispute:
		require("Postgres.DSN", cfg.Postgres.DSN)
		if len(cfg.Kafka.Brokers) == 0 {
			invalid = append(invalid, "Kafka.Brokers")
		}
		require("Kafka.DisputeTopic", cfg.Kafka.DisputeTopic)
		require("Redis.Addr", cfg.Redis.Addr)
		require("Idempotency.Header", cfg.Idempotency.Header)
		if cfg.Idempotency.TTL <= 0 {
			invalid = append(invalid, "Idempotency.TTL")
		}
		invalid = append(invalid, validateOrderClient(cfg)...)
	case ServiceReview:
		require("Firestore.ProjectID", cfg.Firestore.ProjectID)
		require("PubSub.ReviewTopic", cfg.PubSub.ReviewTopic)
		switch strings.ToLower(strings.TrimSpace(cfg.Review.EligibilityMode)) {
		case "query", "scan":
		default:
			invalid = append(invalid, "Review.EligibilityMode")
		}
		if cfg.Review.ScanLimit <= 0 {
			invalid = append(invalid, "Review.ScanLimit")
		}
		invalid = append(invalid, validateOrderClient(cfg)...)
	default:
		invalid = append(invalid, "Service")
	}
	return invalid
}

func validateOrderClient(cfg Config) []string {
	var invalid []string
	if _, ok := cfg.Services.URL(OrderServiceName); !ok {
		invalid = append(invalid, "Services["+OrderServiceName+"]")
	}
	if cfg.OrderClient.Timeout <= 0 {
		invalid = append(invalid, "OrderClient.Timeout")
	}
	return invalid
}

// ServiceRegistry maps logical service names onto validated base URLs.
type ServiceRegistry map[string]string

// URL returns the base URL registered for name without a trailing slash.
func (r ServiceRegistry) URL(name string) (string, bool) {
	value, ok := r[strings.ToLower(strings.TrimSpace(name))]
	return value, ok && value != ""
}

// buildServiceRegistry parses SERVICE_URLS ("name=url,name=url") and lets ORDER_SERVICE_URL
// override the orders entry. Each entry must be an absolute http or https URL.
func buildServiceRegistry(serviceURLs, orderServiceURL string) (ServiceRegistry, []string) {
	registry := ServiceRegistry{}
	var invalid []string

	add := func(name, raw string) {
		field := "Services[" + name + "]"
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			invalid = append(invalid, field)
			return
		}
		registry[name] = strings.TrimRight(parsed.String(), "/")
	}

	for _, entry := range strings.Split(serviceURLs, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, raw, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			invalid = append(invalid, "ServiceURLs")
			continue
		}
		add(name, raw)
	}
	if strings.TrimSpace(orderServiceURL) != "" {
		add(OrderServiceName, orderServiceURL)
	}
	return registry, invalid
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}
