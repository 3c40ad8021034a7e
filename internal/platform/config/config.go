// Package config loads the rua process configuration. Values are resolved in
// order: built-in defaults, an optional YAML file, then RUA_* environment
// variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"rua/internal/blob"
	"rua/internal/core"
	"rua/internal/infra/notify/kafka"
	"rua/internal/platform/logging"
	"rua/internal/platform/telemetry"
)

// Config is the complete process configuration.
type Config struct {
	HTTP    HTTP             `yaml:"http"`
	Log     logging.Config   `yaml:"log"`
	Storage Storage          `yaml:"storage"`
	Blob    Blob             `yaml:"blob"`
	Notify  Notify           `yaml:"notify"`
	Stats   Stats            `yaml:"stats"`
	Policy  Policy           `yaml:"policy"`
	Tracing telemetry.Config `yaml:"tracing"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr            string        `yaml:"addr" validate:"required"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Storage selects the registry store.
type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// Blob selects the document store.
type Blob struct {
	Driver string        `yaml:"driver" validate:"oneof=fs s3 memory"`
	FSRoot string        `yaml:"fs_root"`
	S3     blob.S3Config `yaml:"s3"`
}

// Notify selects how applicant notifications leave the process.
type Notify struct {
	Driver string       `yaml:"driver" validate:"oneof=none memory kafka"`
	Kafka  kafka.Config `yaml:"kafka"`
}

// Stats configures snapshot caching and exports.
type Stats struct {
	RedisAddr string        `yaml:"redis_addr"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// Policy mirrors core.Policy.
type Policy struct {
	StrictEvaluationSequence bool     `yaml:"strict_evaluation_sequence"`
	EvaluationSequence       []string `yaml:"evaluation_sequence" validate:"omitempty,unique,dive,required"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP:    HTTP{Addr: ":8080", MetricsAddr: ":9090", ShutdownTimeout: 15 * time.Second},
		Log:     logging.Config{Level: "info", Format: "json", Output: "stderr"},
		Storage: Storage{Driver: "sqlite", SQLitePath: "rua.db"},
		Blob:    Blob{Driver: string(blob.DriverFilesystem), FSRoot: "./blobdata"},
		Notify:  Notify{Driver: "none", Kafka: kafka.Config{Topic: "rua.notificaciones"}},
		Stats:   Stats{CacheTTL: time.Minute},
		Policy:  Policy{EvaluationSequence: core.DefaultPolicy().EvaluationSequence},
		Tracing: telemetry.Config{Exporter: "none", SampleRatio: 1},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateBlob, Blob{})
	v.RegisterStructValidation(validateNotify, Notify{})
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func validateBlob(sl validator.StructLevel) {
	b := sl.Current().Interface().(Blob)
	if b.Driver == string(blob.DriverS3) && b.S3.Bucket == "" {
		sl.ReportError(b.S3.Bucket, "S3.Bucket", "Bucket", "required_for_s3", "")
	}
}

func validateNotify(sl validator.StructLevel) {
	n := sl.Current().Interface().(Notify)
	if n.Driver != "kafka" {
		return
	}
	if len(n.Kafka.Brokers) == 0 {
		sl.ReportError(n.Kafka.Brokers, "Kafka.Brokers", "Brokers", "required_for_kafka", "")
	}
	if n.Kafka.Topic == "" {
		sl.ReportError(n.Kafka.Topic, "Kafka.Topic", "Topic", "required_for_kafka", "")
	}
}

// StorageConfig converts to the core store configuration.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobConfig converts to the blob factory configuration.
func (c Config) BlobConfig() blob.Config {
	return blob.Config{Driver: blob.Driver(c.Blob.Driver), FSRoot: c.Blob.FSRoot, S3: c.Blob.S3}
}

// CorePolicy converts to the core policy.
func (c Config) CorePolicy() core.Policy {
	return core.Policy{
		StrictEvaluationSequence: c.Policy.StrictEvaluationSequence,
		EvaluationSequence:       append([]string(nil), c.Policy.EvaluationSequence...),
	}
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays RUA_* variables. Blob variables are read through
// blob.ConfigFromEnv so the two stay in step.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("RUA_HTTP_ADDR", &cfg.HTTP.Addr)
	str("RUA_METRICS_ADDR", &cfg.HTTP.MetricsAddr)
	str("RUA_LOG_LEVEL", &cfg.Log.Level)
	str("RUA_LOG_FORMAT", &cfg.Log.Format)
	str("RUA_LOG_OUTPUT", &cfg.Log.Output)
	str("RUA_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("RUA_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("RUA_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("RUA_NOTIFY_DRIVER", &cfg.Notify.Driver)
	str("RUA_KAFKA_TOPIC", &cfg.Notify.Kafka.Topic)
	str("RUA_KAFKA_CLIENT_ID", &cfg.Notify.Kafka.ClientID)
	str("RUA_REDIS_ADDR", &cfg.Stats.RedisAddr)
	str("RUA_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("RUA_TRACING_JSON_PATH", &cfg.Tracing.JSONPath)
	str("RUA_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	if v, ok := lookup("RUA_KAFKA_BROKERS"); ok && v != "" {
		cfg.Notify.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("RUA_EVALUATION_SEQUENCE"); ok && v != "" {
		cfg.Policy.EvaluationSequence = splitList(v)
	}

	durations := map[string]*time.Duration{
		"RUA_HTTP_SHUTDOWN_TIMEOUT": &cfg.HTTP.ShutdownTimeout,
		"RUA_STATS_CACHE_TTL":       &cfg.Stats.CacheTTL,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	if v, ok := lookup("RUA_STRICT_EVALUATION_SEQUENCE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RUA_STRICT_EVALUATION_SEQUENCE: %w", err)
		}
		cfg.Policy.StrictEvaluationSequence = b
	}
	if v, ok := lookup("RUA_TRACING_INSECURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RUA_TRACING_INSECURE: %w", err)
		}
		cfg.Tracing.Insecure = b
	}
	if v, ok := lookup("RUA_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RUA_TRACING_SAMPLE_RATIO: %w", err)
		}
		cfg.Tracing.SampleRatio = f
	}

	env := blob.ConfigFromEnv()
	if env.Driver != "" {
		cfg.Blob.Driver = string(env.Driver)
	}
	if env.FSRoot != "" {
		cfg.Blob.FSRoot = env.FSRoot
	}
	if env.S3.Bucket != "" {
		cfg.Blob.S3.Bucket = env.S3.Bucket
	}
	if env.S3.Region != "" {
		cfg.Blob.S3.Region = env.S3.Region
	}
	if env.S3.Endpoint != "" {
		cfg.Blob.S3.Endpoint = env.S3.Endpoint
	}
	if env.S3.PathStyle {
		cfg.Blob.S3.PathStyle = true
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
