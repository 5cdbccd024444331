package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/WhoopInc/mkwheelhouse/internal/builder"
	"github.com/WhoopInc/mkwheelhouse/internal/notify"
	"github.com/WhoopInc/mkwheelhouse/internal/objectstore"
)

const envPrefix = "MKWHEELHOUSE_"

// Backend names.
const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

// Config holds mkwheelhouse settings.
type Config struct {
	Backend   string       `yaml:"backend"`
	Endpoint  string       `yaml:"endpoint"`
	Region    string       `yaml:"region"`
	AccessKey string       `yaml:"access_key"`
	SecretKey string       `yaml:"secret_key"`
	UseSSL    bool         `yaml:"use_ssl"`
	PathStyle bool         `yaml:"path_style"`
	ACL       string       `yaml:"acl"`
	Exclude   []string     `yaml:"exclude"`
	Pip       string       `yaml:"pip"`
	WorkDir   string       `yaml:"work_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"`
	Notify    NotifyConfig `yaml:"notify"`
}

// NotifyConfig selects the publish event sinks. Empty values disable a sink.
type NotifyConfig struct {
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token"`
	RedisURL     string `yaml:"redis_url"`
	RedisKey     string `yaml:"redis_key"`
	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendS3,
		UseSSL:    true,
		ACL:       string(objectstore.ACLPrivate),
		Pip:       builder.DefaultPip,
		LogLevel:  "info",
		LogFormat: "console",
		Notify: NotifyConfig{
			RedisKey:   notify.DefaultRedisKey,
			KafkaTopic: notify.DefaultKafkaTopic,
		},
	}
}

// LoadConfig layers the YAML file at path (or $MKWHEELHOUSE_CONFIG) and the
// MKWHEELHOUSE_* environment over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: config file: %v", ErrUsage, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse config %s: %v", ErrUsage, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Backend = getenv("BACKEND", c.Backend)
	c.Endpoint = getenv("ENDPOINT", c.Endpoint)
	c.Region = getenv("REGION", c.Region)
	c.AccessKey = getenv("ACCESS_KEY", c.AccessKey)
	c.SecretKey = getenv("SECRET_KEY", c.SecretKey)
	c.UseSSL = getenvBool("USE_SSL", c.UseSSL)
	c.PathStyle = getenvBool("PATH_STYLE", c.PathStyle)
	c.ACL = getenv("ACL", c.ACL)
	c.Exclude = getenvList("EXCLUDE", c.Exclude)
	c.Pip = getenv("PIP", c.Pip)
	c.WorkDir = getenv("WORK_DIR", c.WorkDir)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)
	c.Notify.WebhookURL = getenv("WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.WebhookToken = getenv("WEBHOOK_TOKEN", c.Notify.WebhookToken)
	c.Notify.RedisURL = getenv("REDIS_URL", c.Notify.RedisURL)
	c.Notify.RedisKey = getenv("REDIS_KEY", c.Notify.RedisKey)
	c.Notify.KafkaBrokers = getenv("KAFKA_BROKERS", c.Notify.KafkaBrokers)
	c.Notify.KafkaTopic = getenv("KAFKA_TOPIC", c.Notify.KafkaTopic)
}

func getenv(k, def string) string {
	if v := os.Getenv(envPrefix + k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v := os.Getenv(envPrefix + k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		}
	}
	return def
}

func getenvList(k string, def []string) []string {
	v := os.Getenv(envPrefix + k)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks settings that do not need the network.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendS3:
	case BackendMinIO:
		if c.Endpoint == "" {
			return fmt.Errorf("%w: the minio backend needs an endpoint", ErrUsage)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrUsage, c.Backend)
	}
	if _, err := objectstore.ParseACL(c.ACL); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("%w: log level %q", ErrUsage, c.LogLevel)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrUsage, c.LogFormat)
	}
	return nil
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.LogFormat != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// NewBackend connects the configured object store.
func (c Config) NewBackend(ctx context.Context) (objectstore.API, error) {
	switch c.Backend {
	case BackendMinIO:
		mb, err := objectstore.NewMinIOBackend(objectstore.MinIOOptions{
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Region:    c.Region,
			UseSSL:    c.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return mb, nil
	case BackendS3:
		region := c.Region
		if region == "" {
			region = objectstore.DefaultRegion
		}
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if c.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return objectstore.NewS3Backend(awsCfg, objectstore.S3Options{
			Endpoint:  c.Endpoint,
			PathStyle: c.PathStyle,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrUsage, c.Backend)
	}
}

// Notifier builds the configured sinks. The returned close func releases
// their connections.
func (c Config) Notifier() (notify.Notifier, func() error, error) {
	var sinks notify.Multi
	var closers []io.Closer
	closeAll := func() error {
		var errs []error
		for _, cl := range closers {
			errs = append(errs, cl.Close())
		}
		return errors.Join(errs...)
	}
	n := c.Notify
	if n.WebhookURL != "" {
		sinks = append(sinks, &notify.Webhook{URL: n.WebhookURL, Token: n.WebhookToken, Client: &http.Client{Timeout: 30 * time.Second}})
	}
	if n.RedisURL != "" {
		r, err := notify.NewRedis(n.RedisURL, n.RedisKey)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, r)
		closers = append(closers, r)
	}
	if n.KafkaBrokers != "" {
		k, err := notify.NewKafka(n.KafkaBrokers, n.KafkaTopic)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, k)
		closers = append(closers, k)
	}
	if len(sinks) == 0 {
		return notify.Null{}, closeAll, nil
	}
	return sinks, closeAll, nil
}
