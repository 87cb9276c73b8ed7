package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Log struct {
		Level  string
		Format string
	}
	Database struct {
		Path string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
		PublicURL string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret       string
		TokenTTLMinutes int
		ResetTTLMinutes int
		AdminEmails     []string
	}
	Site struct {
		Name  string
		Email string
	}
	Mail struct {
		Driver string
		Region string
	}
	Queue struct {
		Workers       int
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		Stream        string
	}
	RateLimit struct {
		Requests      int
		WindowSeconds int
		Burst         int
	}
	Referral struct {
		AutoActivate bool
	}
	Telemetry struct {
		Endpoint    string
		Insecure    bool
		ServiceName string
	}
	CORS struct {
		Origins []string
	}
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func (c Config) ResetTTL() time.Duration {
	return time.Duration(c.Auth.ResetTTLMinutes) * time.Minute
}

func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// Load reads configuration from environment variables, an optional .env file
// and an optional config file. It searches dirs, or the working directory
// when none are given.
func Load(dirs ...string) (Config, error) {
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, dir := range dirs {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.path", "data/registry.db")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "profile-images")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicurl", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttlminutes", 24*60)
	v.SetDefault("auth.resetttlminutes", 60)
	v.SetDefault("auth.adminemails", []string{})
	v.SetDefault("site.name", "Member Registry")
	v.SetDefault("site.email", "noreply@example.com")
	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.region", "")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.redisaddr", "")
	v.SetDefault("queue.redispassword", "")
	v.SetDefault("queue.redisdb", 0)
	v.SetDefault("queue.stream", "registry:mail")
	v.SetDefault("ratelimit.requests", 20)
	v.SetDefault("ratelimit.windowseconds", 60)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("referral.autoactivate", true)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.servicename", "member-registry")
	v.SetDefault("cors.origins", []string{"*"})

	v.SetConfigName("config")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Auth.AdminEmails = splitList(cfg.Auth.AdminEmails)
	cfg.CORS.Origins = splitList(cfg.CORS.Origins)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwtsecret is required")
	}
	switch c.Mail.Driver {
	case "log", "ses":
	default:
		return fmt.Errorf("unsupported mail.driver %q", c.Mail.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated value.
func splitList(values []string) []string {
	out := []string{}
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
