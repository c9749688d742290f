package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/database"
	"github.com/sagarc03/stowfs/objectstore"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for stowfs.
type Config struct {
	Env      string          `mapstructure:"env" validate:"required,oneof=dev prod"`
	Log      LogConfig       `mapstructure:"log"`
	Database database.Config `mapstructure:"database"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Server   ServerConfig    `mapstructure:"server"`
	Tokens   TokenConfig     `mapstructure:"tokens"`

	// ObjectStore is the raw "objectstore" subtree: either one store
	// configuration or a map of named ones. It is checked by ObjectStores.
	ObjectStore any `mapstructure:"objectstore"`
	// ObjectStoreMultibucket is the raw "objectstore_multibucket" subtree.
	ObjectStoreMultibucket any `mapstructure:"objectstore_multibucket"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// StorageConfig holds the options shared by every mounted storage.
type StorageConfig struct {
	// TempDir holds write handles until they are closed. Empty means the
	// OS temp directory.
	TempDir      string `mapstructure:"temp_dir"`
	ObjectPrefix string `mapstructure:"object_prefix" validate:"required"`
	// User mounts that user's home storage by default in the CLI.
	User           string `mapstructure:"user"`
	ValidateWrites bool   `mapstructure:"validate_writes"`
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
	// Token protects the /v1 routes with a bearer token when set.
	Token           string `mapstructure:"token"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" validate:"min=1"`
}

// TokenConfig sizes the shared backend credential cache.
type TokenConfig struct {
	Size int           `mapstructure:"size" validate:"min=0"`
	TTL  time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// ObjectStores parses the object store subtrees against the backend kinds
// in r. It returns nil when no store is configured.
func (c *Config) ObjectStores(r *objectstore.Registry) (*objectstore.Stores, error) {
	return objectstore.Parse(c.ObjectStore, c.ObjectStoreMultibucket, r)
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"db-type":   "database.type",
	"db-dsn":    "database.dsn",
	"addr":      "server.addr",
	"temp-dir":  "storage.temp_dir",
	"user":      "storage.user",
	"log-level": "log.level",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// Use custom mapping if it exists, otherwise use flag name as-is
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "stowfs.db")
	v.SetDefault("database.tables.filecache", "stowfs_filecache")
	v.SetDefault("database.tables.preferences", "stowfs_preferences")

	v.SetDefault("storage.object_prefix", stowfs.DefaultObjectPrefix)

	v.SetDefault("server.addr", "127.0.0.1:5708")
	v.SetDefault("server.shutdown_timeout", 30) // seconds

	v.SetDefault("tokens.size", 256)
	v.SetDefault("tokens.ttl", "1h")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// The object store subtrees are only decoded here; ObjectStores checks
// them against the registered backends.
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFiles[0], err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merge config %s: %w", cf, err)
			}
		}
	} else {
		v.SetConfigName("stowfs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	v.SetEnvPrefix("STOWFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindFlags(v, flags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.Database.Tables.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
