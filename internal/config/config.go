package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"conversation-log/internal/integrations/paramstore"
	"conversation-log/internal/repository"
)

// Config holds the store and process configuration.
type Config struct {
	Table TableConfig

	// ParamPrefix, when set, names an SSM Parameter Store path whose
	// parameters override table settings.
	ParamPrefix string

	LogLevel slog.Level
}

// TableConfig describes the DynamoDB table and paging behaviour.
type TableConfig struct {
	Name             string
	PartitionKey     string
	SortKey          string
	TTLAttribute     string
	TTLDays          int
	DefaultPageSize  int
	MaxPageSize      int
	TransactionLimit int
	GuardedAppends   bool
}

// Sources tells Load where to look besides defaults and the environment.
type Sources struct {
	// ConfigFile is an explicit YAML file; when empty convlog.yaml is looked
	// up in ., ./config and /etc/convlog and may be absent.
	ConfigFile string

	// Params serves the ParamPrefix overlay and table.name_param. Nil skips
	// both.
	Params paramstore.Reader

	// TableName, when set, wins over every other source.
	TableName string
}

// ssmKeys maps parameter names below ParamPrefix to config keys.
var ssmKeys = map[string]string{
	"table_name":        "table.name",
	"ttl_attribute":     "table.ttl_attribute",
	"ttl_days":          "table.ttl_days",
	"default_page_size": "table.default_page_size",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("table.partition_key", "PK")
	v.SetDefault("table.sort_key", "SK")
	v.SetDefault("table.ttl_attribute", "ExpiresAt")
	v.SetDefault("table.ttl_days", 0)
	v.SetDefault("table.default_page_size", 20)
	v.SetDefault("table.max_page_size", 100)
	v.SetDefault("table.transaction_limit", 100)
	v.SetDefault("table.guarded_appends", false)
	v.SetDefault("log.level", "info")
}

// Load builds a Config from defaults, the optional YAML file, environment
// variables (CONVLOG_TABLE_NAME style, plus STATE_TABLE), the Parameter
// Store overlay and table.name_param, later sources winning.
func Load(ctx context.Context, src Sources) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("convlog")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("table.name", "CONVLOG_TABLE_NAME", "STATE_TABLE"); err != nil {
		return Config{}, fmt.Errorf("config: bind env: %w", err)
	}
	if err := v.BindEnv("param_prefix", "CONVLOG_PARAM_PREFIX", "PARAM_PREFIX"); err != nil {
		return Config{}, fmt.Errorf("config: bind env: %w", err)
	}
	if err := v.BindEnv("table.name_param", "CONVLOG_TABLE_NAME_PARAM", "STATE_TABLE_PARAM"); err != nil {
		return Config{}, fmt.Errorf("config: bind env: %w", err)
	}

	if src.ConfigFile != "" {
		v.SetConfigFile(src.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", src.ConfigFile, err)
		}
	} else {
		v.SetConfigName("convlog")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/convlog")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	if prefix := strings.TrimSpace(v.GetString("param_prefix")); prefix != "" && src.Params != nil {
		params, err := src.Params.GetParametersByPath(ctx, prefix)
		if err != nil {
			return Config{}, fmt.Errorf("config: load parameters: %w", err)
		}
		for name, value := range params {
			if key, ok := ssmKeys[name]; ok {
				v.Set(key, value)
			}
		}
	}

	// A named parameter holding the table name beats the path overlay.
	if name := strings.TrimSpace(v.GetString("table.name_param")); name != "" && src.Params != nil {
		table, err := src.Params.GetParameter(ctx, name)
		if err != nil {
			return Config{}, fmt.Errorf("config: table.name_param: %w", err)
		}
		v.Set("table.name", table)
	}

	if src.TableName != "" {
		v.Set("table.name", src.TableName)
	}

	cfg := Config{
		Table: TableConfig{
			Name:             strings.TrimSpace(v.GetString("table.name")),
			PartitionKey:     v.GetString("table.partition_key"),
			SortKey:          v.GetString("table.sort_key"),
			TTLAttribute:     v.GetString("table.ttl_attribute"),
			TTLDays:          v.GetInt("table.ttl_days"),
			DefaultPageSize:  v.GetInt("table.default_page_size"),
			MaxPageSize:      v.GetInt("table.max_page_size"),
			TransactionLimit: v.GetInt("table.transaction_limit"),
			GuardedAppends:   v.GetBool("table.guarded_appends"),
		},
		ParamPrefix: strings.TrimSpace(v.GetString("param_prefix")),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return Config{}, fmt.Errorf("config: log.level: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	t := cfg.Table
	switch {
	case t.Name == "":
		return errors.New("config: table.name is required (CONVLOG_TABLE_NAME or STATE_TABLE)")
	case t.PartitionKey == "" || t.SortKey == "":
		return errors.New("config: table key attributes must not be empty")
	case t.TTLDays < 0:
		return fmt.Errorf("config: table.ttl_days must not be negative, got %d", t.TTLDays)
	case t.TTLDays > 0 && t.TTLAttribute == "":
		return errors.New("config: table.ttl_attribute is required when ttl_days is set")
	case t.DefaultPageSize <= 0 || t.MaxPageSize <= 0:
		return errors.New("config: page sizes must be positive")
	case t.DefaultPageSize > t.MaxPageSize:
		return fmt.Errorf("config: default page size %d exceeds max %d", t.DefaultPageSize, t.MaxPageSize)
	case t.TransactionLimit < 2 || t.TransactionLimit > 100:
		return fmt.Errorf("config: table.transaction_limit must be in [2, 100], got %d", t.TransactionLimit)
	}
	return nil
}

// TTL is the lifetime given to new conversations; zero disables expiry.
func (t TableConfig) TTL() time.Duration {
	return time.Duration(t.TTLDays) * 24 * time.Hour
}

// StoreOptions translates the table settings into repository options.
func (c Config) StoreOptions(log *slog.Logger) []repository.Option {
	t := c.Table
	opts := []repository.Option{
		repository.WithKeyAttributes(t.PartitionKey, t.SortKey),
		repository.WithMaxPageSize(t.MaxPageSize),
		repository.WithDefaultPageSize(t.DefaultPageSize),
		repository.WithTransactionLimit(t.TransactionLimit),
	}
	if t.TTLAttribute != "" {
		opts = append(opts, repository.WithTTL(t.TTLAttribute, t.TTL()))
	}
	if log != nil {
		opts = append(opts, repository.WithLogger(log))
	}
	if t.GuardedAppends {
		opts = append(opts, repository.WithGuardedAppends())
	}
	return opts
}
