package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag names understood by RegisterFlags and the loader.
const (
	FlagConfigFile = "config-file"
	FlagLogLevel   = "log-level"
	FlagHTTPPort   = "http-port"
	FlagRouterType = "router-type"
	FlagDBType     = "db-type"
	FlagRestricted = "restricted"
)

// flagKeys maps override flags to the setting they replace.
var flagKeys = map[string]string{
	FlagLogLevel:   "observability.log_level",
	FlagHTTPPort:   "http.port",
	FlagRouterType: "router_type",
	FlagDBType:     "database.type",
	FlagRestricted: "query.restricted",
}

// RegisterFlags adds the configuration flags shared by every command.
func RegisterFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.String(FlagConfigFile, "", "path to a YAML/JSON/TOML configuration file")
	flags.String(FlagLogLevel, defaults.Observability.LogLevel, "log level (debug, info, warn, error)")
	flags.Int(FlagHTTPPort, defaults.HTTP.Port, "public API port")
	flags.String(FlagRouterType, defaults.RouterType, "router implementation (gin, gorilla)")
	flags.String(FlagDBType, defaults.Database.Type, "document store (mongodb, memory)")
	flags.Bool(FlagRestricted, defaults.Query.Restricted, "reject list requests without any filter")
}

// bindFlags binds every registered override flag present in flags. Viper only
// prefers a flag over lower layers when it was changed on the command line.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// ConfigProvider loads configuration for CLI commands: it reads the config
// file named by --config-file and applies the remaining flags as overrides.
type ConfigProvider struct {
	loader *ViperLoader
}

// NewConfigProvider builds a provider for the given flag set. The env prefix
// defaults to MDS when empty.
func NewConfigProvider(flags *pflag.FlagSet, envPrefix string) (*ConfigProvider, error) {
	configFile := ""
	if flags != nil && flags.Lookup(FlagConfigFile) != nil {
		value, err := flags.GetString(FlagConfigFile)
		if err != nil {
			return nil, err
		}
		configFile = value
	}
	return &ConfigProvider{
		loader: NewViperLoader(configFile, envPrefix).WithFlags(flags),
	}, nil
}

// ConfigFile returns the path to the config file that was loaded, or empty string if none.
func (p *ConfigProvider) ConfigFile() string {
	return p.loader.configFile
}

// Load loads and validates the configuration.
func (p *ConfigProvider) Load() (*Config, error) {
	return p.loader.Load()
}

// Settings returns the redacted effective settings of the last Load.
func (p *ConfigProvider) Settings() map[string]interface{} {
	return p.loader.Settings()
}
