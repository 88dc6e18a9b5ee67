package app

import (
	"flag"
	"fmt"
	"time"

	dslog "github.com/grafana/dskit/log"

	"github.com/diagnet/diagnet/modules/analyzer"
	"github.com/diagnet/diagnet/modules/auth"
	"github.com/diagnet/diagnet/modules/ingester"
	"github.com/diagnet/diagnet/modules/overrides"
	"github.com/diagnet/diagnet/modules/storage"
)

// Config is the root configuration of the platform binary.
type Config struct {
	HTTPListenAddress string        `yaml:"http_listen_address"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`

	// StartupTimeout bounds the wait for the store to become reachable
	// before the process gives up.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	LogLevel  dslog.Level `yaml:"log_level"`
	LogFormat string      `yaml:"log_format"`

	Storage  storage.Config   `yaml:"storage"`
	Ingester ingester.Config  `yaml:"ingester"`
	Analysis overrides.Config `yaml:"analysis"`
	Analyzer analyzer.Config  `yaml:"analyzer"`
	Auth     auth.Config      `yaml:"auth"`
}

// RegisterFlagsAndApplyDefaults registers flags and defaults for the whole
// tree.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.HTTPListenAddress, "http-listen-address", ":8080", "HTTP listen address.")
	f.DurationVar(&c.HTTPTimeout, "http-timeout", 10*time.Second, "Per-request deadline on the REST surface.")
	f.DurationVar(&c.StartupTimeout, "startup-timeout", time.Minute, "How long to wait for the store at startup.")
	f.StringVar(&c.LogFormat, "log.format", "logfmt", "Log format: logfmt or json.")
	_ = c.LogLevel.Set("info")
	c.LogLevel.RegisterFlags(f)
	c.CORSAllowedOrigins = []string{"*"}

	c.Storage.RegisterFlagsAndApplyDefaults("storage", f)
	c.Ingester.RegisterFlagsAndApplyDefaults("ingester", f)
	c.Analysis.RegisterFlagsAndApplyDefaults("analysis", f)
	c.Analyzer.RegisterFlagsAndApplyDefaults("analyzer", f)
	c.Auth.RegisterFlagsAndApplyDefaults("auth", f)
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return nil
}

// ConfigWarning bundles a warning message with an explanation.
type ConfigWarning struct {
	Message string
	Explain string
}

// CheckConfig returns warnings for suspect but runnable configurations.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.Ingester.MQTT.BrokerURL == "" {
		warnings = append(warnings, ConfigWarning{
			Message: "ingester.mqtt.broker_url is not set",
			Explain: "the MQTT subscriber is disabled; readings arrive only via POST /data",
		})
	}
	if len(c.Auth.Users) == 0 {
		warnings = append(warnings, ConfigWarning{
			Message: "auth.users is empty, built-in demo identities are active",
			Explain: "configure auth.users before exposing the API",
		})
	}
	if !c.Storage.SchemaInit {
		warnings = append(warnings, ConfigWarning{
			Message: "storage.schema_init is disabled",
			Explain: "the hypertable and policies must already exist",
		})
	}
	if c.Analyzer.CollectorURL != "" && c.Analyzer.CollectorToken.String() == "" {
		warnings = append(warnings, ConfigWarning{
			Message: "analyzer.collector_url is set without analyzer.collector_token",
			Explain: "collector fetches will be rejected if the collector enforces auth",
		})
	}

	return warnings
}
