package analyzer

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
)

// Config for the analysis engine. By default the engine reads the store
// directly; setting CollectorURL routes the fetch through the ingestion
// REST surface instead, for split deployments.
type Config struct {
	DefaultHours int `yaml:"default_hours"`

	CollectorURL   string         `yaml:"collector_url"`
	CollectorToken flagext.Secret `yaml:"collector_token"`
	ClientTimeout  time.Duration  `yaml:"client_timeout"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.DefaultHours, prefix+".default-hours", 24, "Analysis window in hours when the request does not specify one.")
	f.StringVar(&cfg.CollectorURL, prefix+".collector-url", "", "Base URL of the ingestion REST surface. Empty reads the store directly.")
	f.DurationVar(&cfg.ClientTimeout, prefix+".client-timeout", 10*time.Second, "HTTP timeout for collector fetches.")
}
