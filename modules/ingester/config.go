package ingester

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
)

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	BrokerURL string         `yaml:"broker_url"`
	Topics    []string       `yaml:"topics"`
	ClientID  string         `yaml:"client_id"`
	Username  string         `yaml:"username"`
	Password  flagext.Secret `yaml:"password"`

	CleanSession   bool          `yaml:"clean_session"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Config for the ingestion engine.
type Config struct {
	MQTT MQTTConfig `yaml:"mqtt"`

	BufferCapacity int           `yaml:"buffer_capacity"`
	BatchMax       int           `yaml:"batch_max"`
	BatchLinger    time.Duration `yaml:"batch_linger"`

	// ShutdownGrace bounds how long the flusher may keep draining after a
	// stop signal; whatever remains afterwards is counted as dropped.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// MaxMachineScan caps the internally uncapped machine listing.
	MaxMachineScan int `yaml:"max_machine_scan"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.MQTT.BrokerURL, prefix+".mqtt.broker-url", "", "MQTT broker address, e.g. tcp://localhost:1883.")
	f.StringVar(&cfg.MQTT.ClientID, prefix+".mqtt.client-id", "diagnet-ingester", "MQTT client id prefix; a random suffix is appended.")
	f.IntVar(&cfg.BufferCapacity, prefix+".buffer-capacity", 10000, "Max in-flight readings awaiting persistence.")
	f.IntVar(&cfg.BatchMax, prefix+".batch-max", 500, "Max readings per persist call.")
	f.DurationVar(&cfg.BatchLinger, prefix+".batch-linger", 250*time.Millisecond, "Max wait before flushing a partial batch.")
	f.DurationVar(&cfg.ShutdownGrace, prefix+".shutdown-grace", 30*time.Second, "Drain budget on shutdown.")

	cfg.MQTT.Topics = []string{"machine/+/data"}
	cfg.MQTT.CleanSession = true
	cfg.MQTT.AutoReconnect = true
	cfg.MQTT.KeepAlive = 60 * time.Second
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	cfg.MaxMachineScan = 10000
}
