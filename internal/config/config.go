// Package config loads the daemon's on-disk configuration: the RPC/transaction
// endpoints, the local publish surface, commitment level, capture/replay
// options and the ambient knobs (logging, bootstrap and reconnect timeouts,
// key paths) in one struct rather than splitting domain fields and ambient
// settings across separate files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pricepub/pricepub/internal/log"
	"github.com/pricepub/pricepub/internal/rpc"
)

// Config is the full on-disk shape of a daemon's configuration file.
type Config struct {
	// RPCHost is the JSON-RPC/WebSocket host serving account and slot
	// subscriptions; transactions are sent over the same transport. TxHost
	// is loaded but not used for sending: the daemon only logs a warning
	// when it differs from RPCHost.
	RPCHost string `yaml:"rpc_host" json:"rpc_host"`
	TxHost  string `yaml:"tx_host" json:"tx_host"`

	// ListenPort names a port for a local update_price JSON-RPC surface.
	// The daemon does not serve one; a non-zero value only logs a warning.
	ListenPort int `yaml:"listen_port" json:"listen_port"`

	// Commitment is the confirmation level used for every subscription and
	// transaction submission: processed, confirmed or finalized.
	Commitment rpc.Commitment `yaml:"commitment" json:"commitment"`

	// DoCapture and CaptureFile are validated but nothing is recorded:
	// an empty CaptureFile with DoCapture set is a config error, and no
	// notification is ever written to CaptureFile.
	DoCapture   bool   `yaml:"do_capture" json:"do_capture"`
	CaptureFile string `yaml:"capture_file" json:"capture_file"`

	// PublishIntervalMS is the nominal period the scheduler spreads price
	// accounts across; see pyth-client's 293ms default.
	PublishIntervalMS int `yaml:"publish_interval_ms" json:"publish_interval_ms"`

	// DoTx defaults to true and is logged at startup. The publish path does
	// not consult it: setting it false does not stop send_transaction calls.
	DoTx bool `yaml:"do_tx" json:"do_tx"`

	// ContentDir serves the daemon's external HTTP status page; out of
	// scope for this module beyond holding the configured value.
	ContentDir string `yaml:"content_dir,omitempty" json:"content_dir,omitempty"`

	// MappingAccount is the root mapping account to mirror; base58, empty
	// means no mapping is configured (bootstrap then never waits on
	// HAS_MAPPING).
	MappingAccount string `yaml:"mapping_account,omitempty" json:"mapping_account,omitempty"`

	// ProgramID is the oracle program instructions are addressed to.
	ProgramID string `yaml:"program_id,omitempty" json:"program_id,omitempty"`

	// KeyStoreDir holds publish_key_pair.json, mapping_key_pair.json,
	// program_key.json, params_key.json and per-account key files.
	KeyStoreDir string `yaml:"key_store_dir" json:"key_store_dir"`

	// BootstrapTimeout bounds how long Bootstrap will poll for readiness;
	// on expiry Bootstrap returns the context's deadline error.
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout" json:"bootstrap_timeout"`

	// ReconnectInitial and ReconnectMax are loaded and defaulted but not
	// passed to the transport; its reconnect loop doubles between its own
	// fixed 1s and 120s bounds.
	ReconnectInitial time.Duration `yaml:"reconnect_initial" json:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max" json:"reconnect_max"`

	Log LogConfig `yaml:"log" json:"log"`
}

// LogConfig mirrors internal/log.Config's shape so it can be embedded
// directly in the daemon config file instead of living in its own file.
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Defaults returns a Config with every value pyth-client's deployed daemon
// ships as a default, before a config file is even read.
func Defaults() Config {
	return Config{
		RPCHost:           "localhost",
		TxHost:            "localhost",
		ListenPort:        0,
		Commitment:        rpc.CommitmentConfirmed,
		PublishIntervalMS: 293,
		DoTx:              true,
		KeyStoreDir:       "keystore",
		BootstrapTimeout:  30 * time.Second,
		ReconnectInitial:  1 * time.Second,
		ReconnectMax:      120 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads and parses a YAML config file at path, starting from Defaults
// so an omitted field keeps its default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the daemon cannot run with: an unknown
// commitment level, a capture flag with nowhere to write, a publish
// interval too small to mean anything, or an empty key_store_dir.
func (c Config) Validate() error {
	switch c.Commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return fmt.Errorf("config: unknown commitment %q", c.Commitment)
	}
	if c.DoCapture && c.CaptureFile == "" {
		return fmt.Errorf("config: do_capture is set but capture_file is empty")
	}
	if c.PublishIntervalMS <= 0 {
		return fmt.Errorf("config: publish_interval_ms must be positive, got %d", c.PublishIntervalMS)
	}
	if c.KeyStoreDir == "" {
		return fmt.Errorf("config: key_store_dir must not be empty")
	}
	return nil
}

// PublishInterval converts PublishIntervalMS to a time.Duration for the
// scheduler and supervisor, which work in durations rather than raw
// milliseconds.
func (c Config) PublishInterval() time.Duration {
	return time.Duration(c.PublishIntervalMS) * time.Millisecond
}

// ToLogConfig converts the embedded log section into internal/log's own
// Config type.
func (c Config) ToLogConfig() log.Config {
	return log.Config{
		Level:       c.Log.Level,
		Development: c.Log.Development,
	}
}
