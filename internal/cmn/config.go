package cmn

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config bundles every tunable the core reads at construction or via the
// runtime toggles (spec §6: set_immediate, set_threads, set_expected).
type Config struct {
	Threads   int `mapstructure:"threads" json:"threads"`
	MemLimit  int `mapstructure:"mem_limit" json:"mem_limit"` // blocks resident, 0 = unlimited
	Immediate bool `mapstructure:"immediate" json:"immediate"`

	// queue.ThresholdPolicy default threshold: spill a queue record whose
	// serialized size exceeds this many bytes.
	SpillThresholdBytes int64 `mapstructure:"spill_threshold_bytes" json:"spill_threshold_bytes"`

	// iexchange short-message coalescing (spec §4.3). Negative values
	// disable fine-grained control, per the spec's documented sentinel.
	MinQueueSize int           `mapstructure:"min_queue_size" json:"min_queue_size"`
	MaxHoldTime  time.Duration `mapstructure:"max_hold_time" json:"max_hold_time"`

	// load balancing (§4.6)
	SampleFraction float64 `mapstructure:"sample_fraction" json:"sample_fraction"`
	Quantile       float64 `mapstructure:"quantile" json:"quantile"`

	// wire compression threshold for single-envelope queue sends
	// (multi-piece messages are sent uncompressed); 0 disables lz4
	// compression.
	CompressMinBytes int `mapstructure:"compress_min_bytes" json:"compress_min_bytes"`

	// erasure-coded ("parity") spill mode for external storage.
	ParityShards int `mapstructure:"parity_shards" json:"parity_shards"`
	DataShards   int `mapstructure:"data_shards" json:"data_shards"`

	// MaxInFlightSends bounds concurrent un-acknowledged sends during a
	// flush (spec §1 "in-flight limits"). <= 0 means unlimited.
	MaxInFlightSends int `mapstructure:"max_inflight_sends" json:"max_inflight_sends"`

	// MaxSingleMessageBytes is the largest payload (after header) sent as
	// one transport message before the multi-piece head+pieces framing
	// kicks in (spec §4.2.2).
	MaxSingleMessageBytes int `mapstructure:"max_single_message_bytes" json:"max_single_message_bytes"`

	// MaxPieceBytes bounds each piece of a multi-piece message.
	MaxPieceBytes int `mapstructure:"max_piece_bytes" json:"max_piece_bytes"`
}

// DefaultConfig mirrors values a small single-node run would use.
func DefaultConfig() *Config {
	return &Config{
		Threads:             1,
		MemLimit:            0,
		Immediate:           false,
		SpillThresholdBytes: 8 << 20,
		MinQueueSize:        -1,
		MaxHoldTime:         -1,
		SampleFraction:      0.2,
		Quantile:            0.9,
		CompressMinBytes:    64 << 10,
		MaxInFlightSends:    64,
		MaxSingleMessageBytes: 1 << 16,
		MaxPieceBytes:       1 << 14,
	}
}

// LoadConfig reads overrides from a file (if path != "") and the process
// environment (DIY_* prefix), layered on top of DefaultConfig, using viper
// the way cmd/diy's cobra commands do.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	v.SetEnvPrefix("DIY")
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) String() string {
	b, _ := json.Marshal(c)
	return string(b)
}
