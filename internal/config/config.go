// Package config loads and validates the host configuration from flags,
// environment variables and an optional yaml file.
package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/nestrilabs/nestri-server/internal/logging"
)

var log = logging.L("config")

// Config is the full host configuration.
type Config struct {
	// Session
	Room     string `mapstructure:"room"`
	RelayURL string `mapstructure:"relay_url"`

	// Display
	Resolution string `mapstructure:"resolution"` // "WxH"
	Framerate  int    `mapstructure:"framerate"`

	// GPU selection
	GPUVendor   string `mapstructure:"gpu_vendor"`
	GPUName     string `mapstructure:"gpu_name"`
	GPUIndex    int    `mapstructure:"gpu_index"` // -1 = auto
	GPUCardPath string `mapstructure:"gpu_card_path"`

	// Video encoding
	VideoCodec       string `mapstructure:"video_codec"`
	VideoEncoder     string `mapstructure:"video_encoder"`
	RateControl      string `mapstructure:"rate_control"`
	CQPQuality       int    `mapstructure:"cqp_quality"`
	TargetBitrate    int    `mapstructure:"target_bitrate"` // kbps
	MaxBitrate       int    `mapstructure:"max_bitrate"`    // kbps
	LatencyControl   string `mapstructure:"latency_control"`
	KeyframeDistance int    `mapstructure:"keyframe_distance"` // seconds
	BitDepth         int    `mapstructure:"bit_depth"`
	ZeroCopy         bool   `mapstructure:"zero_copy"`

	// Audio encoding
	AudioCapture string `mapstructure:"audio_capture"`
	AudioBitrate int    `mapstructure:"audio_bitrate"` // kbps

	// Virtual input
	VimputtiSocketPath string `mapstructure:"vimputti_socket_path"`

	// Logging
	Verbose       bool   `mapstructure:"verbose"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Resolution:         "1280x720",
		Framerate:          60,
		GPUIndex:           -1,
		VideoCodec:         "h264",
		RateControl:        "vbr",
		CQPQuality:         23,
		TargetBitrate:      6000,
		MaxBitrate:         8000,
		LatencyControl:     "lowest-latency",
		KeyframeDistance:   2,
		BitDepth:           8,
		AudioCapture:       "pulseaudio",
		AudioBitrate:       128,
		VimputtiSocketPath: "/tmp/vimputti-0",
		LogLevel:           "info",
		LogFormat:          "text",
		LogMaxSizeMB:       50,
		LogMaxBackups:      3,
	}
}

// Load reads the configuration: flags already bound to viper win over
// NESTRI_-prefixed environment variables, which win over the yaml file.
// A missing room gets a random name.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("nestri-server")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/nestri")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("NESTRI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.Room == "" {
		cfg.Room = uuid.NewString()
		log.Info("no room configured, generated one", "room", cfg.Room)
	}

	// Fatals block startup, warnings are logged and continue.
	result := cfg.Validate()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if len(result.Fatals) > 0 {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// DebugPrint logs the effective configuration.
func (c *Config) DebugPrint() {
	log.Info("configuration",
		"room", c.Room,
		"relayUrl", c.RelayURL,
		"resolution", c.Resolution,
		"framerate", c.Framerate,
		"gpuVendor", orAuto(c.GPUVendor),
		"gpuName", orAuto(c.GPUName),
		"gpuIndex", c.GPUIndex,
		"gpuCardPath", orAuto(c.GPUCardPath),
		"videoCodec", c.VideoCodec,
		"videoEncoder", orAuto(c.VideoEncoder),
		"rateControl", c.RateControl,
		"latencyControl", c.LatencyControl,
		"bitDepth", c.BitDepth,
		"zeroCopy", c.ZeroCopy,
		"audioCapture", c.AudioCapture,
		"vimputtiSocketPath", c.VimputtiSocketPath,
	)
}

func orAuto(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}
