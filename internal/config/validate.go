package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var resolutionRe = regexp.MustCompile(`^(\d+)x(\d+)$`)

var validCodecs = map[string]bool{
	"h264": true,
	"h265": true,
	"av1":  true,
	"vp8":  true,
	"vp9":  true,
}

var validAudioCaptures = map[string]bool{
	"pulseaudio": true,
	"pipewire":   true,
	"alsa":       true,
}

var validRateControls = map[string]bool{
	"cqp": true,
	"vbr": true,
	"cbr": true,
}

var validLatencyControls = map[string]bool{
	"lowest-latency":  true,
	"highest-quality": true,
}

// Result separates validation errors that must block startup from ones the
// host can run through.
type Result struct {
	Fatals   []error
	Warnings []error
}

// Validate checks the config. Misconfigured transport and encoding settings
// are fatal; cosmetic problems are warnings.
func (c *Config) Validate() Result {
	var result Result
	fatal := func(format string, args ...any) {
		result.Fatals = append(result.Fatals, fmt.Errorf(format, args...))
	}
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Errorf(format, args...))
	}

	if c.RelayURL == "" {
		fatal("relay_url must be set")
	} else if !strings.Contains(c.RelayURL, "/p2p/") {
		fatal("relay_url %q is missing the /p2p/<peer_id> suffix", c.RelayURL)
	}

	if _, _, err := c.ParseResolution(); err != nil {
		fatal("%v", err)
	}

	if c.Framerate < 1 || c.Framerate > 360 {
		fatal("framerate %d out of range (1-360)", c.Framerate)
	}

	if !validCodecs[strings.ToLower(c.VideoCodec)] {
		fatal("video_codec %q is not one of h264, h265, av1, vp8, vp9", c.VideoCodec)
	}

	if !validRateControls[strings.ToLower(c.RateControl)] {
		fatal("rate_control %q is not one of cqp, vbr, cbr", c.RateControl)
	}
	switch strings.ToLower(c.RateControl) {
	case "cqp":
		if c.CQPQuality < 0 || c.CQPQuality > 51 {
			fatal("cqp_quality %d out of range (0-51)", c.CQPQuality)
		}
	case "vbr":
		if c.TargetBitrate <= 0 {
			fatal("target_bitrate must be positive for vbr")
		}
		if c.MaxBitrate < c.TargetBitrate {
			warn("max_bitrate %d below target_bitrate %d, clamping", c.MaxBitrate, c.TargetBitrate)
			c.MaxBitrate = c.TargetBitrate
		}
	case "cbr":
		if c.TargetBitrate <= 0 {
			fatal("target_bitrate must be positive for cbr")
		}
	}

	if !validLatencyControls[strings.ToLower(c.LatencyControl)] {
		fatal("latency_control %q is not one of lowest-latency, highest-quality", c.LatencyControl)
	}

	if c.BitDepth != 8 && c.BitDepth != 10 {
		fatal("bit_depth %d is not 8 or 10", c.BitDepth)
	}

	if !validAudioCaptures[strings.ToLower(c.AudioCapture)] {
		fatal("audio_capture %q is not one of pulseaudio, pipewire, alsa", c.AudioCapture)
	}

	if c.GPUIndex < -1 {
		warn("gpu_index %d is negative, treating as auto", c.GPUIndex)
		c.GPUIndex = -1
	}

	if c.LogLevel != "" {
		switch strings.ToLower(c.LogLevel) {
		case "debug", "info", "warn", "warning", "error":
		default:
			warn("log_level %q is unknown, using info", c.LogLevel)
			c.LogLevel = "info"
		}
	}

	return result
}

// ParseResolution splits the "WxH" resolution string.
func (c *Config) ParseResolution() (width, height int, err error) {
	caps := resolutionRe.FindStringSubmatch(c.Resolution)
	if caps == nil {
		return 0, 0, fmt.Errorf("resolution %q is not of the form WxH", c.Resolution)
	}
	width, _ = strconv.Atoi(caps[1])
	height, _ = strconv.Atoi(caps[2])
	if width < 16 || height < 16 {
		return 0, 0, fmt.Errorf("resolution %q is too small", c.Resolution)
	}
	return width, height, nil
}
