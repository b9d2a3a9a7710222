package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestrilabs/nestri-server/internal/logging"
)

var version = "0.1.0"

var cfgFile string

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "nestri-server",
	Short: "Nestri streaming host",
	Long: `Nestri server - captures a live desktop, encodes it on the GPU and
streams it over WebRTC to remote peers through a relay, with mouse,
keyboard and gamepad input flowing back into the host.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the streaming host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nestri-server v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/nestri/nestri-server.yaml)")

	flags := runCmd.Flags()
	flags.String("room", "", "room name on the relay (random when empty)")
	flags.String("relay-url", "", "relay multiaddr, must end with /p2p/<peer_id>")
	flags.String("resolution", "1280x720", "virtual display resolution (WxH)")
	flags.Int("framerate", 60, "virtual display framerate")
	flags.String("gpu-vendor", "", "GPU vendor filter (intel, nvidia, amd)")
	flags.String("gpu-name", "", "GPU name substring filter")
	flags.Int("gpu-index", -1, "GPU index when several match (-1 = auto)")
	flags.String("gpu-card-path", "", "explicit /dev/dri card or render path")
	flags.String("video-codec", "h264", "video codec (h264, h265, av1, vp8, vp9)")
	flags.String("video-encoder", "", "explicit encoder element override")
	flags.String("rate-control", "vbr", "rate control method (cqp, vbr, cbr)")
	flags.Int("cqp-quality", 23, "CQP quality level")
	flags.Int("target-bitrate", 6000, "target bitrate in kbps")
	flags.Int("max-bitrate", 8000, "maximum bitrate in kbps (vbr)")
	flags.String("latency-control", "lowest-latency", "tune towards lowest-latency or highest-quality")
	flags.Int("keyframe-distance", 2, "keyframe distance in seconds")
	flags.Int("bit-depth", 8, "encoding bit depth (8 or 10)")
	flags.Bool("zero-copy", false, "experimental zero-copy pipeline")
	flags.String("audio-capture", "pulseaudio", "audio capture method (pulseaudio, pipewire, alsa)")
	flags.Int("audio-bitrate", 128, "audio bitrate in kbps")
	flags.String("vimputti-path", "/tmp/vimputti-0", "virtual-input daemon socket path")
	flags.Bool("verbose", false, "verbose output")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("log-file", "", "log file path (stdout when empty)")

	bindings := map[string]string{
		"room":                 "room",
		"relay_url":            "relay-url",
		"resolution":           "resolution",
		"framerate":            "framerate",
		"gpu_vendor":           "gpu-vendor",
		"gpu_name":             "gpu-name",
		"gpu_index":            "gpu-index",
		"gpu_card_path":        "gpu-card-path",
		"video_codec":          "video-codec",
		"video_encoder":        "video-encoder",
		"rate_control":         "rate-control",
		"cqp_quality":          "cqp-quality",
		"target_bitrate":       "target-bitrate",
		"max_bitrate":          "max-bitrate",
		"latency_control":      "latency-control",
		"keyframe_distance":    "keyframe-distance",
		"bit_depth":            "bit-depth",
		"zero_copy":            "zero-copy",
		"audio_capture":        "audio-capture",
		"audio_bitrate":        "audio-bitrate",
		"vimputti_socket_path": "vimputti-path",
		"verbose":              "verbose",
		"log_level":            "log-level",
		"log_format":           "log-format",
		"log_file":             "log-file",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
