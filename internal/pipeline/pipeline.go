// Package pipeline builds and runs the GStreamer media pipeline: compositor
// capture and audio capture, encoding, and delivery of encoded samples into
// the WebRTC session's tracks.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/nestrilabs/nestri-server/internal/logging"
	"github.com/nestrilabs/nestri-server/internal/webrtc"
)

var log = logging.L("pipeline")

// gstInitOnce ensures GStreamer is initialized only once.
var gstInitOnce sync.Once

// InitGStreamer initializes the GStreamer library. Safe to call multiple
// times.
func InitGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// RateControlMode selects the encoder rate-control strategy.
type RateControlMode string

const (
	RateControlCQP RateControlMode = "cqp"
	RateControlVBR RateControlMode = "vbr"
	RateControlCBR RateControlMode = "cbr"
)

// AudioCapture selects the audio source element.
type AudioCapture string

const (
	AudioCapturePulse    AudioCapture = "pulseaudio"
	AudioCapturePipewire AudioCapture = "pipewire"
	AudioCaptureALSA     AudioCapture = "alsa"
)

// Config describes the pipeline to build.
type Config struct {
	Width     int
	Height    int
	Framerate int

	VideoCodec   string
	VideoEncoder string // element override; empty picks a software default
	RenderNode   string // DRM render node for the compositor source
	ZeroCopy     bool

	RateControl       RateControlMode
	CQPQuality        int
	TargetBitrateKbps int
	MaxBitrateKbps    int
	KeyframeDistSecs  int

	AudioCapture     AudioCapture
	AudioBitrateKbps int
}

// Pipeline is the running media graph feeding a WebRTC session.
type Pipeline struct {
	pipeline      *gst.Pipeline
	source        *Source
	videoSink     *app.Sink
	videoSinkElem *gst.Element
	audioSink     *app.Sink
	session       *webrtc.Session

	frameDuration time.Duration
	running       atomic.Bool
	stopOnce      sync.Once
}

// videoEncoderChain returns the encoder (and parser, when needed) fragment
// of the launch description for the configured codec.
func videoEncoderChain(cfg Config) (string, error) {
	keyInt := cfg.KeyframeDistSecs * cfg.Framerate
	if keyInt <= 0 {
		keyInt = cfg.Framerate * 2
	}

	if cfg.VideoEncoder != "" {
		// Explicit encoder override: trust the operator's element and only
		// add the parser the codec needs.
		return cfg.VideoEncoder + " name=videoenc" + parserFor(cfg.VideoCodec), nil
	}

	switch strings.ToLower(cfg.VideoCodec) {
	case "h264", "":
		enc := fmt.Sprintf("x264enc name=videoenc tune=zerolatency speed-preset=ultrafast key-int-max=%d", keyInt)
		switch cfg.RateControl {
		case RateControlCQP:
			enc += fmt.Sprintf(" pass=quant quantizer=%d", cfg.CQPQuality)
		case RateControlVBR:
			enc += fmt.Sprintf(" pass=pass1 bitrate=%d", cfg.TargetBitrateKbps)
		default:
			enc += fmt.Sprintf(" bitrate=%d", cfg.TargetBitrateKbps)
		}
		return enc + parserFor("h264"), nil
	case "h265":
		enc := fmt.Sprintf("x265enc name=videoenc tune=zerolatency speed-preset=ultrafast key-int-max=%d bitrate=%d",
			keyInt, cfg.TargetBitrateKbps)
		return enc + parserFor("h265"), nil
	case "vp8":
		return fmt.Sprintf("vp8enc name=videoenc deadline=1 keyframe-max-dist=%d target-bitrate=%d",
			keyInt, cfg.TargetBitrateKbps*1000), nil
	case "vp9":
		return fmt.Sprintf("vp9enc name=videoenc deadline=1 keyframe-max-dist=%d target-bitrate=%d",
			keyInt, cfg.TargetBitrateKbps*1000), nil
	case "av1":
		return fmt.Sprintf("svtav1enc name=videoenc preset=12 intra-period-length=%d target-bitrate=%d",
			keyInt, cfg.TargetBitrateKbps), nil
	default:
		return "", fmt.Errorf("pipeline: unsupported video codec: %s", cfg.VideoCodec)
	}
}

func parserFor(codec string) string {
	switch strings.ToLower(codec) {
	case "h264", "":
		return " ! h264parse config-interval=-1"
	case "h265":
		return " ! h265parse config-interval=-1"
	default:
		return ""
	}
}

func audioSourceElement(capture AudioCapture) (string, error) {
	switch capture {
	case AudioCapturePulse, "":
		return "pulsesrc name=audiosrc do-timestamp=true", nil
	case AudioCapturePipewire:
		// use-bufferpool is a video optimization and misbehaves for audio.
		return "pipewiresrc name=audiosrc use-bufferpool=false do-timestamp=true", nil
	case AudioCaptureALSA:
		return "alsasrc name=audiosrc do-timestamp=true", nil
	default:
		return "", fmt.Errorf("pipeline: unsupported audio capture method: %s", capture)
	}
}

// launchDescription assembles the gst-launch style description for both the
// video and audio branches.
func launchDescription(cfg Config) (string, error) {
	encoderChain, err := videoEncoderChain(cfg)
	if err != nil {
		return "", err
	}
	audioSrc, err := audioSourceElement(cfg.AudioCapture)
	if err != nil {
		return "", err
	}

	source := "waylanddisplaysrc name=videosrc do-timestamp=true"
	if cfg.RenderNode != "" {
		source += fmt.Sprintf(" render-node=%s", cfg.RenderNode)
	}

	var videoCaps, convert string
	if cfg.ZeroCopy {
		videoCaps = fmt.Sprintf("video/x-raw(memory:DMABuf),width=%d,height=%d,framerate=%d/1",
			cfg.Width, cfg.Height, cfg.Framerate)
		convert = ""
	} else {
		videoCaps = fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1,format=RGBx",
			cfg.Width, cfg.Height, cfg.Framerate)
		convert = "videoconvert ! "
	}

	video := fmt.Sprintf(
		"%s ! %s ! queue max-size-buffers=2 max-size-time=0 max-size-bytes=0 ! %s%s ! appsink name=videosink",
		source, videoCaps, convert, encoderChain)

	audioBitrate := cfg.AudioBitrateKbps
	if audioBitrate <= 0 {
		audioBitrate = 128
	}
	audio := fmt.Sprintf(
		"%s ! audioconvert ! audiorate ! audio/x-raw,rate=48000,channels=2 ! "+
			"queue max-size-buffers=2 max-size-time=0 max-size-bytes=0 ! "+
			"opusenc name=audioenc bitrate=%d frame-size=10 ! opusparse ! appsink name=audiosink",
		audioSrc, audioBitrate*1000)

	return video + "  " + audio, nil
}

// New builds the pipeline and binds its sinks to the WebRTC session tracks.
func New(cfg Config, session *webrtc.Session) (*Pipeline, error) {
	InitGStreamer()

	if cfg.ZeroCopy {
		log.Warn("zero-copy is experimental, it may or may not improve performance")
	}

	desc, err := launchDescription(cfg)
	if err != nil {
		return nil, err
	}
	log.Debug("pipeline description", "description", desc)

	gstPipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse description: %w", err)
	}

	videoSrcElem, err := gstPipeline.GetElementByName("videosrc")
	if err != nil {
		return nil, fmt.Errorf("pipeline: missing compositor source: %w", err)
	}

	p := &Pipeline{
		pipeline:      gstPipeline,
		source:        &Source{element: videoSrcElem},
		session:       session,
		frameDuration: time.Second / time.Duration(cfg.Framerate),
	}

	if p.videoSink, p.videoSinkElem, err = sinkByName(gstPipeline, "videosink"); err != nil {
		return nil, err
	}
	if p.audioSink, _, err = sinkByName(gstPipeline, "audiosink"); err != nil {
		return nil, err
	}

	p.videoSink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: p.onVideoSample})
	p.audioSink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: p.onAudioSample})

	return p, nil
}

func sinkByName(pipeline *gst.Pipeline, name string) (*app.Sink, *gst.Element, error) {
	elem, err := pipeline.GetElementByName(name)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: missing %s: %w", name, err)
	}
	sink := app.SinkFromElement(elem)
	if sink == nil {
		return nil, nil, fmt.Errorf("pipeline: %s is not an appsink", name)
	}
	sink.SetProperty("emit-signals", true)
	sink.SetProperty("max-buffers", uint(2))
	sink.SetProperty("drop", true)
	sink.SetProperty("sync", false)
	return sink, elem, nil
}

// CompositorSource returns the input event target.
func (p *Pipeline) CompositorSource() *Source {
	return p.source
}

// RequestKeyframe asks the video encoder for an immediate IDR by pushing a
// force-key-unit event upstream from the video sink.
func (p *Pipeline) RequestKeyframe() {
	structure := gst.NewStructure("GstForceKeyUnit")
	if err := structure.SetValue("all-headers", true); err != nil {
		log.Warn("building force-key-unit event failed", "error", err)
		return
	}
	p.videoSinkElem.SendEvent(gst.NewCustomEvent(gst.EventTypeCustomUpstream, structure))
}

func (p *Pipeline) onVideoSample(sink *app.Sink) gst.FlowReturn {
	return p.forwardSample(sink, p.session.WriteVideoSample)
}

func (p *Pipeline) onAudioSample(sink *app.Sink) gst.FlowReturn {
	return p.forwardSample(sink, p.session.WriteAudioSample)
}

func (p *Pipeline) forwardSample(sink *app.Sink, write func([]byte, time.Duration) error) gst.FlowReturn {
	if !p.running.Load() {
		return gst.FlowOK
	}

	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	// The mapped bytes are only valid during this callback.
	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())
	buffer.Unmap()

	duration := p.frameDuration
	if d := buffer.Duration().AsDuration(); d != nil && *d > 0 {
		duration = *d
	}

	if err := write(data, duration); err != nil {
		log.Warn("writing sample failed", "error", err)
	}
	return gst.FlowOK
}

// Run starts the pipeline and blocks until the context is cancelled, the
// stream ends, or the bus reports an error.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("pipeline: start: %w", err)
	}
	p.running.Store(true)
	defer p.Stop()

	bus := p.pipeline.GetPipelineBus()
	if bus == nil {
		return fmt.Errorf("pipeline: no bus")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("pipeline interrupted")
			return nil
		default:
		}

		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			log.Info("pipeline finished with EOS")
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			if gerr != nil {
				return fmt.Errorf("pipeline: %s", gerr.Error())
			}
			return fmt.Errorf("pipeline: unknown bus error")
		}
	}
}

// Stop sets the pipeline to NULL. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		if err := p.pipeline.SetState(gst.StateNull); err != nil {
			log.Warn("stopping pipeline failed", "error", err)
		}
	})
}
