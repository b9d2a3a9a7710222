package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nestrilabs/nestri-server/internal/config"
	"github.com/nestrilabs/nestri-server/internal/gpu"
	"github.com/nestrilabs/nestri-server/internal/input"
	"github.com/nestrilabs/nestri-server/internal/logging"
	"github.com/nestrilabs/nestri-server/internal/p2p"
	"github.com/nestrilabs/nestri-server/internal/pipeline"
	"github.com/nestrilabs/nestri-server/internal/proto"
	"github.com/nestrilabs/nestri-server/internal/signaller"
	"github.com/nestrilabs/nestri-server/internal/vimputti"
	"github.com/nestrilabs/nestri-server/internal/webrtc"
)

const relayDialTimeout = 30 * time.Second

// peerSessionAdapter narrows *webrtc.Session to the signaller's interface;
// the data channel type converts at this seam.
type peerSessionAdapter struct {
	*webrtc.Session
}

func (a peerSessionAdapter) CreateDataChannel(label string) (signaller.DataChannel, error) {
	return a.Session.CreateDataChannel(label)
}

func runServer() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Error("loading config failed", "error", err)
		return err
	}

	var output io.Writer
	if cfg.LogFile != "" {
		output = logging.FileWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	}
	level := cfg.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	logging.Init(cfg.LogFormat, level, output)

	if cfg.Verbose {
		cfg.DebugPrint()
		logHostInfo()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// GPU selection
	registry := gpu.NewRegistry()
	devices, err := registry.Devices()
	if err != nil {
		log.Error("gathering GPU information failed", "error", err)
		return err
	}
	for i, device := range devices {
		log.Info("GPU found", "index", i, "device", device.String())
	}

	selection := gpu.Selection{
		Vendor:   cfg.GPUVendor,
		Name:     cfg.GPUName,
		CardPath: cfg.GPUCardPath,
	}
	if cfg.GPUIndex >= 0 {
		idx := cfg.GPUIndex
		selection.Index = &idx
	}
	selected, err := gpu.Select(devices, selection)
	if err != nil {
		log.Error("no suitable GPU", "error", err)
		return err
	}
	log.Info("selected GPU", "device", selected[0].String())

	// WebRTC session; the keyframe callback binds to the pipeline below.
	var media *pipeline.Pipeline
	session, err := webrtc.NewSession(webrtc.Config{
		VideoCodec: cfg.VideoCodec,
		OnKeyframeRequest: func() {
			if media != nil {
				media.RequestKeyframe()
			}
		},
	})
	if err != nil {
		log.Error("creating webrtc session failed", "error", err)
		return err
	}
	defer session.Close()

	// Media pipeline
	width, height, err := cfg.ParseResolution()
	if err != nil {
		return err
	}
	media, err = pipeline.New(pipeline.Config{
		Width:             width,
		Height:            height,
		Framerate:         cfg.Framerate,
		VideoCodec:        cfg.VideoCodec,
		VideoEncoder:      cfg.VideoEncoder,
		RenderNode:        selected[0].RenderPath,
		ZeroCopy:          cfg.ZeroCopy,
		RateControl:       pipeline.RateControlMode(cfg.RateControl),
		CQPQuality:        cfg.CQPQuality,
		TargetBitrateKbps: cfg.TargetBitrate,
		MaxBitrateKbps:    cfg.MaxBitrate,
		KeyframeDistSecs:  cfg.KeyframeDistance,
		AudioCapture:      pipeline.AudioCapture(cfg.AudioCapture),
		AudioBitrateKbps:  cfg.AudioBitrate,
	}, session)
	if err != nil {
		log.Error("building pipeline failed", "error", err)
		return err
	}

	// Relay connection
	p2pHost, err := p2p.NewHost()
	if err != nil {
		log.Error("creating p2p host failed", "error", err)
		return err
	}
	defer p2pHost.Close()

	dialCtx, cancel := context.WithTimeout(ctx, relayDialTimeout)
	conn, err := p2pHost.Connect(dialCtx, cfg.RelayURL)
	cancel()
	if err != nil {
		log.Error("connecting to relay failed", "relayUrl", cfg.RelayURL, "error", err)
		return err
	}

	stream, err := conn.OpenStream(ctx, p2p.StreamProtocolPush)
	if err != nil {
		log.Error("opening push stream failed", "error", err)
		return err
	}
	protocol := p2p.NewProtocolStream(p2p.NewFramedStream(stream))
	defer protocol.Close()

	// Virtual input; a missing daemon disables controllers but not the
	// session.
	var rumbleRx <-chan input.RumbleEvent
	var attachRx <-chan *proto.ControllerAttach
	var controllerSink signaller.ControllerSink
	vclient, err := vimputti.Connect(ctx, cfg.VimputtiSocketPath)
	if err != nil {
		log.Warn("virtual-input daemon unavailable, controllers disabled", "socket", cfg.VimputtiSocketPath, "error", err)
	} else {
		defer vclient.Close()
		log.Info("connected to virtual-input daemon", "socket", cfg.VimputtiSocketPath)
		controllers, rumble, acks := input.NewManager(input.ClientFactory{Client: vclient})
		rumbleRx = rumble
		attachRx = acks
		controllerSink = controllers
		defer controllers.Close()
	}

	// Signalling
	sig := signaller.New(cfg.Room, protocol, media.CompositorSource(), controllerSink, rumbleRx, attachRx)
	session.OnReady(sig.HandleReady)
	session.OnLocalOffer(sig.SendOffer)
	session.OnLocalCandidate(sig.SendCandidate)
	sig.AttachSession(peerSessionAdapter{session})

	if err := sig.Start(); err != nil {
		log.Error("starting signaller failed", "error", err)
		return err
	}

	log.Info("streaming", "room", cfg.Room)
	if err := media.Run(ctx); err != nil {
		log.Error("pipeline failed", "error", err)
		return err
	}

	log.Info("exiting gracefully")
	return nil
}

func logHostInfo() {
	if info, err := host.Info(); err == nil {
		log.Info("host", "os", info.OS, "platform", info.Platform, "kernel", info.KernelVersion, "uptime", info.Uptime)
	}
	if counts, err := cpu.Counts(true); err == nil {
		log.Info("cpu", "logicalCores", counts)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		log.Info("memory", "totalMB", vm.Total/1024/1024, "availableMB", vm.Available/1024/1024)
	}
}
