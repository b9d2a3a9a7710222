// Package webrtc owns the peer connection on the host side: the media
// tracks the pipeline feeds, offer/answer plumbing driven by the signaller,
// and the in-session data channel.
package webrtc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/nestrilabs/nestri-server/internal/logging"
)

var log = logging.L("webrtc")

const defaultSTUNServer = "stun:stun.l.google.com:19302"

// Config tunes the peer session.
type Config struct {
	// STUNServer overrides the default Google STUN server.
	STUNServer string
	// VideoCodec is the negotiated video codec name (h264, h265, av1,
	// vp8, vp9).
	VideoCodec string
	// OnKeyframeRequest fires when the remote peer reports picture loss;
	// the pipeline should force an IDR.
	OnKeyframeRequest func()
}

// Session is the offer-side WebRTC state machine. The signaller drives it
// through RequestSession/SetRemoteAnswer/AddRemoteCandidate and observes it
// through the On* callbacks.
type Session struct {
	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample

	mu               sync.RWMutex
	onReady          func()
	onLocalOffer     func(sdp string)
	onLocalCandidate func(candidate string, sdpMLineIndex uint32, sdpMid string)

	requestOnce sync.Once
	closeOnce   sync.Once
	done        chan struct{}
}

func videoMimeType(codec string) (string, error) {
	switch strings.ToLower(codec) {
	case "h264", "":
		return webrtc.MimeTypeH264, nil
	case "h265":
		return webrtc.MimeTypeH265, nil
	case "av1":
		return webrtc.MimeTypeAV1, nil
	case "vp8":
		return webrtc.MimeTypeVP8, nil
	case "vp9":
		return webrtc.MimeTypeVP9, nil
	default:
		return "", fmt.Errorf("webrtc: unsupported video codec: %s", codec)
	}
}

// NewSession builds the peer connection and its outbound tracks.
func NewSession(cfg Config) (*Session, error) {
	stun := cfg.STUNServer
	if stun == "" {
		stun = defaultSTUNServer
	}

	videoMime, err := videoMimeType(cfg.VideoCodec)
	if err != nil {
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{stun}}},
	})
	if err != nil {
		return nil, fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: videoMime},
		"video", "nestri-video",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: create video track: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "nestri-audio",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: create audio track: %w", err)
	}

	s := &Session{
		pc:         pc,
		videoTrack: videoTrack,
		audioTrack: audioTrack,
		done:       make(chan struct{}),
	}

	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: add video track: %w", err)
	}
	audioSender, err := pc.AddTrack(audioTrack)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: add audio track: %w", err)
	}
	go s.readRTCP(videoSender, cfg.OnKeyframeRequest)
	go s.readRTCP(audioSender, nil)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.mu.RLock()
		fn := s.onLocalCandidate
		s.mu.RUnlock()
		if fn == nil {
			return
		}

		init := c.ToJSON()
		var mLineIndex uint32
		if init.SDPMLineIndex != nil {
			mLineIndex = uint32(*init.SDPMLineIndex)
		}
		var mid string
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		fn(init.Candidate, mLineIndex, mid)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer connection state changed", "state", state)
	})

	return s, nil
}

// OnReady registers the callback fired once per session right before the
// offer is created; the data channel must be created inside it so its
// m-line lands in the offer.
func (s *Session) OnReady(fn func()) {
	s.mu.Lock()
	s.onReady = fn
	s.mu.Unlock()
}

// OnLocalOffer registers the callback receiving generated offers.
func (s *Session) OnLocalOffer(fn func(sdp string)) {
	s.mu.Lock()
	s.onLocalOffer = fn
	s.mu.Unlock()
}

// OnLocalCandidate registers the callback receiving trickled local ICE
// candidates.
func (s *Session) OnLocalCandidate(fn func(candidate string, sdpMLineIndex uint32, sdpMid string)) {
	s.mu.Lock()
	s.onLocalCandidate = fn
	s.mu.Unlock()
}

// RequestSession runs the offer half of the handshake: readiness callback,
// then offer creation. Subsequent calls are no-ops; the relay re-sends
// push-stream-ok on reconnects.
func (s *Session) RequestSession() error {
	var err error
	s.requestOnce.Do(func() {
		s.mu.RLock()
		ready := s.onReady
		offerFn := s.onLocalOffer
		s.mu.RUnlock()

		if ready != nil {
			ready()
		}

		var offer webrtc.SessionDescription
		offer, err = s.pc.CreateOffer(nil)
		if err != nil {
			err = fmt.Errorf("webrtc: create offer: %w", err)
			return
		}
		if err = s.pc.SetLocalDescription(offer); err != nil {
			err = fmt.Errorf("webrtc: set local description: %w", err)
			return
		}
		if offerFn != nil {
			offerFn(offer.SDP)
		}
	})
	return err
}

// SetRemoteAnswer applies the peer's SDP answer.
func (s *Session) SetRemoteAnswer(sdp string) error {
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("webrtc: set remote answer: %w", err)
	}
	return nil
}

// AddRemoteCandidate applies a trickled remote ICE candidate.
func (s *Session) AddRemoteCandidate(candidate string, sdpMLineIndex uint32, sdpMid string) error {
	mLineIndex := uint16(sdpMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMLineIndex: &mLineIndex,
	}
	if sdpMid != "" {
		init.SDPMid = &sdpMid
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("webrtc: add remote candidate: %w", err)
	}
	return nil
}

// CreateDataChannel opens an ordered, partially reliable channel for input
// and controller traffic.
func (s *Session) CreateDataChannel(label string) (*DataChannel, error) {
	ordered := true
	maxRetransmits := uint16(2)
	protocol := "raw"

	dc, err := s.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Protocol:       &protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("webrtc: create data channel %q: %w", label, err)
	}
	return &DataChannel{dc: dc}, nil
}

// WriteVideoSample feeds one encoded video frame to the track.
func (s *Session) WriteVideoSample(data []byte, duration time.Duration) error {
	return s.videoTrack.WriteSample(media.Sample{Data: data, Duration: duration})
}

// WriteAudioSample feeds one encoded audio frame to the track.
func (s *Session) WriteAudioSample(data []byte, duration time.Duration) error {
	return s.audioTrack.WriteSample(media.Sample{Data: data, Duration: duration})
}

// Close tears the peer connection down.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pc.Close()
	})
	return err
}

// readRTCP drains feedback from a sender. Picture-loss indications on the
// video sender trigger a keyframe request; everything else is discarded
// after freeing the interceptor buffers.
func (s *Session) readRTCP(sender *webrtc.RTPSender, onPLI func()) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, _, err := sender.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug("rtcp read ended", "error", err)
			}
			return
		}
		if onPLI == nil {
			continue
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				onPLI()
			}
		}
	}
}

// DataChannel wraps the pion channel with the small surface the signaller
// needs.
type DataChannel struct {
	dc *webrtc.DataChannel
}

// Label returns the channel's label.
func (d *DataChannel) Label() string {
	return d.dc.Label()
}

// Send writes one binary frame.
func (d *DataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

// OnMessage registers the inbound frame callback.
func (d *DataChannel) OnMessage(fn func(data []byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// OnOpen registers the open callback.
func (d *DataChannel) OnOpen(fn func()) {
	d.dc.OnOpen(fn)
}

// Close closes the channel.
func (d *DataChannel) Close() error {
	return d.dc.Close()
}
