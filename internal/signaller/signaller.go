// Package signaller bridges the relay protocol stream to the WebRTC state
// machine: it mediates the SDP/ICE exchange, owns the in-session data
// channel and fans input, controller and rumble traffic between the peer
// and the host components.
package signaller

import (
	"fmt"
	"sync"

	"github.com/nestrilabs/nestri-server/internal/input"
	"github.com/nestrilabs/nestri-server/internal/logging"
	"github.com/nestrilabs/nestri-server/internal/proto"
)

var log = logging.L("signaller")

// DataChannelLabel names the in-session channel for input and controller
// traffic.
const DataChannelLabel = "nestri-data-channel"

// Payload-type strings on the relay stream and the data channel.
const (
	typePushStreamRoom = "push-stream-room"
	typePushStreamOK   = "push-stream-ok"
	typeOffer          = "offer"
	typeAnswer         = "answer"
	typeICECandidate   = "ice-candidate"
	typeInput          = "input"
	typeController     = "controllerInput"
)

// inboundQueueSize buffers data-channel frames between the transport
// callback and the dispatch goroutine. Frames past this are dropped.
const inboundQueueSize = 1024

// MessageStream is the slice of the protocol stream the signaller uses.
type MessageStream interface {
	RegisterCallback(payloadType string, fn func(*proto.Message) error)
	SendMessage(msg *proto.Message) error
}

// PeerSession is the WebRTC state machine the signaller drives.
type PeerSession interface {
	RequestSession() error
	SetRemoteAnswer(sdp string) error
	AddRemoteCandidate(candidate string, sdpMLineIndex uint32, sdpMid string) error
	CreateDataChannel(label string) (DataChannel, error)
}

// DataChannel is the in-session channel surface.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnMessage(fn func(data []byte))
}

// CompositorSource receives input events as custom upstream events.
type CompositorSource interface {
	SendUpstreamEvent(ev input.UpstreamEvent) bool
}

// ControllerSink consumes controller payloads from the data channel.
// Satisfied by *input.Manager.
type ControllerSink interface {
	SendCommand(payload proto.Payload) error
}

// Signaller mediates one streaming session. Shared fields sit behind a
// read/write lock since they are read from the protocol stream's reader,
// the data-channel callback and the forwarder goroutines; the one-shot
// receivers sit behind their own mutex so exactly one task can claim them.
type Signaller struct {
	mu          sync.RWMutex
	room        string
	stream      MessageStream
	source      CompositorSource
	session     PeerSession
	dataChannel DataChannel
	controllers ControllerSink

	recvMu   sync.Mutex
	rumbleRx <-chan input.RumbleEvent
	attachRx <-chan *proto.ControllerAttach
}

// New builds a signaller for a room. controllers, rumbleRx and attachRx may
// be nil when no virtual-input daemon is available.
func New(
	room string,
	stream MessageStream,
	source CompositorSource,
	controllers ControllerSink,
	rumbleRx <-chan input.RumbleEvent,
	attachRx <-chan *proto.ControllerAttach,
) *Signaller {
	return &Signaller{
		room:        room,
		stream:      stream,
		source:      source,
		controllers: controllers,
		rumbleRx:    rumbleRx,
		attachRx:    attachRx,
	}
}

// AttachSession wires the WebRTC session in. Must happen before Start.
func (s *Signaller) AttachSession(session PeerSession) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

func (s *Signaller) getSession() PeerSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Start registers the relay callbacks and announces the room. The first
// outbound frame is the push-stream-room envelope; once the relay confirms
// with push-stream-ok, the WebRTC session is asked for an offer.
func (s *Signaller) Start() error {
	s.mu.RLock()
	room := s.room
	stream := s.stream
	s.mu.RUnlock()

	if stream == nil {
		return fmt.Errorf("signaller: protocol stream not set")
	}
	if s.getSession() == nil {
		return fmt.Errorf("signaller: webrtc session not set")
	}

	stream.RegisterCallback(typeAnswer, s.handleAnswer)
	stream.RegisterCallback(typeICECandidate, s.handleRemoteCandidate)
	stream.RegisterCallback(typePushStreamOK, s.handlePushStreamOK)

	msg := proto.NewMessage(&proto.ServerPushStream{RoomName: room}, typePushStreamRoom, nil)
	if err := stream.SendMessage(msg); err != nil {
		return fmt.Errorf("signaller: announce room: %w", err)
	}
	log.Info("room announced", "room", room)
	return nil
}

func (s *Signaller) handlePushStreamOK(msg *proto.Message) error {
	if _, ok := msg.Payload.(*proto.ServerPushStream); !ok {
		log.Warn("unexpected payload for push-stream-ok", "type", fmt.Sprintf("%T", msg.Payload))
		return nil
	}
	log.Info("relay accepted push stream", "room", s.room)
	return s.getSession().RequestSession()
}

func (s *Signaller) handleAnswer(msg *proto.Message) error {
	sdp, ok := msg.Payload.(*proto.Sdp)
	if !ok {
		log.Warn("unexpected payload for answer", "type", fmt.Sprintf("%T", msg.Payload))
		return nil
	}
	if sdp.SDP == nil {
		return fmt.Errorf("signaller: answer without session description")
	}
	return s.getSession().SetRemoteAnswer(sdp.SDP.SDP)
}

func (s *Signaller) handleRemoteCandidate(msg *proto.Message) error {
	ice, ok := msg.Payload.(*proto.Ice)
	if !ok {
		log.Warn("unexpected payload for ice-candidate", "type", fmt.Sprintf("%T", msg.Payload))
		return nil
	}
	if ice.Candidate == nil {
		return fmt.Errorf("signaller: ice message without candidate")
	}

	var mLineIndex uint32
	if ice.Candidate.SDPMLineIndex != nil {
		mLineIndex = *ice.Candidate.SDPMLineIndex
	}
	var mid string
	if ice.Candidate.SDPMid != nil {
		mid = *ice.Candidate.SDPMid
	}
	return s.getSession().AddRemoteCandidate(ice.Candidate.Candidate, mLineIndex, mid)
}

// SendOffer wraps a locally generated SDP offer and ships it to the relay.
// Wired to the session's offer callback.
func (s *Signaller) SendOffer(sdp string) {
	msg := proto.NewMessage(&proto.Sdp{
		SDP: &proto.SessionDescription{Type: "offer", SDP: sdp},
	}, typeOffer, nil)

	if err := s.stream.SendMessage(msg); err != nil {
		log.Error("sending offer failed", "error", err)
	}
}

// SendCandidate ships a local ICE candidate to the relay. Wired to the
// session's candidate callback.
func (s *Signaller) SendCandidate(candidate string, sdpMLineIndex uint32, sdpMid string) {
	init := &proto.ICECandidateInit{
		Candidate:     candidate,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if sdpMid != "" {
		init.SDPMid = &sdpMid
	}
	msg := proto.NewMessage(&proto.Ice{Candidate: init}, typeICECandidate, nil)

	if err := s.stream.SendMessage(msg); err != nil {
		log.Error("sending ice candidate failed", "error", err)
	}
}

// HandleReady creates the data channel and starts the in-session tasks.
// Wired to the session's readiness callback, so it runs before the offer is
// generated and the channel's m-line lands in it.
func (s *Signaller) HandleReady() {
	session := s.getSession()

	dataChannel, err := session.CreateDataChannel(DataChannelLabel)
	if err != nil {
		log.Error("creating data channel failed", "error", err)
		return
	}
	log.Info("data channel created", "label", dataChannel.Label())

	s.mu.Lock()
	s.dataChannel = dataChannel
	s.mu.Unlock()

	// Inbound frames hop through a bounded queue so the transport callback
	// stays cheap and frames are processed strictly in arrival order.
	frames := make(chan []byte, inboundQueueSize)
	dataChannel.OnMessage(func(data []byte) {
		select {
		case frames <- data:
		default:
			log.Warn("inbound data channel queue full, dropping frame")
		}
	})
	go s.dispatchLoop(frames)

	if rumbleRx := s.takeRumbleRx(); rumbleRx != nil {
		go s.forwardRumble(rumbleRx, dataChannel)
	}
	if attachRx := s.takeAttachRx(); attachRx != nil {
		go s.forwardAttach(attachRx, dataChannel)
	}
}

// takeRumbleRx yields the rumble receiver exactly once.
func (s *Signaller) takeRumbleRx() <-chan input.RumbleEvent {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	rx := s.rumbleRx
	s.rumbleRx = nil
	return rx
}

// takeAttachRx yields the attach receiver exactly once.
func (s *Signaller) takeAttachRx() <-chan *proto.ControllerAttach {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	rx := s.attachRx
	s.attachRx = nil
	return rx
}

// dispatchLoop routes decoded data-channel frames: mouse/keyboard payloads
// to the compositor source, controller payloads to the manager.
func (s *Signaller) dispatchLoop(frames <-chan []byte) {
	for data := range frames {
		msg, err := proto.Unmarshal(data)
		if err != nil {
			log.Error("decoding data channel frame failed", "error", err)
			continue
		}
		if msg.Base == nil || msg.Payload == nil {
			continue
		}

		switch msg.Base.PayloadType {
		case typeInput:
			ev := input.MapPayload(msg.Payload)
			if ev == nil {
				continue
			}
			s.mu.RLock()
			source := s.source
			s.mu.RUnlock()
			if source != nil {
				source.SendUpstreamEvent(*ev)
			}
		case typeController:
			s.mu.RLock()
			controllers := s.controllers
			s.mu.RUnlock()
			if controllers == nil {
				continue
			}
			if err := controllers.SendCommand(msg.Payload); err != nil {
				log.Warn("forwarding controller command failed", "error", err)
			}
		}
	}
}

// forwardRumble drains daemon rumble events into the data channel. The
// strong motor maps to high_frequency and the weak motor to low_frequency.
func (s *Signaller) forwardRumble(rumbleRx <-chan input.RumbleEvent, dataChannel DataChannel) {
	for ev := range rumbleRx {
		msg := proto.NewMessage(&proto.ControllerRumble{
			SessionSlot:   int32(ev.Slot),
			SessionID:     ev.SessionID,
			LowFrequency:  int32(ev.Weak),
			HighFrequency: int32(ev.Strong),
			Duration:      int32(ev.DurationMs),
		}, typeController, nil)

		if err := dataChannel.Send(msg.Marshal()); err != nil {
			log.Warn("sending rumble failed", "error", err)
		}
	}
}

// forwardAttach drains attach acknowledgements into the data channel.
func (s *Signaller) forwardAttach(attachRx <-chan *proto.ControllerAttach, dataChannel DataChannel) {
	for ack := range attachRx {
		msg := proto.NewMessage(ack, typeController, nil)
		if err := dataChannel.Send(msg.Marshal()); err != nil {
			log.Warn("sending controller attach failed", "error", err)
		}
	}
}
