package signaller

import (
	"sync"
	"testing"
	"time"

	"github.com/nestrilabs/nestri-server/internal/input"
	"github.com/nestrilabs/nestri-server/internal/proto"
)

type fakeStream struct {
	mu        sync.Mutex
	sent      []*proto.Message
	callbacks map[string]func(*proto.Message) error
}

func newFakeStream() *fakeStream {
	return &fakeStream{callbacks: make(map[string]func(*proto.Message) error)}
}

func (f *fakeStream) RegisterCallback(payloadType string, fn func(*proto.Message) error) {
	f.mu.Lock()
	f.callbacks[payloadType] = fn
	f.mu.Unlock()
}

func (f *fakeStream) SendMessage(msg *proto.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

// deliver simulates an inbound relay frame.
func (f *fakeStream) deliver(t *testing.T, msg *proto.Message) {
	t.Helper()
	f.mu.Lock()
	fn := f.callbacks[msg.Base.PayloadType]
	f.mu.Unlock()
	if fn == nil {
		t.Fatalf("no callback for %q", msg.Base.PayloadType)
	}
	if err := fn(msg); err != nil {
		t.Fatalf("callback %q: %v", msg.Base.PayloadType, err)
	}
}

func (f *fakeStream) sentMessages() []*proto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*proto.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeDataChannel struct {
	mu        sync.Mutex
	label     string
	sent      [][]byte
	onMessage func([]byte)
}

func (d *fakeDataChannel) Label() string { return d.label }

func (d *fakeDataChannel) Send(data []byte) error {
	d.mu.Lock()
	d.sent = append(d.sent, data)
	d.mu.Unlock()
	return nil
}

func (d *fakeDataChannel) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}

func (d *fakeDataChannel) inject(data []byte) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	fn(data)
}

func (d *fakeDataChannel) sentFrames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

type fakeSession struct {
	mu             sync.Mutex
	requests       int
	remoteAnswer   string
	candidates     []string
	dataChannel    *fakeDataChannel
	createdChannel string
}

func (s *fakeSession) RequestSession() error {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) SetRemoteAnswer(sdp string) error {
	s.mu.Lock()
	s.remoteAnswer = sdp
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) AddRemoteCandidate(candidate string, sdpMLineIndex uint32, sdpMid string) error {
	s.mu.Lock()
	s.candidates = append(s.candidates, candidate)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) CreateDataChannel(label string) (DataChannel, error) {
	dc := &fakeDataChannel{label: label}
	s.mu.Lock()
	s.dataChannel = dc
	s.createdChannel = label
	s.mu.Unlock()
	return dc, nil
}

type fakeSource struct {
	mu     sync.Mutex
	events []input.UpstreamEvent
}

func (f *fakeSource) SendUpstreamEvent(ev input.UpstreamEvent) bool {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return true
}

type fakeSink struct {
	mu       sync.Mutex
	payloads []proto.Payload
}

func (f *fakeSink) SendCommand(payload proto.Payload) error {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartAnnouncesRoomAndRequestsSessionOnce(t *testing.T) {
	stream := newFakeStream()
	session := &fakeSession{}

	sig := New("abc", stream, &fakeSource{}, nil, nil, nil)
	sig.AttachSession(session)
	if err := sig.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	sent := stream.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].Base.PayloadType != "push-stream-room" {
		t.Fatalf("payload type = %q", sent[0].Base.PayloadType)
	}
	if p, ok := sent[0].Payload.(*proto.ServerPushStream); !ok || p.RoomName != "abc" {
		t.Fatalf("payload = %#v", sent[0].Payload)
	}

	stream.deliver(t, proto.NewMessage(&proto.ServerPushStream{}, "push-stream-ok", nil))

	session.mu.Lock()
	requests := session.requests
	session.mu.Unlock()
	if requests != 1 {
		t.Fatalf("session requests = %d, want 1", requests)
	}
}

func TestAnswerAndRemoteCandidateReachSession(t *testing.T) {
	stream := newFakeStream()
	session := &fakeSession{}

	sig := New("abc", stream, &fakeSource{}, nil, nil, nil)
	sig.AttachSession(session)
	if err := sig.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.deliver(t, proto.NewMessage(&proto.Sdp{
		SDP: &proto.SessionDescription{Type: "answer", SDP: "v=0 answer"},
	}, "answer", nil))

	mline := uint32(1)
	mid := "1"
	stream.deliver(t, proto.NewMessage(&proto.Ice{
		Candidate: &proto.ICECandidateInit{
			Candidate:     "candidate:42",
			SDPMLineIndex: &mline,
			SDPMid:        &mid,
		},
	}, "ice-candidate", nil))

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.remoteAnswer != "v=0 answer" {
		t.Fatalf("remote answer = %q", session.remoteAnswer)
	}
	if len(session.candidates) != 1 || session.candidates[0] != "candidate:42" {
		t.Fatalf("candidates = %v", session.candidates)
	}
}

func TestSendOfferAndCandidateEnvelopes(t *testing.T) {
	stream := newFakeStream()
	sig := New("abc", stream, &fakeSource{}, nil, nil, nil)
	sig.AttachSession(&fakeSession{})

	sig.SendOffer("v=0 offer")
	sig.SendCandidate("candidate:7", 0, "0")

	sent := stream.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages", len(sent))
	}

	if sent[0].Base.PayloadType != "offer" {
		t.Fatalf("first payload type = %q", sent[0].Base.PayloadType)
	}
	sdp := sent[0].Payload.(*proto.Sdp)
	if sdp.SDP.Type != "offer" || sdp.SDP.SDP != "v=0 offer" {
		t.Fatalf("sdp = %+v", sdp.SDP)
	}

	if sent[1].Base.PayloadType != "ice-candidate" {
		t.Fatalf("second payload type = %q", sent[1].Base.PayloadType)
	}
	ice := sent[1].Payload.(*proto.Ice)
	if ice.Candidate.Candidate != "candidate:7" {
		t.Fatalf("candidate = %+v", ice.Candidate)
	}
	if ice.Candidate.SDPMLineIndex == nil || *ice.Candidate.SDPMLineIndex != 0 {
		t.Fatalf("m-line index = %v", ice.Candidate.SDPMLineIndex)
	}
}

func TestHandleReadyCreatesDataChannelAndRoutesInbound(t *testing.T) {
	stream := newFakeStream()
	session := &fakeSession{}
	source := &fakeSource{}
	sink := &fakeSink{}

	sig := New("abc", stream, source, sink, nil, nil)
	sig.AttachSession(session)
	sig.HandleReady()

	if session.createdChannel != DataChannelLabel {
		t.Fatalf("channel label = %q", session.createdChannel)
	}
	dc := session.dataChannel

	// A mouse payload under "input" becomes a compositor event.
	dc.inject(proto.NewMessage(&proto.MouseMove{X: 3, Y: 4}, "input", nil).Marshal())
	waitFor(t, "compositor event", func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.events) == 1
	})
	source.mu.Lock()
	ev := source.events[0]
	source.mu.Unlock()
	if ev.Name != "MouseMoveRelative" {
		t.Fatalf("event = %+v", ev)
	}

	// A controller payload under "controllerInput" reaches the sink.
	dc.inject(proto.NewMessage(&proto.ControllerAttach{ID: "ps5", SessionID: "S"}, "controllerInput", nil).Marshal())
	waitFor(t, "controller command", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.payloads) == 1
	})
	sink.mu.Lock()
	payload := sink.payloads[0]
	sink.mu.Unlock()
	if attach, ok := payload.(*proto.ControllerAttach); !ok || attach.ID != "ps5" {
		t.Fatalf("payload = %#v", payload)
	}

	// Controller payloads must not leak into the compositor path.
	source.mu.Lock()
	eventCount := len(source.events)
	source.mu.Unlock()
	if eventCount != 1 {
		t.Fatalf("compositor events = %d", eventCount)
	}
}

func TestRumbleForwarderInvertsMotorNaming(t *testing.T) {
	stream := newFakeStream()
	session := &fakeSession{}
	rumble := make(chan input.RumbleEvent, 1)

	sig := New("abc", stream, &fakeSource{}, &fakeSink{}, rumble, nil)
	sig.AttachSession(session)
	sig.HandleReady()

	rumble <- input.RumbleEvent{Slot: 2, Strong: 1000, Weak: 400, DurationMs: 300, SessionID: "S"}

	dc := session.dataChannel
	waitFor(t, "rumble frame", func() bool { return len(dc.sentFrames()) == 1 })

	msg, err := proto.Unmarshal(dc.sentFrames()[0])
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Base.PayloadType != "controllerInput" {
		t.Fatalf("payload type = %q", msg.Base.PayloadType)
	}
	r := msg.Payload.(*proto.ControllerRumble)
	if r.SessionSlot != 2 || r.SessionID != "S" || r.Duration != 300 {
		t.Fatalf("rumble = %+v", r)
	}
	// Wire contract: strong motor travels as high_frequency, weak as low.
	if r.HighFrequency != 1000 || r.LowFrequency != 400 {
		t.Fatalf("motor mapping = high:%d low:%d", r.HighFrequency, r.LowFrequency)
	}
}

func TestAttachForwarder(t *testing.T) {
	stream := newFakeStream()
	session := &fakeSession{}
	attach := make(chan *proto.ControllerAttach, 1)

	sig := New("abc", stream, &fakeSource{}, &fakeSink{}, nil, attach)
	sig.AttachSession(session)
	sig.HandleReady()

	attach <- &proto.ControllerAttach{ID: "ps5", SessionID: "S", SessionSlot: 0}

	dc := session.dataChannel
	waitFor(t, "attach frame", func() bool { return len(dc.sentFrames()) == 1 })

	msg, err := proto.Unmarshal(dc.sentFrames()[0])
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ack := msg.Payload.(*proto.ControllerAttach)
	if ack.ID != "ps5" || ack.SessionID != "S" || ack.SessionSlot != 0 {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestReceiversAreTakenExactlyOnce(t *testing.T) {
	rumble := make(chan input.RumbleEvent)
	attach := make(chan *proto.ControllerAttach)

	sig := New("abc", newFakeStream(), &fakeSource{}, nil, rumble, attach)

	if sig.takeRumbleRx() == nil {
		t.Fatal("first rumble take returned nil")
	}
	if sig.takeRumbleRx() != nil {
		t.Fatal("second rumble take should return nil")
	}
	if sig.takeAttachRx() == nil {
		t.Fatal("first attach take returned nil")
	}
	if sig.takeAttachRx() != nil {
		t.Fatal("second attach take should return nil")
	}
}
