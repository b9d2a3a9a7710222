package input

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nestrilabs/nestri-server/internal/proto"
	"github.com/nestrilabs/nestri-server/internal/vimputti"
)

type fakeDevice struct {
	mu     sync.Mutex
	ops    []string
	rumble vimputti.RumbleFunc
	closed bool
}

func (d *fakeDevice) record(op string) {
	d.mu.Lock()
	d.ops = append(d.ops, op)
	d.mu.Unlock()
}

func (d *fakeDevice) Button(code uint16, pressed bool) error {
	d.record(fmt.Sprintf("button(%#x,%t)", code, pressed))
	return nil
}

func (d *fakeDevice) Axis(axis vimputti.Axis, value int32) error {
	d.record(fmt.Sprintf("axis(%#x,%d)", uint16(axis), value))
	return nil
}

func (d *fakeDevice) Sync() error {
	d.record("sync")
	return nil
}

func (d *fakeDevice) OnRumble(ctx context.Context, fn vimputti.RumbleFunc) error {
	d.mu.Lock()
	d.rumble = fn
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) opsSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.ops))
	copy(out, d.ops)
	return out
}

type fakeFactory struct {
	mu      sync.Mutex
	devices []*fakeDevice
}

func (f *fakeFactory) CreateDevice(ctx context.Context, cfg vimputti.DeviceConfig) (Device, error) {
	d := &fakeDevice{}
	f.mu.Lock()
	f.devices = append(f.devices, d)
	f.mu.Unlock()
	return d, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

func (f *fakeFactory) device(i int) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[i]
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

func mustAck(t *testing.T, acks <-chan *proto.ControllerAttach) *proto.ControllerAttach {
	t.Helper()
	select {
	case ack := <-acks:
		return ack
	case <-time.After(2 * time.Second):
		t.Fatal("no attach acknowledgement")
		return nil
	}
}

func attach(t *testing.T, m *Manager, id, session string, sessionSlot int32) {
	t.Helper()
	err := m.SendCommand(&proto.ControllerAttach{ID: id, SessionID: session, SessionSlot: sessionSlot})
	if err != nil {
		t.Fatalf("send attach: %v", err)
	}
}

func TestAttachAllocatesAndAcknowledges(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	attach(t, m, "ps5", "S", 0)

	ack := mustAck(t, acks)
	if ack.SessionSlot != 0 || ack.SessionID != "S" || ack.ID != "ps5" {
		t.Fatalf("ack = %+v", ack)
	}
	if factory.created() != 1 {
		t.Fatalf("devices created = %d", factory.created())
	}
}

func TestReconnectionReusesSlotAndDevice(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	attach(t, m, "ps5", "S", 0)
	first := mustAck(t, acks)

	// Same (session, session_slot) without a detach: same global slot, no
	// second device.
	attach(t, m, "ps5", "S", 0)
	second := mustAck(t, acks)

	if second.SessionSlot != first.SessionSlot {
		t.Fatalf("reconnection moved slot: %d -> %d", first.SessionSlot, second.SessionSlot)
	}
	if factory.created() != 1 {
		t.Fatalf("devices created = %d, want 1", factory.created())
	}
}

func TestSlotExhaustion(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	for i := 0; i < 17; i++ {
		attach(t, m, "xbox360", fmt.Sprintf("S%d", i), 0)
		mustAck(t, acks)
	}
	if factory.created() != 17 {
		t.Fatalf("devices created = %d", factory.created())
	}

	// The 18th attach is dropped: no ack, no new device.
	attach(t, m, "xbox360", "S17", 0)
	select {
	case ack := <-acks:
		t.Fatalf("unexpected ack for 18th attach: %+v", ack)
	case <-time.After(200 * time.Millisecond):
	}
	if factory.created() != 17 {
		t.Fatalf("devices created = %d after exhausted attach", factory.created())
	}
}

func TestUnsupportedTemplateDropsAttach(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	attach(t, m, "powerglove", "S", 0)

	select {
	case ack := <-acks:
		t.Fatalf("unexpected ack: %+v", ack)
	case <-time.After(200 * time.Millisecond):
	}
	if factory.created() != 0 {
		t.Fatalf("devices created = %d", factory.created())
	}
}

func TestTemplateIDsAreCaseInsensitive(t *testing.T) {
	for _, id := range []string{"PS4", "Ps5", "XBOX360", "XboxOne", "SwitchPro"} {
		if _, err := templateForID(id); err != nil {
			t.Fatalf("templateForID(%q): %v", id, err)
		}
	}
	if _, err := templateForID("n64"); err == nil {
		t.Fatal("expected error for unsupported template")
	}
}

func TestDeltaBatchAppliesOnlyMaskedFields(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	attach(t, m, "ps5", "S", 0)
	mustAck(t, acks)

	lsx := int32(5000)
	err := m.SendCommand(&proto.ControllerStateBatch{
		SessionID:         "S",
		SessionSlot:       0,
		UpdateType:        proto.UpdateDelta,
		ChangedFields:     1 << proto.FieldLeftStickX,
		ButtonChangedMask: []proto.ButtonChange{{Button: 0x130, Pressed: true}},
		LeftStickX:        &lsx,
	})
	if err != nil {
		t.Fatalf("send batch: %v", err)
	}

	device := factory.device(0)
	waitFor(t, "axis write", func() bool { return len(device.opsSnapshot()) >= 2 })

	ops := device.opsSnapshot()
	want := []string{"axis(0x0,5000)", "sync"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops[%d] = %q, want %q", i, ops[i], want[i])
		}
	}
}

func TestFullStateAppliesButtonsAndPresentAxes(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	attach(t, m, "ps5", "S", 0)
	mustAck(t, acks)

	lt := int32(255)
	dpx := int32(-1)
	err := m.SendCommand(&proto.ControllerStateBatch{
		SessionID:   "S",
		SessionSlot: 0,
		UpdateType:  proto.UpdateFullState,
		ButtonChangedMask: []proto.ButtonChange{
			{Button: 0x130, Pressed: true},
			{Button: 0x131, Pressed: false},
		},
		LeftTrigger: &lt,
		DpadX:       &dpx,
	})
	if err != nil {
		t.Fatalf("send batch: %v", err)
	}

	device := factory.device(0)
	waitFor(t, "batch applied", func() bool { return len(device.opsSnapshot()) >= 7 })

	want := []string{
		"button(0x130,true)",
		"button(0x131,false)",
		"sync",
		"axis(0x2,255)", // left trigger precedes dpad in field order
		"sync",
		"axis(0x10,-1)",
		"sync",
	}
	ops := device.opsSnapshot()
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops[%d] = %q, want %q", i, ops[i], want[i])
		}
	}
}

func TestClientDisconnectedRemovesListedSlots(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	// Occupy slots 0..7, then free all but 0, 3 and 7.
	for i := 0; i < 8; i++ {
		attach(t, m, "ps4", "S", int32(i))
		mustAck(t, acks)
	}
	for _, sessionSlot := range []int32{1, 2, 4, 5, 6} {
		if err := m.SendCommand(&proto.ControllerDetach{SessionID: "S", SessionSlot: sessionSlot}); err != nil {
			t.Fatalf("send detach: %v", err)
		}
	}

	err := m.SendCommand(&proto.ClientDisconnected{
		SessionID:       "S",
		ControllerSlots: []uint32{0, 7, 9},
	})
	if err != nil {
		t.Fatalf("send disconnect: %v", err)
	}

	closedCount := func() int {
		n := 0
		factory.mu.Lock()
		devices := append([]*fakeDevice(nil), factory.devices...)
		factory.mu.Unlock()
		for _, d := range devices {
			d.mu.Lock()
			if d.closed {
				n++
			}
			d.mu.Unlock()
		}
		return n
	}
	// 5 detached + slots 0 and 7 from the disconnect; slot 3 survives.
	waitFor(t, "devices closed", func() bool { return closedCount() == 7 })

	slot3 := factory.device(3)
	slot3.mu.Lock()
	slot3Closed := slot3.closed
	slot3.mu.Unlock()
	if slot3Closed {
		t.Fatal("slot 3 should survive the disconnect")
	}
}

func TestDetachMissingSlotIsHarmless(t *testing.T) {
	factory := &fakeFactory{}
	m, _, acks := NewManager(factory)
	defer m.Close()

	if err := m.SendCommand(&proto.ControllerDetach{SessionID: "S", SessionSlot: 4}); err != nil {
		t.Fatalf("send detach: %v", err)
	}

	// The manager must still be operational.
	attach(t, m, "ps4", "S", 0)
	mustAck(t, acks)
}

func TestRumbleEventCarriesSessionAndSlot(t *testing.T) {
	factory := &fakeFactory{}
	m, rumble, acks := NewManager(factory)
	defer m.Close()

	attach(t, m, "ps5", "S", 0)
	mustAck(t, acks)

	device := factory.device(0)
	waitFor(t, "rumble callback registered", func() bool {
		device.mu.Lock()
		defer device.mu.Unlock()
		return device.rumble != nil
	})

	device.mu.Lock()
	fn := device.rumble
	device.mu.Unlock()
	fn(1000, 500, 250)

	select {
	case ev := <-rumble:
		if ev.Slot != 0 || ev.Strong != 1000 || ev.Weak != 500 || ev.DurationMs != 250 || ev.SessionID != "S" {
			t.Fatalf("rumble event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no rumble event")
	}
}

func TestReconnectionRebindsRumbleSession(t *testing.T) {
	factory := &fakeFactory{}
	m, rumble, acks := NewManager(factory)
	defer m.Close()

	attach(t, m, "ps5", "S", 0)
	mustAck(t, acks)

	// Reconnect under the same pair; the new callback captures the session
	// again and keeps pointing at slot 0.
	attach(t, m, "ps5", "S", 0)
	mustAck(t, acks)

	device := factory.device(0)
	device.mu.Lock()
	fn := device.rumble
	device.mu.Unlock()
	fn(10, 20, 30)

	select {
	case ev := <-rumble:
		if ev.Slot != 0 || ev.SessionID != "S" {
			t.Fatalf("rumble event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no rumble event after reconnection")
	}
}
