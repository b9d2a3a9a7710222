package input

import (
	"context"
	"fmt"
	"strings"

	"github.com/nestrilabs/nestri-server/internal/logging"
	"github.com/nestrilabs/nestri-server/internal/proto"
	"github.com/nestrilabs/nestri-server/internal/vimputti"
)

var log = logging.L("controller")

const (
	// maxSlots caps simultaneous virtual gamepads; slots are numbered
	// 0..maxSlots-1.
	maxSlots = 17

	commandQueueSize = 512
	attachQueueSize  = 64
	rumbleQueueSize  = 256
)

// Device is the slice of the daemon surface the manager drives. It is
// satisfied by *vimputti.VirtualController.
type Device interface {
	Button(code uint16, pressed bool) error
	Axis(axis vimputti.Axis, value int32) error
	Sync() error
	OnRumble(ctx context.Context, fn vimputti.RumbleFunc) error
	Close(ctx context.Context) error
}

// DeviceFactory creates virtual gamepads from templates.
type DeviceFactory interface {
	CreateDevice(ctx context.Context, cfg vimputti.DeviceConfig) (Device, error)
}

// ClientFactory adapts the vimputti client to DeviceFactory.
type ClientFactory struct {
	Client *vimputti.Client
}

func (f ClientFactory) CreateDevice(ctx context.Context, cfg vimputti.DeviceConfig) (Device, error) {
	return f.Client.CreateDevice(ctx, cfg)
}

// RumbleEvent is force feedback headed back to a peer.
type RumbleEvent struct {
	Slot       uint32
	Strong     uint16
	Weak       uint16
	DurationMs uint16
	SessionID  string
}

// templateForID resolves a peer-supplied controller id to a device template.
func templateForID(id string) (vimputti.DeviceConfig, error) {
	switch strings.ToLower(id) {
	case "ps4":
		return vimputti.TemplatePS4(), nil
	case "ps5":
		return vimputti.TemplatePS5(), nil
	case "xbox360":
		return vimputti.TemplateXbox360(), nil
	case "xboxone":
		return vimputti.TemplateXboxOne(), nil
	case "switchpro":
		return vimputti.TemplateSwitchPro(), nil
	default:
		return vimputti.DeviceConfig{}, fmt.Errorf("unsupported controller type: %s", id)
	}
}

type slotRecord struct {
	device      Device
	sessionID   string
	sessionSlot int32
}

// Manager drives the virtual gamepads. All slot state is owned by the
// command loop goroutine; the public surface is SendCommand plus the two
// outbound event channels handed out at construction.
type Manager struct {
	factory DeviceFactory

	cmds   chan proto.Payload
	attach chan *proto.ControllerAttach
	rumble chan RumbleEvent
}

// NewManager starts the command loop and returns the manager plus the
// single-consumer rumble and attach-acknowledgement receivers.
func NewManager(factory DeviceFactory) (*Manager, <-chan RumbleEvent, <-chan *proto.ControllerAttach) {
	m := &Manager{
		factory: factory,
		cmds:    make(chan proto.Payload, commandQueueSize),
		attach:  make(chan *proto.ControllerAttach, attachQueueSize),
		rumble:  make(chan RumbleEvent, rumbleQueueSize),
	}
	go m.commandLoop()
	return m, m.rumble, m.attach
}

// SendCommand enqueues a controller payload for the command loop.
func (m *Manager) SendCommand(payload proto.Payload) error {
	select {
	case m.cmds <- payload:
		return nil
	default:
		return fmt.Errorf("controller: command queue full")
	}
}

// Close stops the command loop and destroys all live devices.
func (m *Manager) Close() {
	close(m.cmds)
}

func (m *Manager) commandLoop() {
	ctx := context.Background()
	slots := make(map[uint32]*slotRecord)

	for payload := range m.cmds {
		switch p := payload.(type) {
		case *proto.ControllerAttach:
			m.handleAttach(ctx, slots, p)
		case *proto.ControllerDetach:
			m.handleDetach(ctx, slots, p)
		case *proto.ControllerStateBatch:
			m.applyStateBatch(slots, p)
		case *proto.ClientDisconnected:
			m.handleClientDisconnected(ctx, slots, p)
		case *proto.ControllerRumble:
			// Rumble is an outgoing event only.
		default:
			log.Warn("unexpected controller payload", "type", fmt.Sprintf("%T", payload))
		}
	}

	for slot, rec := range slots {
		if err := rec.device.Close(ctx); err != nil {
			log.Warn("closing device failed", "slot", slot, "error", err)
		}
	}
}

// findSessionSlot returns the global slot owned by (sessionID, sessionSlot),
// or false.
func findSessionSlot(slots map[uint32]*slotRecord, sessionID string, sessionSlot int32) (uint32, bool) {
	for slot, rec := range slots {
		if rec.sessionID == sessionID && rec.sessionSlot == sessionSlot {
			return slot, true
		}
	}
	return 0, false
}

// freeSlot returns the lowest unused slot number, or false when all are
// taken.
func freeSlot(slots map[uint32]*slotRecord) (uint32, bool) {
	for slot := uint32(0); slot < maxSlots; slot++ {
		if _, used := slots[slot]; !used {
			return slot, true
		}
	}
	return 0, false
}

func (m *Manager) handleAttach(ctx context.Context, slots map[uint32]*slotRecord, attach *proto.ControllerAttach) {
	// A matching (session_id, session_slot) pair is a reconnection: the
	// peer lost its transport, not its gamepad. Reuse the slot and the
	// existing device; only the rumble callback is re-registered since it
	// captures the session id.
	if slot, ok := findSessionSlot(slots, attach.SessionID, attach.SessionSlot); ok {
		rec := slots[slot]
		m.registerRumble(ctx, rec.device, slot, attach.SessionID)
		m.acknowledgeAttach(attach.ID, attach.SessionID, slot)
		log.Info("controller reconnected", "slot", slot, "session", attach.SessionID, "sessionSlot", attach.SessionSlot)
		return
	}

	slot, ok := freeSlot(slots)
	if !ok {
		log.Warn("no free controller slot, dropping attach", "session", attach.SessionID, "sessionSlot", attach.SessionSlot)
		return
	}

	cfg, err := templateForID(attach.ID)
	if err != nil {
		log.Error("attach failed", "id", attach.ID, "error", err)
		return
	}

	device, err := m.factory.CreateDevice(ctx, cfg)
	if err != nil {
		log.Error("creating device failed", "id", attach.ID, "slot", slot, "error", err)
		return
	}

	m.registerRumble(ctx, device, slot, attach.SessionID)
	slots[slot] = &slotRecord{
		device:      device,
		sessionID:   attach.SessionID,
		sessionSlot: attach.SessionSlot,
	}
	m.acknowledgeAttach(attach.ID, attach.SessionID, slot)
	log.Info("controller attached", "id", attach.ID, "slot", slot, "session", attach.SessionID)
}

func (m *Manager) registerRumble(ctx context.Context, device Device, slot uint32, sessionID string) {
	err := device.OnRumble(ctx, func(strong, weak, durationMs uint16) {
		select {
		case m.rumble <- RumbleEvent{
			Slot:       slot,
			Strong:     strong,
			Weak:       weak,
			DurationMs: durationMs,
			SessionID:  sessionID,
		}:
		default:
			log.Warn("rumble queue full, dropping event", "slot", slot)
		}
	})
	if err != nil {
		log.Warn("registering rumble callback failed", "slot", slot, "error", err)
	}
}

func (m *Manager) acknowledgeAttach(id, sessionID string, slot uint32) {
	ack := &proto.ControllerAttach{ID: id, SessionID: sessionID, SessionSlot: int32(slot)}
	select {
	case m.attach <- ack:
	default:
		log.Warn("attach queue full, dropping acknowledgement", "slot", slot)
	}
}

func (m *Manager) handleDetach(ctx context.Context, slots map[uint32]*slotRecord, detach *proto.ControllerDetach) {
	slot, ok := findSessionSlot(slots, detach.SessionID, detach.SessionSlot)
	if !ok {
		log.Warn("no controller to detach", "session", detach.SessionID, "sessionSlot", detach.SessionSlot)
		return
	}
	rec := slots[slot]
	delete(slots, slot)
	if err := rec.device.Close(ctx); err != nil {
		log.Warn("closing device failed", "slot", slot, "error", err)
	}
	log.Info("controller detached", "slot", slot, "session", detach.SessionID)
}

func (m *Manager) handleClientDisconnected(ctx context.Context, slots map[uint32]*slotRecord, disc *proto.ClientDisconnected) {
	for _, slot := range disc.ControllerSlots {
		rec, ok := slots[slot]
		if !ok {
			log.Warn("disconnected client listed unknown slot", "slot", slot, "session", disc.SessionID)
			continue
		}
		delete(slots, slot)
		if err := rec.device.Close(ctx); err != nil {
			log.Warn("closing device failed", "slot", slot, "error", err)
		}
		log.Info("controller removed for disconnected client", "slot", slot, "session", disc.SessionID)
	}
}

// axisField pairs a DELTA bitmask position with the batch value and the
// device axis it lands on.
type axisField struct {
	bit   int
	value *int32
	axis  vimputti.Axis
}

func batchAxisFields(batch *proto.ControllerStateBatch) []axisField {
	return []axisField{
		{proto.FieldLeftStickX, batch.LeftStickX, vimputti.AxisLeftStickX},
		{proto.FieldLeftStickY, batch.LeftStickY, vimputti.AxisLeftStickY},
		{proto.FieldRightStickX, batch.RightStickX, vimputti.AxisRightStickX},
		{proto.FieldRightStickY, batch.RightStickY, vimputti.AxisRightStickY},
		{proto.FieldLeftTrigger, batch.LeftTrigger, vimputti.AxisLeftTrigger},
		{proto.FieldRightTrigger, batch.RightTrigger, vimputti.AxisRightTrigger},
		{proto.FieldDpadX, batch.DpadX, vimputti.AxisDpadX},
		{proto.FieldDpadY, batch.DpadY, vimputti.AxisDpadY},
	}
}

func (m *Manager) applyStateBatch(slots map[uint32]*slotRecord, batch *proto.ControllerStateBatch) {
	slot, ok := findSessionSlot(slots, batch.SessionID, batch.SessionSlot)
	if !ok {
		log.Warn("state batch for unknown controller", "session", batch.SessionID, "sessionSlot", batch.SessionSlot)
		return
	}
	device := slots[slot].device

	switch batch.UpdateType {
	case proto.UpdateFullState:
		m.applyButtons(device, slot, batch.ButtonChangedMask)
		for _, f := range batchAxisFields(batch) {
			if f.value != nil {
				m.applyAxis(device, slot, f.axis, *f.value)
			}
		}
	case proto.UpdateDelta:
		if batch.ChangedFields&(1<<proto.FieldButtons) != 0 {
			m.applyButtons(device, slot, batch.ButtonChangedMask)
		}
		// Fields whose bit is clear stay untouched even when present.
		for _, f := range batchAxisFields(batch) {
			if batch.ChangedFields&(1<<f.bit) == 0 {
				continue
			}
			if f.value != nil {
				m.applyAxis(device, slot, f.axis, *f.value)
			}
		}
	default:
		log.Warn("unknown state batch update type", "updateType", batch.UpdateType)
	}
}

func (m *Manager) applyButtons(device Device, slot uint32, changes []proto.ButtonChange) {
	if len(changes) == 0 {
		return
	}
	for _, change := range changes {
		if err := device.Button(uint16(change.Button), change.Pressed); err != nil {
			log.Warn("button write failed", "slot", slot, "button", change.Button, "error", err)
		}
	}
	if err := device.Sync(); err != nil {
		log.Warn("sync failed", "slot", slot, "error", err)
	}
}

func (m *Manager) applyAxis(device Device, slot uint32, axis vimputti.Axis, value int32) {
	if err := device.Axis(axis, value); err != nil {
		log.Warn("axis write failed", "slot", slot, "axis", axis, "error", err)
	}
	if err := device.Sync(); err != nil {
		log.Warn("sync failed", "slot", slot, "error", err)
	}
}
