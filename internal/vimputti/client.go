// Package vimputti is the client for the virtual-input daemon. The daemon
// owns the actual uinput devices; this client speaks newline-delimited JSON
// over its unix socket: requests carry an incrementing id matched against
// responses, and unsolicited rumble events are routed to per-device
// callbacks.
package vimputti

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nestrilabs/nestri-server/internal/logging"
)

var log = logging.L("vimputti")

// DefaultSocketPath is where the daemon listens unless configured otherwise.
const DefaultSocketPath = "/tmp/vimputti-0"

type request struct {
	ID      uint64        `json:"id"`
	Op      string        `json:"op"`
	Config  *DeviceConfig `json:"config,omitempty"`
	Device  uint32        `json:"device"`
	Code    uint16        `json:"code"`
	Pressed bool          `json:"pressed"`
	Axis    Axis          `json:"axis"`
	Value   int32         `json:"value"`
}

type message struct {
	ID     uint64 `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
	Device uint32 `json:"device,omitempty"`

	// Unsolicited daemon events carry an event kind instead of an id.
	Event      string `json:"event,omitempty"`
	Strong     uint16 `json:"strong,omitempty"`
	Weak       uint16 `json:"weak,omitempty"`
	DurationMs uint16 `json:"duration_ms,omitempty"`
}

// RumbleFunc receives force-feedback requests the daemon forwards from the
// game: motor magnitudes plus the effect duration in milliseconds.
type RumbleFunc func(strong, weak, durationMs uint16)

// Client is a connection to the virtual-input daemon.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	nextID  atomic.Uint64
	pending sync.Map // uint64 -> chan message

	rumbleMu sync.RWMutex
	rumble   map[uint32]RumbleFunc

	closed atomic.Bool
}

// Connect dials the daemon's unix socket and starts the read loop.
func Connect(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("vimputti: dial %s: %w", socketPath, err)
	}

	c := &Client{
		conn:   conn,
		rumble: make(map[uint32]RumbleFunc),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts the connection. Pending calls fail.
func (c *Client) Close() error {
	c.closed.Store(true)
	return c.conn.Close()
}

// CreateDevice asks the daemon for a new virtual gamepad built from the
// template and returns its handle.
func (c *Client) CreateDevice(ctx context.Context, cfg DeviceConfig) (*VirtualController, error) {
	resp, err := c.call(ctx, request{Op: "create_device", Config: &cfg})
	if err != nil {
		return nil, err
	}
	return &VirtualController{client: c, id: resp.Device, config: cfg}, nil
}

func (c *Client) call(ctx context.Context, req request) (*message, error) {
	req.ID = c.nextID.Add(1)

	ch := make(chan message, 1)
	c.pending.Store(req.ID, ch)
	defer c.pending.Delete(req.ID)

	if err := c.send(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("vimputti: %s: %s", req.Op, resp.Error)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("vimputti: marshal request: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("vimputti: write request: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Warn("malformed daemon message", "error", err)
			continue
		}

		if msg.Event == "rumble" {
			c.rumbleMu.RLock()
			fn := c.rumble[msg.Device]
			c.rumbleMu.RUnlock()
			if fn != nil {
				fn(msg.Strong, msg.Weak, msg.DurationMs)
			}
			continue
		}

		if ch, ok := c.pending.Load(msg.ID); ok {
			ch.(chan message) <- msg
		}
	}

	if err := scanner.Err(); err != nil && !c.closed.Load() {
		log.Error("daemon connection lost", "error", err)
	}

	// No response can arrive any more: fail every call still waiting.
	c.pending.Range(func(_, ch any) bool {
		select {
		case ch.(chan message) <- message{Error: "connection closed"}:
		default:
		}
		return true
	})
}

func (c *Client) setRumbleFunc(device uint32, fn RumbleFunc) {
	c.rumbleMu.Lock()
	if fn == nil {
		delete(c.rumble, device)
	} else {
		c.rumble[device] = fn
	}
	c.rumbleMu.Unlock()
}

// VirtualController is a handle to one daemon-side virtual gamepad.
type VirtualController struct {
	client *Client
	id     uint32
	config DeviceConfig
}

// Config returns the template the device was created from.
func (v *VirtualController) Config() DeviceConfig {
	return v.config
}

// Button sets a button state. The change is not visible to readers of the
// virtual device until Sync.
func (v *VirtualController) Button(code uint16, pressed bool) error {
	return v.client.send(request{Op: "button", Device: v.id, Code: code, Pressed: pressed})
}

// Axis sets an absolute axis value. The change is not visible until Sync.
func (v *VirtualController) Axis(axis Axis, value int32) error {
	return v.client.send(request{Op: "axis", Device: v.id, Axis: axis, Value: value})
}

// Sync flushes accumulated button and axis changes to the virtual device.
func (v *VirtualController) Sync() error {
	return v.client.send(request{Op: "sync", Device: v.id})
}

// OnRumble subscribes to the device's force-feedback events. Registering
// again replaces the previous callback.
func (v *VirtualController) OnRumble(ctx context.Context, fn RumbleFunc) error {
	if _, err := v.client.call(ctx, request{Op: "subscribe_rumble", Device: v.id}); err != nil {
		return err
	}
	v.client.setRumbleFunc(v.id, fn)
	return nil
}

// Close destroys the daemon-side device.
func (v *VirtualController) Close(ctx context.Context) error {
	v.client.setRumbleFunc(v.id, nil)
	_, err := v.client.call(ctx, request{Op: "destroy_device", Device: v.id})
	return err
}
