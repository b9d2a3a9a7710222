package vimputti

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeDaemon is a minimal scripted daemon on a unix socket.
type fakeDaemon struct {
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
	ops  []request
}

func startFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "vimputti.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDaemon{listener: listener}
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()

		scanner := bufio.NewScanner(conn)
		var nextDevice uint32
		for scanner.Scan() {
			var req request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			d.mu.Lock()
			d.ops = append(d.ops, req)
			d.mu.Unlock()

			switch req.Op {
			case "create_device":
				nextDevice++
				d.reply(message{ID: req.ID, Device: nextDevice})
			case "subscribe_rumble", "destroy_device":
				d.reply(message{ID: req.ID})
			}
		}
	}()

	return d
}

func (d *fakeDaemon) addr() string {
	return d.listener.Addr().String()
}

func (d *fakeDaemon) reply(msg message) {
	data, _ := json.Marshal(msg)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn.Write(append(data, '\n'))
}

func (d *fakeDaemon) opsSnapshot() []request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]request, len(d.ops))
	copy(out, d.ops)
	return out
}

func TestCreateDeviceAndEvents(t *testing.T) {
	daemon := startFakeDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, daemon.addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	device, err := client.CreateDevice(ctx, TemplatePS5())
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	if device.Config().Product != 0x0ce6 {
		t.Fatalf("config product = %#x", device.Config().Product)
	}

	if err := device.Button(BtnSouth, true); err != nil {
		t.Fatalf("button: %v", err)
	}
	if err := device.Axis(AxisLeftStickX, 1200); err != nil {
		t.Fatalf("axis: %v", err)
	}
	if err := device.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(daemon.opsSnapshot()) >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	ops := daemon.opsSnapshot()
	if len(ops) < 4 {
		t.Fatalf("daemon saw %d ops", len(ops))
	}
	if ops[0].Op != "create_device" || ops[0].Config == nil {
		t.Fatalf("first op = %+v", ops[0])
	}
	if ops[1].Op != "button" || ops[1].Code != BtnSouth || !ops[1].Pressed {
		t.Fatalf("second op = %+v", ops[1])
	}
	if ops[2].Op != "axis" || ops[2].Axis != AxisLeftStickX || ops[2].Value != 1200 {
		t.Fatalf("third op = %+v", ops[2])
	}
	if ops[3].Op != "sync" {
		t.Fatalf("fourth op = %+v", ops[3])
	}
}

func TestRumbleEventReachesCallback(t *testing.T) {
	daemon := startFakeDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, daemon.addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	device, err := client.CreateDevice(ctx, TemplateXbox360())
	if err != nil {
		t.Fatalf("create device: %v", err)
	}

	got := make(chan [3]uint16, 1)
	err = device.OnRumble(ctx, func(strong, weak, durationMs uint16) {
		got <- [3]uint16{strong, weak, durationMs}
	})
	if err != nil {
		t.Fatalf("on rumble: %v", err)
	}

	daemon.reply(message{Event: "rumble", Device: 1, Strong: 900, Weak: 300, DurationMs: 150})

	select {
	case ev := <-got:
		if ev != [3]uint16{900, 300, 150} {
			t.Fatalf("rumble = %v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rumble callback never fired")
	}
}

func TestConnectFailsWithoutDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Connect(ctx, filepath.Join(t.TempDir(), "absent.sock")); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestTemplates(t *testing.T) {
	cases := []struct {
		cfg     DeviceConfig
		vendor  uint16
		product uint16
	}{
		{TemplatePS4(), 0x054c, 0x05c4},
		{TemplatePS5(), 0x054c, 0x0ce6},
		{TemplateXbox360(), 0x045e, 0x028e},
		{TemplateXboxOne(), 0x045e, 0x02d1},
		{TemplateSwitchPro(), 0x057e, 0x2009},
	}
	for _, tc := range cases {
		if tc.cfg.Vendor != tc.vendor || tc.cfg.Product != tc.product {
			t.Fatalf("%s: %#x:%#x", tc.cfg.Name, tc.cfg.Vendor, tc.cfg.Product)
		}
		if len(tc.cfg.Buttons) == 0 || len(tc.cfg.Axes) != 8 {
			t.Fatalf("%s: buttons=%d axes=%d", tc.cfg.Name, len(tc.cfg.Buttons), len(tc.cfg.Axes))
		}
		if !tc.cfg.Rumble {
			t.Fatalf("%s: rumble disabled", tc.cfg.Name)
		}
	}
}
