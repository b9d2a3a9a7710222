package input

import (
	"reflect"
	"testing"

	"github.com/nestrilabs/nestri-server/internal/proto"
)

func TestMapPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload proto.Payload
		want    *UpstreamEvent
	}{
		{
			name:    "mouse move relative",
			payload: &proto.MouseMove{X: -3, Y: 7},
			want: &UpstreamEvent{Name: "MouseMoveRelative", Fields: []Field{
				{Name: "pointer_x", Value: float64(-3)},
				{Name: "pointer_y", Value: float64(7)},
			}},
		},
		{
			name:    "mouse move absolute",
			payload: &proto.MouseMoveAbs{X: 640, Y: 360},
			want: &UpstreamEvent{Name: "MouseMoveAbsolute", Fields: []Field{
				{Name: "pointer_x", Value: float64(640)},
				{Name: "pointer_y", Value: float64(360)},
			}},
		},
		{
			name:    "key down",
			payload: &proto.KeyDown{Key: 30},
			want: &UpstreamEvent{Name: "KeyboardKey", Fields: []Field{
				{Name: "key", Value: uint32(30)},
				{Name: "pressed", Value: true},
			}},
		},
		{
			name:    "key up",
			payload: &proto.KeyUp{Key: 30},
			want: &UpstreamEvent{Name: "KeyboardKey", Fields: []Field{
				{Name: "key", Value: uint32(30)},
				{Name: "pressed", Value: false},
			}},
		},
		{
			name:    "mouse wheel",
			payload: &proto.MouseWheel{X: 0, Y: -1},
			want: &UpstreamEvent{Name: "MouseAxis", Fields: []Field{
				{Name: "x", Value: float64(0)},
				{Name: "y", Value: float64(-1)},
			}},
		},
		{
			name:    "mouse button down",
			payload: &proto.MouseKeyDown{Key: 272},
			want: &UpstreamEvent{Name: "MouseButton", Fields: []Field{
				{Name: "button", Value: uint32(272)},
				{Name: "pressed", Value: true},
			}},
		},
		{
			name:    "mouse button up",
			payload: &proto.MouseKeyUp{Key: 272},
			want: &UpstreamEvent{Name: "MouseButton", Fields: []Field{
				{Name: "button", Value: uint32(272)},
				{Name: "pressed", Value: false},
			}},
		},
	}
	for _, tc := range cases {
		got := MapPayload(tc.payload)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestMapPayloadSuppressesNonInputPayloads(t *testing.T) {
	payloads := []proto.Payload{
		&proto.Sdp{},
		&proto.Ice{},
		&proto.ServerPushStream{RoomName: "r"},
		&proto.ControllerAttach{ID: "ps5"},
		&proto.ControllerStateBatch{},
	}
	for _, p := range payloads {
		if ev := MapPayload(p); ev != nil {
			t.Fatalf("payload %T should be suppressed, got %+v", p, ev)
		}
	}
}
