// Package input translates data-channel payloads into compositor events and
// drives the virtual gamepads behind the controller manager.
package input

import (
	"github.com/nestrilabs/nestri-server/internal/proto"
)

// Field is one typed field of an upstream event structure.
type Field struct {
	Name  string
	Value any
}

// UpstreamEvent is a named structure delivered to the compositor source as
// a custom upstream event. Fields keep their declaration order so the
// structure builds deterministically.
type UpstreamEvent struct {
	Name   string
	Fields []Field
}

// MapPayload translates a mouse or keyboard payload into the compositor
// event it triggers. Payloads with no compositor meaning return nil.
func MapPayload(payload proto.Payload) *UpstreamEvent {
	switch p := payload.(type) {
	case *proto.MouseMove:
		return &UpstreamEvent{
			Name: "MouseMoveRelative",
			Fields: []Field{
				{Name: "pointer_x", Value: float64(p.X)},
				{Name: "pointer_y", Value: float64(p.Y)},
			},
		}
	case *proto.MouseMoveAbs:
		return &UpstreamEvent{
			Name: "MouseMoveAbsolute",
			Fields: []Field{
				{Name: "pointer_x", Value: float64(p.X)},
				{Name: "pointer_y", Value: float64(p.Y)},
			},
		}
	case *proto.KeyDown:
		return &UpstreamEvent{
			Name: "KeyboardKey",
			Fields: []Field{
				{Name: "key", Value: uint32(p.Key)},
				{Name: "pressed", Value: true},
			},
		}
	case *proto.KeyUp:
		return &UpstreamEvent{
			Name: "KeyboardKey",
			Fields: []Field{
				{Name: "key", Value: uint32(p.Key)},
				{Name: "pressed", Value: false},
			},
		}
	case *proto.MouseWheel:
		return &UpstreamEvent{
			Name: "MouseAxis",
			Fields: []Field{
				{Name: "x", Value: float64(p.X)},
				{Name: "y", Value: float64(p.Y)},
			},
		}
	case *proto.MouseKeyDown:
		return &UpstreamEvent{
			Name: "MouseButton",
			Fields: []Field{
				{Name: "button", Value: uint32(p.Key)},
				{Name: "pressed", Value: true},
			},
		}
	case *proto.MouseKeyUp:
		return &UpstreamEvent{
			Name: "MouseButton",
			Fields: []Field{
				{Name: "button", Value: uint32(p.Key)},
				{Name: "pressed", Value: false},
			},
		}
	default:
		return nil
	}
}
