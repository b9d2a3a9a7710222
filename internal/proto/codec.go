package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes the envelope. Fields are emitted in ascending field-number
// order with zero-valued scalars omitted, so encoding is deterministic and
// minimal encodings round-trip byte-for-byte.
func (m *Message) Marshal() []byte {
	var b []byte
	if m.Base != nil {
		b = appendSubmessage(b, 1, m.Base.appendTo)
	}
	switch p := m.Payload.(type) {
	case nil:
	case *Sdp:
		b = appendSubmessage(b, 2, p.appendTo)
	case *Ice:
		b = appendSubmessage(b, 3, p.appendTo)
	case *ServerPushStream:
		b = appendSubmessage(b, 4, p.appendTo)
	case *ControllerAttach:
		b = appendSubmessage(b, 5, p.appendTo)
	case *ControllerDetach:
		b = appendSubmessage(b, 6, p.appendTo)
	case *ControllerRumble:
		b = appendSubmessage(b, 7, p.appendTo)
	case *ControllerStateBatch:
		b = appendSubmessage(b, 8, p.appendTo)
	case *ClientDisconnected:
		b = appendSubmessage(b, 9, p.appendTo)
	case *MouseMove:
		b = appendSubmessage(b, 10, p.appendTo)
	case *MouseMoveAbs:
		b = appendSubmessage(b, 11, p.appendTo)
	case *KeyDown:
		b = appendSubmessage(b, 12, p.appendTo)
	case *KeyUp:
		b = appendSubmessage(b, 13, p.appendTo)
	case *MouseWheel:
		b = appendSubmessage(b, 14, p.appendTo)
	case *MouseKeyDown:
		b = appendSubmessage(b, 15, p.appendTo)
	case *MouseKeyUp:
		b = appendSubmessage(b, 16, p.appendTo)
	}
	return b
}

// Unmarshal decodes an envelope. Unknown fields and unknown payload variants
// are skipped, never fatal.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("proto: envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("proto: envelope field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("proto: envelope field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		var err error
		switch num {
		case 1:
			m.Base, err = unmarshalMessageBase(v)
		case 2:
			var p *Sdp
			if p, err = unmarshalSdp(v); err == nil {
				m.Payload = p
			}
		case 3:
			var p *Ice
			if p, err = unmarshalIce(v); err == nil {
				m.Payload = p
			}
		case 4:
			var p *ServerPushStream
			if p, err = unmarshalServerPushStream(v); err == nil {
				m.Payload = p
			}
		case 5:
			var p *ControllerAttach
			if p, err = unmarshalControllerAttach(v); err == nil {
				m.Payload = p
			}
		case 6:
			var p *ControllerDetach
			if p, err = unmarshalControllerDetach(v); err == nil {
				m.Payload = p
			}
		case 7:
			var p *ControllerRumble
			if p, err = unmarshalControllerRumble(v); err == nil {
				m.Payload = p
			}
		case 8:
			var p *ControllerStateBatch
			if p, err = unmarshalControllerStateBatch(v); err == nil {
				m.Payload = p
			}
		case 9:
			var p *ClientDisconnected
			if p, err = unmarshalClientDisconnected(v); err == nil {
				m.Payload = p
			}
		case 10:
			var p *MouseMove
			if p, err = unmarshalMouseMove(v); err == nil {
				m.Payload = p
			}
		case 11:
			var p *MouseMoveAbs
			if p, err = unmarshalMouseMoveAbs(v); err == nil {
				m.Payload = p
			}
		case 12:
			var p *KeyDown
			if p, err = unmarshalKeyDown(v); err == nil {
				m.Payload = p
			}
		case 13:
			var p *KeyUp
			if p, err = unmarshalKeyUp(v); err == nil {
				m.Payload = p
			}
		case 14:
			var p *MouseWheel
			if p, err = unmarshalMouseWheel(v); err == nil {
				m.Payload = p
			}
		case 15:
			var p *MouseKeyDown
			if p, err = unmarshalMouseKeyDown(v); err == nil {
				m.Payload = p
			}
		case 16:
			var p *MouseKeyUp
			if p, err = unmarshalMouseKeyUp(v); err == nil {
				m.Payload = p
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

/* append helpers */

func appendSubmessage(b []byte, num protowire.Number, fn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, fn(nil))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendOptString(b []byte, num protowire.Number, s *string) []byte {
	if s == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *s)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendOptInt32(b []byte, num protowire.Number, v *int32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(*v)))
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendOptUint32(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(*v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendPackedUint32(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

/* consume helpers */

type fieldReader struct {
	data []byte
	err  error
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.data) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.data)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0, 0, false
	}
	r.data = r.data[n:]
	return num, typ, true
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.data)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return
	}
	r.data = r.data[n:]
}

func (r *fieldReader) str(num protowire.Number, typ protowire.Type) string {
	if typ != protowire.BytesType {
		r.skip(num, typ)
		return ""
	}
	v, n := protowire.ConsumeString(r.data)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return ""
	}
	r.data = r.data[n:]
	return v
}

func (r *fieldReader) bytes(num protowire.Number, typ protowire.Type) []byte {
	if typ != protowire.BytesType {
		r.skip(num, typ)
		return nil
	}
	v, n := protowire.ConsumeBytes(r.data)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.data = r.data[n:]
	return v
}

func (r *fieldReader) varint(num protowire.Number, typ protowire.Type) uint64 {
	if typ != protowire.VarintType {
		r.skip(num, typ)
		return 0
	}
	v, n := protowire.ConsumeVarint(r.data)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *fieldReader) int32(num protowire.Number, typ protowire.Type) int32 {
	return int32(int64(r.varint(num, typ)))
}

func (r *fieldReader) uint32(num protowire.Number, typ protowire.Type) uint32 {
	return uint32(r.varint(num, typ))
}

func (r *fieldReader) bool(num protowire.Number, typ protowire.Type) bool {
	return r.varint(num, typ) != 0
}

// uint32s handles a repeated uint32 field in both packed and unpacked form.
func (r *fieldReader) uint32s(num protowire.Number, typ protowire.Type, out []uint32) []uint32 {
	if typ == protowire.VarintType {
		return append(out, r.uint32(num, typ))
	}
	packed := r.bytes(num, typ)
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			r.err = protowire.ParseError(n)
			return out
		}
		packed = packed[n:]
		out = append(out, uint32(v))
	}
	return out
}

func ptr[T any](v T) *T { return &v }

/* per-message codecs */

func (m *MessageBase) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.PayloadType)
	if m.Latency != nil {
		b = appendSubmessage(b, 2, m.Latency.appendTo)
	}
	return b
}

func unmarshalMessageBase(data []byte) (*MessageBase, error) {
	m := &MessageBase{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.PayloadType = r.str(num, typ)
		case 2:
			sub := r.bytes(num, typ)
			if r.err == nil {
				var err error
				if m.Latency, err = unmarshalLatencyTracker(sub); err != nil {
					return nil, err
				}
			}
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: message base: %w", r.err)
	}
	return m, nil
}

func (t *LatencyTracker) appendTo(b []byte) []byte {
	b = appendString(b, 1, t.SequenceID)
	for i := range t.Timestamps {
		b = appendSubmessage(b, 2, t.Timestamps[i].appendTo)
	}
	return b
}

func unmarshalLatencyTracker(data []byte) (*LatencyTracker, error) {
	t := &LatencyTracker{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			t.SequenceID = r.str(num, typ)
		case 2:
			sub := r.bytes(num, typ)
			if r.err == nil {
				entry, err := unmarshalTimestampEntry(sub)
				if err != nil {
					return nil, err
				}
				t.Timestamps = append(t.Timestamps, *entry)
			}
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: latency tracker: %w", r.err)
	}
	return t, nil
}

func (e *TimestampEntry) appendTo(b []byte) []byte {
	b = appendString(b, 1, e.Stage)
	if e.Time != nil {
		b = appendSubmessage(b, 2, e.Time.appendTo)
	}
	return b
}

func unmarshalTimestampEntry(data []byte) (*TimestampEntry, error) {
	e := &TimestampEntry{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			e.Stage = r.str(num, typ)
		case 2:
			sub := r.bytes(num, typ)
			if r.err == nil {
				ts := &Timestamp{}
				tr := &fieldReader{data: sub}
				for {
					n2, t2, ok2 := tr.next()
					if !ok2 {
						break
					}
					switch n2 {
					case 1:
						ts.Seconds = int64(tr.varint(n2, t2))
					case 2:
						ts.Nanos = tr.int32(n2, t2)
					default:
						tr.skip(n2, t2)
					}
				}
				if tr.err != nil {
					return nil, fmt.Errorf("proto: timestamp: %w", tr.err)
				}
				e.Time = ts
			}
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: timestamp entry: %w", r.err)
	}
	return e, nil
}

func (t *Timestamp) appendTo(b []byte) []byte {
	b = appendInt64(b, 1, t.Seconds)
	b = appendInt32(b, 2, t.Nanos)
	return b
}

func (s *Sdp) appendTo(b []byte) []byte {
	if s.SDP != nil {
		b = appendSubmessage(b, 1, func(b []byte) []byte {
			b = appendString(b, 1, s.SDP.Type)
			b = appendString(b, 2, s.SDP.SDP)
			return b
		})
	}
	return b
}

func unmarshalSdp(data []byte) (*Sdp, error) {
	s := &Sdp{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			sub := r.bytes(num, typ)
			if r.err == nil {
				desc := &SessionDescription{}
				sr := &fieldReader{data: sub}
				for {
					n2, t2, ok2 := sr.next()
					if !ok2 {
						break
					}
					switch n2 {
					case 1:
						desc.Type = sr.str(n2, t2)
					case 2:
						desc.SDP = sr.str(n2, t2)
					default:
						sr.skip(n2, t2)
					}
				}
				if sr.err != nil {
					return nil, fmt.Errorf("proto: session description: %w", sr.err)
				}
				s.SDP = desc
			}
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: sdp: %w", r.err)
	}
	return s, nil
}

func (i *Ice) appendTo(b []byte) []byte {
	if i.Candidate != nil {
		b = appendSubmessage(b, 1, func(b []byte) []byte {
			c := i.Candidate
			b = appendString(b, 1, c.Candidate)
			b = appendOptString(b, 2, c.SDPMid)
			b = appendOptUint32(b, 3, c.SDPMLineIndex)
			b = appendOptString(b, 4, c.UsernameFragment)
			return b
		})
	}
	return b
}

func unmarshalIce(data []byte) (*Ice, error) {
	i := &Ice{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			sub := r.bytes(num, typ)
			if r.err == nil {
				c := &ICECandidateInit{}
				cr := &fieldReader{data: sub}
				for {
					n2, t2, ok2 := cr.next()
					if !ok2 {
						break
					}
					switch n2 {
					case 1:
						c.Candidate = cr.str(n2, t2)
					case 2:
						c.SDPMid = ptr(cr.str(n2, t2))
					case 3:
						c.SDPMLineIndex = ptr(cr.uint32(n2, t2))
					case 4:
						c.UsernameFragment = ptr(cr.str(n2, t2))
					default:
						cr.skip(n2, t2)
					}
				}
				if cr.err != nil {
					return nil, fmt.Errorf("proto: ice candidate: %w", cr.err)
				}
				i.Candidate = c
			}
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: ice: %w", r.err)
	}
	return i, nil
}

func (s *ServerPushStream) appendTo(b []byte) []byte {
	return appendString(b, 1, s.RoomName)
}

func unmarshalServerPushStream(data []byte) (*ServerPushStream, error) {
	s := &ServerPushStream{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		if num == 1 {
			s.RoomName = r.str(num, typ)
		} else {
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: server push stream: %w", r.err)
	}
	return s, nil
}

func (a *ControllerAttach) appendTo(b []byte) []byte {
	b = appendString(b, 1, a.ID)
	b = appendString(b, 2, a.SessionID)
	b = appendInt32(b, 3, a.SessionSlot)
	return b
}

func unmarshalControllerAttach(data []byte) (*ControllerAttach, error) {
	a := &ControllerAttach{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			a.ID = r.str(num, typ)
		case 2:
			a.SessionID = r.str(num, typ)
		case 3:
			a.SessionSlot = r.int32(num, typ)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: controller attach: %w", r.err)
	}
	return a, nil
}

func (d *ControllerDetach) appendTo(b []byte) []byte {
	b = appendString(b, 1, d.SessionID)
	b = appendInt32(b, 2, d.SessionSlot)
	return b
}

func unmarshalControllerDetach(data []byte) (*ControllerDetach, error) {
	d := &ControllerDetach{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			d.SessionID = r.str(num, typ)
		case 2:
			d.SessionSlot = r.int32(num, typ)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: controller detach: %w", r.err)
	}
	return d, nil
}

func (c *ControllerRumble) appendTo(b []byte) []byte {
	b = appendInt32(b, 1, c.SessionSlot)
	b = appendString(b, 2, c.SessionID)
	b = appendInt32(b, 3, c.LowFrequency)
	b = appendInt32(b, 4, c.HighFrequency)
	b = appendInt32(b, 5, c.Duration)
	return b
}

func unmarshalControllerRumble(data []byte) (*ControllerRumble, error) {
	c := &ControllerRumble{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			c.SessionSlot = r.int32(num, typ)
		case 2:
			c.SessionID = r.str(num, typ)
		case 3:
			c.LowFrequency = r.int32(num, typ)
		case 4:
			c.HighFrequency = r.int32(num, typ)
		case 5:
			c.Duration = r.int32(num, typ)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: controller rumble: %w", r.err)
	}
	return c, nil
}

func (s *ControllerStateBatch) appendTo(b []byte) []byte {
	b = appendString(b, 1, s.SessionID)
	b = appendInt32(b, 2, s.SessionSlot)
	b = appendInt32(b, 3, int32(s.UpdateType))
	b = appendUint32(b, 4, s.ChangedFields)
	for i := range s.ButtonChangedMask {
		bc := s.ButtonChangedMask[i]
		b = appendSubmessage(b, 5, func(b []byte) []byte {
			b = appendUint32(b, 1, bc.Button)
			b = appendBool(b, 2, bc.Pressed)
			return b
		})
	}
	b = appendOptInt32(b, 6, s.LeftStickX)
	b = appendOptInt32(b, 7, s.LeftStickY)
	b = appendOptInt32(b, 8, s.RightStickX)
	b = appendOptInt32(b, 9, s.RightStickY)
	b = appendOptInt32(b, 10, s.LeftTrigger)
	b = appendOptInt32(b, 11, s.RightTrigger)
	b = appendOptInt32(b, 12, s.DpadX)
	b = appendOptInt32(b, 13, s.DpadY)
	return b
}

func unmarshalControllerStateBatch(data []byte) (*ControllerStateBatch, error) {
	s := &ControllerStateBatch{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			s.SessionID = r.str(num, typ)
		case 2:
			s.SessionSlot = r.int32(num, typ)
		case 3:
			s.UpdateType = UpdateType(r.int32(num, typ))
		case 4:
			s.ChangedFields = r.uint32(num, typ)
		case 5:
			sub := r.bytes(num, typ)
			if r.err == nil {
				bc := ButtonChange{}
				br := &fieldReader{data: sub}
				for {
					n2, t2, ok2 := br.next()
					if !ok2 {
						break
					}
					switch n2 {
					case 1:
						bc.Button = br.uint32(n2, t2)
					case 2:
						bc.Pressed = br.bool(n2, t2)
					default:
						br.skip(n2, t2)
					}
				}
				if br.err != nil {
					return nil, fmt.Errorf("proto: button change: %w", br.err)
				}
				s.ButtonChangedMask = append(s.ButtonChangedMask, bc)
			}
		case 6:
			s.LeftStickX = ptr(r.int32(num, typ))
		case 7:
			s.LeftStickY = ptr(r.int32(num, typ))
		case 8:
			s.RightStickX = ptr(r.int32(num, typ))
		case 9:
			s.RightStickY = ptr(r.int32(num, typ))
		case 10:
			s.LeftTrigger = ptr(r.int32(num, typ))
		case 11:
			s.RightTrigger = ptr(r.int32(num, typ))
		case 12:
			s.DpadX = ptr(r.int32(num, typ))
		case 13:
			s.DpadY = ptr(r.int32(num, typ))
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: controller state batch: %w", r.err)
	}
	return s, nil
}

func (c *ClientDisconnected) appendTo(b []byte) []byte {
	b = appendString(b, 1, c.SessionID)
	b = appendPackedUint32(b, 2, c.ControllerSlots)
	return b
}

func unmarshalClientDisconnected(data []byte) (*ClientDisconnected, error) {
	c := &ClientDisconnected{}
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			c.SessionID = r.str(num, typ)
		case 2:
			c.ControllerSlots = r.uint32s(num, typ, c.ControllerSlots)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("proto: client disconnected: %w", r.err)
	}
	return c, nil
}

func appendXY(b []byte, x, y int32) []byte {
	b = appendInt32(b, 1, x)
	b = appendInt32(b, 2, y)
	return b
}

func unmarshalXY(data []byte, what string) (x, y int32, err error) {
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			x = r.int32(num, typ)
		case 2:
			y = r.int32(num, typ)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return 0, 0, fmt.Errorf("proto: %s: %w", what, r.err)
	}
	return x, y, nil
}

func unmarshalKey(data []byte, what string) (int32, error) {
	var key int32
	r := &fieldReader{data: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		if num == 1 {
			key = r.int32(num, typ)
		} else {
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return 0, fmt.Errorf("proto: %s: %w", what, r.err)
	}
	return key, nil
}

func (m *MouseMove) appendTo(b []byte) []byte { return appendXY(b, m.X, m.Y) }

func unmarshalMouseMove(data []byte) (*MouseMove, error) {
	x, y, err := unmarshalXY(data, "mouse move")
	if err != nil {
		return nil, err
	}
	return &MouseMove{X: x, Y: y}, nil
}

func (m *MouseMoveAbs) appendTo(b []byte) []byte { return appendXY(b, m.X, m.Y) }

func unmarshalMouseMoveAbs(data []byte) (*MouseMoveAbs, error) {
	x, y, err := unmarshalXY(data, "mouse move abs")
	if err != nil {
		return nil, err
	}
	return &MouseMoveAbs{X: x, Y: y}, nil
}

func (k *KeyDown) appendTo(b []byte) []byte { return appendInt32(b, 1, k.Key) }

func unmarshalKeyDown(data []byte) (*KeyDown, error) {
	key, err := unmarshalKey(data, "key down")
	if err != nil {
		return nil, err
	}
	return &KeyDown{Key: key}, nil
}

func (k *KeyUp) appendTo(b []byte) []byte { return appendInt32(b, 1, k.Key) }

func unmarshalKeyUp(data []byte) (*KeyUp, error) {
	key, err := unmarshalKey(data, "key up")
	if err != nil {
		return nil, err
	}
	return &KeyUp{Key: key}, nil
}

func (m *MouseWheel) appendTo(b []byte) []byte { return appendXY(b, m.X, m.Y) }

func unmarshalMouseWheel(data []byte) (*MouseWheel, error) {
	x, y, err := unmarshalXY(data, "mouse wheel")
	if err != nil {
		return nil, err
	}
	return &MouseWheel{X: x, Y: y}, nil
}

func (k *MouseKeyDown) appendTo(b []byte) []byte { return appendInt32(b, 1, k.Key) }

func unmarshalMouseKeyDown(data []byte) (*MouseKeyDown, error) {
	key, err := unmarshalKey(data, "mouse key down")
	if err != nil {
		return nil, err
	}
	return &MouseKeyDown{Key: key}, nil
}

func (k *MouseKeyUp) appendTo(b []byte) []byte { return appendInt32(b, 1, k.Key) }

func unmarshalMouseKeyUp(data []byte) (*MouseKeyUp, error) {
	key, err := unmarshalKey(data, "mouse key up")
	if err != nil {
		return nil, err
	}
	return &MouseKeyUp{Key: key}, nil
}
