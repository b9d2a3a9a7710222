package pipeline

import (
	"github.com/go-gst/go-gst/gst"

	"github.com/nestrilabs/nestri-server/internal/input"
)

// Source wraps the compositor capture element. Input events reach the
// compositor as custom upstream events carrying a named structure.
type Source struct {
	element *gst.Element
}

// SendUpstreamEvent converts the event to a GStreamer structure and pushes
// it upstream from the capture element. The return value reports whether
// the element accepted the event.
func (s *Source) SendUpstreamEvent(ev input.UpstreamEvent) bool {
	structure := gst.NewStructure(ev.Name)
	for _, field := range ev.Fields {
		if err := structure.SetValue(field.Name, field.Value); err != nil {
			log.Warn("setting event field failed", "event", ev.Name, "field", field.Name, "error", err)
			return false
		}
	}
	return s.element.SendEvent(gst.NewCustomEvent(gst.EventTypeCustomUpstream, structure))
}
