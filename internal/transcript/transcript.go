package transcript

import (
	"encoding/json"
	"strings"
	"time"
)

// Segment is one unit of transcribed text produced for an analysis window.
// Final=false marks the fast engine's low-latency preview, Final=true the
// accurate engine's result. A window that yields both enqueues the preview
// strictly before the final.
type Segment struct {
	Text       string
	Final      bool
	WindowID   uint64
	Start      time.Duration
	End        time.Duration
	Confidence float32
}

type segmentJSON struct {
	Text       string  `json:"text"`
	Final      bool    `json:"is_final"`
	WindowID   uint64  `json:"window_id"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Confidence float32 `json:"confidence"`
}

// MarshalJSON serializes timestamps as integer milliseconds.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		Text:       s.Text,
		Final:      s.Final,
		WindowID:   s.WindowID,
		StartMS:    s.Start.Milliseconds(),
		EndMS:      s.End.Milliseconds(),
		Confidence: s.Confidence,
	})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var payload segmentJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*s = Segment{
		Text:       payload.Text,
		Final:      payload.Final,
		WindowID:   payload.WindowID,
		Start:      time.Duration(payload.StartMS) * time.Millisecond,
		End:        time.Duration(payload.EndMS) * time.Millisecond,
		Confidence: payload.Confidence,
	}
	return nil
}

// Transcript is the ordered, append-only record of segments for one
// session. It has a single writer: the renderer appends, and snapshots are
// taken by the renderer or after it has finished. Merging or deduplicating
// previews against finals is left to consumers.
type Transcript struct {
	segments []Segment
}

// Append records one segment in arrival order.
func (t *Transcript) Append(seg Segment) {
	t.segments = append(t.segments, seg)
}

// Len reports how many segments have arrived.
func (t *Transcript) Len() int { return len(t.segments) }

// Segments returns a copy of the accumulated segments in arrival order.
func (t *Transcript) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// FinalText joins the accurate results in window order. Previews are
// transient by nature and never contribute to the joined text.
func (t *Transcript) FinalText() string {
	parts := make([]string, 0, len(t.segments))
	for _, seg := range t.segments {
		if !seg.Final {
			continue
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
