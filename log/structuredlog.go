package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// Event is one line of an exploration trace.
type Event struct {
	Time    time.Time       `json:"time"`
	State   uint64          `json:"state"`
	Parent  uint64          `json:"parent,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Detail  *string         `json:"detail,omitempty"`
	Elapsed uint32          `json:"elapsed,omitempty"`
}

var fieldOrder = []string{"time", "state", "parent", "kind", "payload", "detail", "elapsed"}

// Custom JSON marshaling to preserve field order and omit zero/empty values.
func (e Event) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeField := func(key string, val []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, `"%s":`, key)
		buf.Write(val)
	}
	for _, f := range fieldOrder {
		switch f {
		case "time":
			b, _ := json.Marshal(e.Time)
			writeField(f, b)
		case "state":
			writeField(f, strconv.AppendUint(nil, e.State, 10))
		case "parent":
			if e.Parent != 0 {
				writeField(f, strconv.AppendUint(nil, e.Parent, 10))
			}
		case "kind":
			b, _ := json.Marshal(e.Kind)
			writeField(f, b)
		case "payload":
			if len(e.Payload) == 0 {
				writeField(f, []byte("null"))
			} else {
				writeField(f, e.Payload)
			}
		case "detail":
			if e.Detail != nil {
				b, _ := json.Marshal(*e.Detail)
				writeField(f, b)
			}
		case "elapsed":
			if e.Elapsed != 0 {
				b, _ := json.Marshal(e.Elapsed)
				writeField(f, b)
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EventWriter appends events as JSON lines. It is safe for concurrent use.
type EventWriter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: w, now: func() time.Time { return time.Now().UTC() }}
}

// Emit writes one event. Recognized kv keys are "parent" (uint64),
// "detail", "elapsed" (microseconds) and "time"; others are ignored.
func (t *EventWriter) Emit(kind string, state uint64, payload interface{}, kv ...interface{}) error {
	if t == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		Error(ExploreMonitoring, "trace: failed to marshal payload", "kind", kind, "err", err)
		return err
	}
	ev := Event{Time: t.now(), State: state, Kind: kind, Payload: raw}

	kvMap := toMap(kv...)
	if v, ok := kvMap["parent"].(uint64); ok {
		ev.Parent = v
	}
	if v, ok := kvMap["detail"]; ok && v != nil {
		d := fmt.Sprint(v)
		ev.Detail = &d
	}
	if v, ok := kvMap["elapsed"]; ok {
		ev.Elapsed = parseUint32(v)
	}
	if v, ok := kvMap["time"]; ok {
		if ts, ok := v.(time.Time); ok {
			ev.Time = ts
		}
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err = t.w.Write(line)
	return err
}

func toMap(kv ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

func parseUint32(v interface{}) uint32 {
	switch t := v.(type) {
	case int:
		return uint32(t)
	case int64:
		return uint32(t)
	case float64:
		return uint32(t)
	case uint32:
		return t
	case uint64:
		return uint32(t)
	case time.Duration:
		return uint32(t.Microseconds())
	case string:
		if n, err := strconv.ParseUint(t, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return 0
}
