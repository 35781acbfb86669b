// File: internal/hooktrace/event.go

// Package hooktrace reads the JSON-lines event stream written by the runtime
// hook layer and turns it into in-memory events for the correlation core.
//
// Each line is one object:
//
//	{"session":"frame-1","type":"FUNCTION_CALL","name":"atob",
//	 "args":[{"ref":"v1","value":"c2NyaXB0"}],
//	 "result":{"ref":"v2","value":"script"},
//	 "context":{"line":12},"timestamp":1700000000000}
//
// A slot carrying a ref is interned per session: every later slot with the
// same ref resolves to the same *jsvalue.Value, so taint attached to a produced
// value is found again when that value is consumed.
package hooktrace

import (
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
)

// Event types understood by the session layer. Unknown types are treated as
// function calls. SESSION_END closes a session: its refs are released and a
// later event with the same key starts a fresh session.
const (
	TypeFunctionCall       = "FUNCTION_CALL"
	TypeVariableAssignment = "VARIABLE_ASSIGNMENT"
	TypeSessionEnd         = "SESSION_END"
)

// DefaultSession is used for lines that omit the session key.
const DefaultSession = "default"

// Slot is one serialized value. Ref is optional.
type Slot struct {
	Ref   string         `json:"ref,omitempty"`
	Value *jsvalue.Value `json:"value"`
}

type wireEvent struct {
	Session   string       `json:"session"`
	Type      string       `json:"type"`
	Name      string       `json:"name"`
	Args      []Slot       `json:"args"`
	Result    *Slot        `json:"result"`
	Context   *jsvalue.Map `json:"context"`
	Timestamp int64        `json:"timestamp"`
	Variable  string       `json:"variable"`
	Source    string       `json:"source"`
	Line      int          `json:"line"`
}

// Event is one decoded hook observation with its values resolved.
type Event struct {
	Session   string
	Type      string
	Name      string
	Args      []*jsvalue.Value
	Result    *jsvalue.Value
	Context   *jsvalue.Map
	Timestamp time.Time
	// Variable and Source are set for VARIABLE_ASSIGNMENT events.
	Variable string
	Source   string
	Line     int
}

// IsAssignment reports whether the event records a variable assignment.
func (e Event) IsAssignment() bool { return e.Type == TypeVariableAssignment }

// IsSessionEnd reports whether the event closes its session.
func (e Event) IsSessionEnd() bool { return e.Type == TypeSessionEnd }

// Decoder turns trace lines into events, interning ref'd values per session.
// It is not safe for concurrent use.
type Decoder struct {
	refs map[string]map[string]*jsvalue.Value
}

// NewDecoder returns a decoder with an empty intern table.
func NewDecoder() *Decoder {
	return &Decoder{refs: make(map[string]map[string]*jsvalue.Value)}
}

// Decode parses one line.
func (d *Decoder) Decode(line []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("decode hook event: %w", err)
	}
	if w.Name == "" && w.Type != TypeVariableAssignment && w.Type != TypeSessionEnd {
		return Event{}, errors.New("decode hook event: missing name")
	}
	if w.Session == "" {
		w.Session = DefaultSession
	}
	if w.Type == "" {
		w.Type = TypeFunctionCall
	}

	ev := Event{
		Session:  w.Session,
		Type:     w.Type,
		Name:     w.Name,
		Context:  w.Context,
		Variable: w.Variable,
		Source:   w.Source,
		Line:     w.Line,
	}
	if ev.Context == nil {
		ev.Context = jsvalue.NewMap()
	}
	if w.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(w.Timestamp)
	}
	if ev.IsSessionEnd() {
		d.Forget(w.Session)
		ev.Result = jsvalue.Undefined()
		return ev, nil
	}
	for _, slot := range w.Args {
		ev.Args = append(ev.Args, d.resolve(w.Session, slot))
	}
	if w.Result != nil {
		ev.Result = d.resolve(w.Session, *w.Result)
	} else {
		ev.Result = jsvalue.Undefined()
	}
	return ev, nil
}

func (d *Decoder) resolve(session string, slot Slot) *jsvalue.Value {
	v := slot.Value
	if v == nil {
		v = jsvalue.Undefined()
	}
	if slot.Ref == "" {
		return v
	}
	table, ok := d.refs[session]
	if !ok {
		table = make(map[string]*jsvalue.Value)
		d.refs[session] = table
	}
	if existing, ok := table[slot.Ref]; ok {
		return existing
	}
	table[slot.Ref] = v
	return v
}

// Forget drops the intern table of one session.
func (d *Decoder) Forget(session string) {
	delete(d.refs, session)
}
