// Package pipeline tracks which stage of a single OCR job has completed.
// The machine replaces the ad-hoc session booleans of the old UI with one
// tagged state value, so invalid combinations (e.g. displayed but never
// uploaded) cannot be represented at all.
package pipeline

import "sync"

// State is the stage a pipeline instance is currently in.
type State int

const (
	Idle State = iota
	Uploaded
	OcrRunning
	OcrComplete
	Displayed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Uploaded:
		return "Uploaded"
	case OcrRunning:
		return "OcrRunning"
	case OcrComplete:
		return "OcrComplete"
	case Displayed:
		return "Displayed"
	default:
		return "Unknown"
	}
}

// Transition advances the machine by exactly one stage.
type Transition int

const (
	UploadAck Transition = iota
	OcrTrigger
	OcrDone
	Display
	Reset
)

func (t Transition) String() string {
	switch t {
	case UploadAck:
		return "upload_ack"
	case OcrTrigger:
		return "ocr_trigger"
	case OcrDone:
		return "ocr_done"
	case Display:
		return "display"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// from is the only state each transition is accepted in.
var from = map[Transition]State{
	UploadAck:  Idle,
	OcrTrigger: Uploaded,
	OcrDone:    OcrRunning,
	Display:    OcrComplete,
	Reset:      Displayed,
}

// to is the state each transition advances to.
var to = map[Transition]State{
	UploadAck:  Uploaded,
	OcrTrigger: OcrRunning,
	OcrDone:    OcrComplete,
	Display:    Displayed,
	Reset:      Idle,
}

// Machine holds the stage of the single job this pipeline instance owns.
// Exactly one job is in flight per machine; transitions are strictly
// forward until Reset returns it to Idle.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a machine in the Idle state.
func New() *Machine {
	return &Machine{}
}

// Fire attempts a transition and reports whether the machine advanced.
// A transition fired from any state other than its exact predecessor is a
// no-op returning false, which makes repeated triggers harmless.
func (m *Machine) Fire(t Transition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from[t] {
		return false
	}
	m.state = to[t]
	return true
}

// Current returns the machine's stage.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
