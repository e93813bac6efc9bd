// Package workflow implements the interrupt/resume step machine that content
// and chat flows run on.
package workflow

import "fmt"

// SignalKind tags a Signal. Start, Stop and Suspend are reserved; every other
// kind is a domain event.
type SignalKind string

const (
	KindStart   SignalKind = "start"
	KindStop    SignalKind = "stop"
	KindSuspend SignalKind = "suspend"
)

// Signal is what steps exchange: Start, a domain Event, or Stop with an
// optional result. Suspend is only valid right after RunContext.Await.
type Signal struct {
	Kind      SignalKind `json:"kind"`
	Result    string     `json:"result,omitempty"`
	HasResult bool       `json:"has_result,omitempty"`
}

// Start is the signal every run begins with.
func Start() Signal { return Signal{Kind: KindStart} }

// Event creates a domain event signal.
func Event(kind SignalKind) Signal { return Signal{Kind: kind} }

// Stop terminates the workflow with a result.
func Stop(result string) Signal { return Signal{Kind: KindStop, Result: result, HasResult: true} }

// StopEmpty terminates the workflow without a result.
func StopEmpty() Signal { return Signal{Kind: KindStop} }

// Suspend hands control back to the engine after a step called Await.
func Suspend() Signal { return Signal{Kind: KindSuspend} }

// IsReserved reports whether kind is consumed by the engine itself, so that
// no step may accept it.
func (k SignalKind) IsReserved() bool {
	return k == KindStop || k == KindSuspend
}

func (s Signal) String() string {
	if s.Kind == KindStop && s.HasResult {
		return fmt.Sprintf("stop(%d bytes)", len(s.Result))
	}
	return string(s.Kind)
}
