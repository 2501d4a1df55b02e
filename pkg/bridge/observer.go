package bridge

import (
	"time"

	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// OutcomeOK labels a call that resolved. Failed calls are labelled with
// their core.Code.
const OutcomeOK = "ok"

// Observer receives bridge events, typically to export metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	CallStarted(family envelope.Family, op envelope.Operation)
	CallFinished(family envelope.Family, op envelope.Operation, outcome string, d time.Duration)
	StaleResponse(family envelope.Family)
	ContextFault(family envelope.Family)
	ContextRestart(family envelope.Family)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CallStarted(envelope.Family, envelope.Operation)                         {}
func (NopObserver) CallFinished(envelope.Family, envelope.Operation, string, time.Duration) {}
func (NopObserver) StaleResponse(envelope.Family)                                           {}
func (NopObserver) ContextFault(envelope.Family)                                            {}
func (NopObserver) ContextRestart(envelope.Family)                                          {}
