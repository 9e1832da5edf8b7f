package session

import "sync"

// Phase weights for the progress accumulator (spec.md §4.5 "Progress
// estimation"). Init/Data/Uninit each also cost one round-trip; that
// cost is folded into the per-phase unit count by the caller, not
// modeled as a separate constant here.
const (
	weightPrepare = 0.2
	weightInit    = 0.5
	weightData    = 1.0 // scaled by expected item count, see Estimator
	weightUninit  = 1.0
	weightDone    = 0.0
)

// Phase names one stage of a sync.
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseInit
	PhaseData
	PhaseUninit
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "PREPARE"
	case PhaseInit:
		return "INIT"
	case PhaseData:
		return "DATA"
	case PhaseUninit:
		return "UNINIT"
	case PhaseDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Estimate is a progress snapshot driven into Session.reportProgress.
type Estimate struct {
	Phase        Phase
	SendCount    int // items sent so far, Data phase
	RecvCount    int // items received so far, Uninit phase
	ExpectedSend int
	ExpectedRecv int
	OneWayToServer bool // zero the receive phase
	OneWayFromServer bool // zero the send phase
}

// Estimator turns a stream of Estimate snapshots into a monotonic
// non-decreasing 0-100 percent projection, self-adapting when the
// actual send/receive count exceeds what was expected.
type Estimator struct {
	mu      sync.Mutex
	percent int
	last    Estimate
}

// NewEstimator returns a fresh estimator starting at 0%.
func NewEstimator() *Estimator { return &Estimator{} }

// Update recomputes the projection from a new snapshot, never letting
// the reported percent decrease.
func (e *Estimator) Update(est Estimate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if est.ExpectedSend < est.SendCount {
		est.ExpectedSend = est.SendCount
	}
	if est.ExpectedRecv < est.RecvCount {
		est.ExpectedRecv = est.RecvCount
	}

	dataWeight := weightData
	uninitWeight := weightUninit
	if est.OneWayToServer {
		uninitWeight = 0
	}
	if est.OneWayFromServer {
		dataWeight = 0
	}

	total := weightPrepare + weightInit + dataWeight + uninitWeight + weightDone
	if total == 0 {
		total = 1
	}

	var done float64
	switch est.Phase {
	case PhasePrepare:
		done = weightPrepare * fraction(0, 1)
	case PhaseInit:
		done = weightPrepare + weightInit*fraction(0, 1)
	case PhaseData:
		done = weightPrepare + weightInit + dataWeight*fraction(est.SendCount, est.ExpectedSend)
	case PhaseUninit:
		done = weightPrepare + weightInit + dataWeight + uninitWeight*fraction(est.RecvCount, est.ExpectedRecv)
	case PhaseDone:
		done = total
	}

	pct := int(done / total * 100)
	if pct > 100 {
		pct = 100
	}
	if pct < e.percent {
		pct = e.percent // monotonic non-decreasing
	}
	e.percent = pct
	e.last = est
}

func fraction(count, expected int) float64 {
	if expected <= 0 {
		return 1
	}
	f := float64(count) / float64(expected)
	if f > 1 {
		f = 1
	}
	return f
}

// Current returns the last computed projection.
func (e *Estimator) Current() Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	est := e.last
	return est
}

// Percent returns the current 0-100 projection.
func (e *Estimator) Percent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.percent
}
