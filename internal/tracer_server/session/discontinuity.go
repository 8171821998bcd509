package session

type DiscontinuityKind int

const (
	Continuous DiscontinuityKind = iota
	// NewSession is reported for the first event of every trace session, including the very first one.
	NewSession
	Gap
	OutOfOrder
)

type Discontinuity struct {
	Kind DiscontinuityKind
	// Restart is set on a NewSession that replaces an earlier session of the same peer.
	Restart             bool
	LastSeenTraceNumber uint64
	TraceNumber         uint64
	Skipped             uint64
}

// Classify compares an incoming event against the cursor as it was before the event.
func Classify(previous Session, traceSessionId string, traceNumber uint64) Discontinuity {
	if previous.LastSeenTraceSessionId == nil || *previous.LastSeenTraceSessionId != traceSessionId {
		return Discontinuity{
			Kind:        NewSession,
			Restart:     previous.LastSeenTraceSessionId != nil,
			TraceNumber: traceNumber,
		}
	}
	d := Discontinuity{TraceNumber: traceNumber}
	if previous.LastSeenTraceNumber == nil {
		return d
	}
	last := *previous.LastSeenTraceNumber
	d.LastSeenTraceNumber = last
	switch {
	case traceNumber == last+1:
		d.Kind = Continuous
	case traceNumber > last+1:
		d.Kind = Gap
		d.Skipped = traceNumber - last - 1
	default:
		d.Kind = OutOfOrder
	}
	return d
}
