package status

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	Disconnect
)

// Policy decides what happens to an observer whose send queue is full.
type Policy interface {
	OnBackPressure(conn string, dropped int) BackpressureAction
}

// SimplePolicy drops events for a slow observer and disconnects it once
// it has missed MaxDropped of them.
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackPressure(_ string, dropped int) BackpressureAction {
	if dropped >= p.MaxDropped {
		return Disconnect
	}
	return DropEvent
}
