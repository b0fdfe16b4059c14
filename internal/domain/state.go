package domain

type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionReady
	SessionClosed
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionReady:
		return "ready"
	case SessionClosed:
		return "closed"
	case SessionError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no further requests may be issued for the session.
func (s SessionState) Terminal() bool {
	return s != SessionReady
}

type HandleKind int

const (
	KindPublisher HandleKind = iota
	KindSubscriber
)

func (k HandleKind) String() string {
	if k == KindSubscriber {
		return "subscriber"
	}
	return "publisher"
}

type HandleState int

const (
	HandleUnattached HandleState = iota
	HandleAttached
	HandleJoined
	HandleConnected
	HandleClosed
	HandleError
)

func (s HandleState) String() string {
	switch s {
	case HandleUnattached:
		return "unattached"
	case HandleAttached:
		return "attached"
	case HandleJoined:
		return "joined"
	case HandleConnected:
		return "connected"
	case HandleClosed:
		return "closed"
	case HandleError:
		return "error"
	}
	return "unknown"
}

func (s HandleState) Terminal() bool {
	return s == HandleClosed || s == HandleError
}

// ConnectionState is the overall state surfaced to the UI.
type ConnectionState int

const (
	ConnNew ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnClosed
	ConnError
)

func (s ConnectionState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnClosed:
		return "closed"
	case ConnError:
		return "error"
	}
	return "unknown"
}
