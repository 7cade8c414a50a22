package openairtc

// Status is the connection lifecycle state of a Session.
type Status string

const (
	StatusDisconnected       Status = "disconnected"
	StatusFetchingCredential Status = "fetching_credential"
	StatusConnecting         Status = "connecting"
	StatusConnected          Status = "connected"
	StatusError              Status = "error"
)

func (s Status) String() string {
	return string(s)
}

var transitions = map[Status][]Status{
	StatusDisconnected:       {StatusFetchingCredential},
	StatusFetchingCredential: {StatusConnecting, StatusError, StatusDisconnected},
	StatusConnecting:         {StatusConnected, StatusError, StatusDisconnected},
	StatusConnected:          {StatusDisconnected, StatusError},
	StatusError:              {StatusFetchingCredential, StatusDisconnected},
}

func (s Status) canTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// idle reports whether a new connection attempt may start.
func (s Status) idle() bool {
	return s == StatusDisconnected || s == StatusError
}
