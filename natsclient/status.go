package natsclient

import "time"

// ConnectionStatus is the client's view of its connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
	StatusCircuitOpen:  "circuit_open",
}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Status is a snapshot for health reporting.
type Status struct {
	Status          ConnectionStatus `json:"status"`
	FailureCount    int32            `json:"failure_count"`
	LastFailureTime time.Time        `json:"last_failure_time,omitempty"`
	Reconnects      int32            `json:"reconnects"`
	RTT             time.Duration    `json:"rtt,omitempty"`
}
