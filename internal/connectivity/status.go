package connectivity

import (
	"encoding/json"
	"fmt"
)

// Status is the connectivity state derived from successive reachability probes.
type Status int

const (
	StatusUndefined Status = iota
	StatusDisconnected
	StatusConnected
	StatusLost
	StatusReestablished
)

var statusNames = map[Status]string{
	StatusUndefined:     "undefined",
	StatusDisconnected:  "disconnected",
	StatusConnected:     "connected",
	StatusLost:          "lost",
	StatusReestablished: "reestablished",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Online reports whether the last probe succeeded.
func (s Status) Online() bool {
	return s == StatusConnected || s == StatusReestablished
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Next applies one probe result to the current status. Every (status, result)
// pair has exactly one successor; Reestablished is only reachable from Lost or
// Disconnected.
func Next(current Status, pingOK bool) Status {
	switch current {
	case StatusConnected:
		if pingOK {
			return StatusConnected
		}
		return StatusLost
	case StatusLost:
		if pingOK {
			return StatusReestablished
		}
		return StatusDisconnected
	case StatusDisconnected:
		if pingOK {
			return StatusReestablished
		}
		return StatusDisconnected
	case StatusReestablished:
		if pingOK {
			return StatusConnected
		}
		return StatusLost
	default:
		if pingOK {
			return StatusConnected
		}
		return StatusDisconnected
	}
}

// StatusNames lists every status name in state order.
func StatusNames() []string {
	names := make([]string, 0, len(statusNames))
	for s := StatusUndefined; s <= StatusReestablished; s++ {
		names = append(names, s.String())
	}
	return names
}
