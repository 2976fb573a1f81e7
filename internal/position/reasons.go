package position

import "fmt"

// CloseReason tags why a position left the Open state. Exactly one per closed position.
type CloseReason int

const (
	CloseNone CloseReason = iota
	CloseStop
	CloseTarget
	CloseROI
	CloseGiveback
	CloseDeadfish
	CloseTimeStop
)

// AllCloseReasons lists every terminal reason in cascade order.
var AllCloseReasons = []CloseReason{
	CloseStop,
	CloseTarget,
	CloseROI,
	CloseGiveback,
	CloseDeadfish,
	CloseTimeStop,
}

func (r CloseReason) String() string {
	switch r {
	case CloseNone:
		return "open"
	case CloseStop:
		return "exit_stop"
	case CloseTarget:
		return "exit_target"
	case CloseROI:
		return "exit_roi"
	case CloseGiveback:
		return "exit_giveback"
	case CloseDeadfish:
		return "exit_deadfish"
	case CloseTimeStop:
		return "exit_time_stop"
	default:
		return fmt.Sprintf("close_reason(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r CloseReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *CloseReason) UnmarshalText(b []byte) error {
	s := string(b)
	if s == CloseNone.String() {
		*r = CloseNone
		return nil
	}
	for _, c := range AllCloseReasons {
		if c.String() == s {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown close reason %q", s)
}

// Status is the lifecycle state of a position.
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
)

func (s Status) String() string {
	if s == StatusClosed {
		return "closed"
	}
	return "open"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
