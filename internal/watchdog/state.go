package watchdog

import "fmt"

// State is a phase of the per-device supervision loop.
type State int

const (
	// Awake means the device is up and is probed every check interval.
	Awake State = iota
	// PoweringOff means the switch is being told to cut power.
	PoweringOff
	// PowerOff means power is cut and the cycle wait is running.
	PowerOff
	// PoweringOn means the switch is being told to restore power.
	PoweringOn
	// Rebooting means power is back and the device is given time to boot.
	Rebooting
)

var stateNames = map[State]string{
	Awake:       "AWAKE",
	PoweringOff: "POWERING_OFF",
	PowerOff:    "POWER_OFF",
	PoweringOn:  "POWERING_ON",
	Rebooting:   "REBOOTING",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown watchdog state %q", b)
}

// AlertPhase is the last alert sent for a device. It debounces notifications
// so that each outage produces one OFFLINE and one ONLINE message.
type AlertPhase int

const (
	Online AlertPhase = iota
	Offline
)

func (a AlertPhase) String() string {
	if a == Offline {
		return "OFFLINE"
	}
	return "ONLINE"
}

// MarshalText renders the phase by name in JSON payloads.
func (a AlertPhase) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a phase name.
func (a *AlertPhase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ONLINE":
		*a = Online
	case "OFFLINE":
		*a = Offline
	default:
		return fmt.Errorf("unknown alert phase %q", b)
	}
	return nil
}
