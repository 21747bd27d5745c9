package expiry

// Action is what happens to an instance once its expiration passes.
type Action string

// The wire values match the "action" field of the notification event.
const (
	ActionNone      Action = ""
	ActionStop      Action = "STOP"
	ActionTerminate Action = "TERM"
)

// Verb returns the lowercase verb used in log fields and metric labels.
func (a Action) Verb() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionTerminate:
		return "terminate"
	default:
		return "none"
	}
}

// Past returns the past-tense form used in the completion log line.
func (a Action) Past() string {
	switch a {
	case ActionStop:
		return "Stopped"
	case ActionTerminate:
		return "Terminated"
	default:
		return ""
	}
}

// String returns the wire value.
func (a Action) String() string {
	return string(a)
}
