package spawn

import (
	"fmt"
	"runtime/debug"
)

// Fault describes an uncaught failure inside an isolated context. It is the
// payload of the "error" event seen by the controller.
type Fault struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	Script  string `json:"script,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

func (f Fault) Error() string {
	switch {
	case f.Script != "":
		return fmt.Sprintf("%s (script %s)", f.Message, f.Script)
	case f.Event != "":
		return fmt.Sprintf("%s (event %s)", f.Message, f.Event)
	}
	return f.Message
}

func faultFromPanic(r any, event string) Fault {
	return Fault{
		Message: fmt.Sprint(r),
		Event:   event,
		Stack:   string(debug.Stack()),
	}
}
