package vrp

import "fmt"

// View is the CLI mode a VRP prompt indicates.
type View int

const (
	ViewUnknown   View = iota
	ViewUser           // <Huawei>
	ViewSystem         // [Huawei]
	ViewInterface      // [Huawei-GigabitEthernet0/0/1]
)

var viewNames = map[View]string{
	ViewUnknown:   "unknown",
	ViewUser:      "user",
	ViewSystem:    "system",
	ViewInterface: "interface",
}

func (v View) String() string {
	if s, ok := viewNames[v]; ok {
		return s
	}
	return "unknown"
}

// MarshalText encodes the view by name.
func (v View) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText decodes a view name.
func (v *View) UnmarshalText(b []byte) error {
	for k, name := range viewNames {
		if name == string(b) {
			*v = k
			return nil
		}
	}
	return fmt.Errorf("vrp: unknown view %q", b)
}

// EventType tags an Event.
type EventType string

const (
	EventViewChange EventType = "view_change"
	EventPagination EventType = "pagination"
	EventBoardInfo  EventType = "board_info"
)

// BoardInfo is one row of "display device".
type BoardInfo struct {
	SlotID    string `json:"slot_id"`
	SubSlot   string `json:"sub_slot"`
	BoardType string `json:"board_type"`
	Status    string `json:"status"`
	IP        string `json:"ip,omitempty"`
}

// Event is something the interpreter noticed in the stream.  Which
// fields are set depends on Type; board fields are inlined for
// EventBoardInfo.
type Event struct {
	Type EventType `json:"type"`

	View     View   `json:"view,omitempty"`
	Hostname string `json:"hostname,omitempty"`

	Detected    bool `json:"detected,omitempty"`
	AutoHandled bool `json:"auto_handled,omitempty"`

	*BoardInfo
}
