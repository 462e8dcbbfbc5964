package responses

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// ComputerAction is the computer use action union, tagged by type.
// Screenshot and wait carry no payload.
type ComputerAction struct {
	Click       *ClickAction
	DoubleClick *DoubleClickAction
	Drag        *DragAction
	Keypress    *KeypressAction
	Move        *MoveAction
	Screenshot  bool
	Scroll      *ScrollAction
	Type        *TypeAction
	Wait        bool
}

type ClickAction struct {
	Button MouseButton `json:"button"`
	X      int64       `json:"x"`
	Y      int64       `json:"y"`
}

type MouseButton string

const (
	ButtonLeft    MouseButton = "left"
	ButtonRight   MouseButton = "right"
	ButtonWheel   MouseButton = "wheel"
	ButtonBack    MouseButton = "back"
	ButtonForward MouseButton = "forward"
)

func (v *MouseButton) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "action.button",
		ButtonLeft, ButtonRight, ButtonWheel, ButtonBack, ButtonForward)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type DoubleClickAction struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

type DragAction struct {
	Path []Coordinate `json:"path"`
}

type Coordinate struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

type KeypressAction struct {
	Keys []string `json:"keys"`
}

type MoveAction struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

type ScrollAction struct {
	X       int64 `json:"x"`
	Y       int64 `json:"y"`
	ScrollX int64 `json:"scroll_x"`
	ScrollY int64 `json:"scroll_y"`
}

type TypeAction struct {
	Text string `json:"text"`
}

func (a *ComputerAction) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*a = ComputerAction{}
	switch probe.Type {
	case "click":
		a.Click = &ClickAction{}
		return json.Unmarshal(data, a.Click)
	case "double_click":
		a.DoubleClick = &DoubleClickAction{}
		return json.Unmarshal(data, a.DoubleClick)
	case "drag":
		a.Drag = &DragAction{}
		return json.Unmarshal(data, a.Drag)
	case "keypress":
		a.Keypress = &KeypressAction{}
		return json.Unmarshal(data, a.Keypress)
	case "move":
		a.Move = &MoveAction{}
		return json.Unmarshal(data, a.Move)
	case "screenshot":
		a.Screenshot = true
		return nil
	case "scroll":
		a.Scroll = &ScrollAction{}
		return json.Unmarshal(data, a.Scroll)
	case "type":
		a.Type = &TypeAction{}
		return json.Unmarshal(data, a.Type)
	case "wait":
		a.Wait = true
		return nil
	}
	return fmt.Errorf("action: unknown type %q", probe.Type)
}

func (a ComputerAction) MarshalJSON() ([]byte, error) {
	switch {
	case a.Click != nil:
		return tagObject("click", a.Click)
	case a.DoubleClick != nil:
		return tagObject("double_click", a.DoubleClick)
	case a.Drag != nil:
		return tagObject("drag", a.Drag)
	case a.Keypress != nil:
		return tagObject("keypress", a.Keypress)
	case a.Move != nil:
		return tagObject("move", a.Move)
	case a.Screenshot:
		return []byte(`{"type":"screenshot"}`), nil
	case a.Scroll != nil:
		return tagObject("scroll", a.Scroll)
	case a.Type != nil:
		return tagObject("type", a.Type)
	case a.Wait:
		return []byte(`{"type":"wait"}`), nil
	}
	return nil, fmt.Errorf("action: empty action")
}
