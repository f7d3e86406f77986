package model

// Role of a participant within a room
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanEdit reports whether the role may issue mutating events.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// ExecutionStatus status of a finished code run
type ExecutionStatus string

const (
	ExecutionStatusOK      ExecutionStatus = "ok"
	ExecutionStatusError   ExecutionStatus = "error"
	ExecutionStatusTimeout ExecutionStatus = "timeout"
)

func (s ExecutionStatus) String() string {
	return string(s)
}

// DrawKind shape of a whiteboard element
type DrawKind string

const (
	DrawKindPen       DrawKind = "pen"
	DrawKindBrush     DrawKind = "brush"
	DrawKindRectangle DrawKind = "rectangle"
	DrawKindCircle    DrawKind = "circle"
	DrawKindLine      DrawKind = "line"
	DrawKindText      DrawKind = "text"
)

// Valid reports whether the kind is one of the known shapes.
func (k DrawKind) Valid() bool {
	switch k {
	case DrawKindPen, DrawKindBrush, DrawKindRectangle, DrawKindCircle, DrawKindLine, DrawKindText:
		return true
	}
	return false
}
