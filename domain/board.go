package domain

import "time"

// Position is an opaque ordered key for items in a container. Only the
// ordering package assigns or renumbers values; everything else treats it
// as a sort key.
type Position int

// Role is a user's role on a board. Owner is derived from Board.OwnerID,
// admin and member come from explicit membership rows.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleNone   Role = ""
)

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type List struct {
	ID       string   `json:"id"`
	BoardID  string   `json:"board_id"`
	Title    string   `json:"title"`
	Position Position `json:"position"`
}

type Card struct {
	ID          string     `json:"id"`
	ListID      string     `json:"list_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Position    Position   `json:"position"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Membership grants a user a role on a board. The owner is a full-permission
// member even without a row.
type Membership struct {
	BoardID string `json:"board_id"`
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
}

// ListTree is a list with its cards in position order.
type ListTree struct {
	List
	Cards []Card `json:"cards"`
}

// BoardTree is the full board snapshot sent as board_state to a newly
// connected session.
type BoardTree struct {
	Board
	Lists []ListTree `json:"lists"`
}

func (l *List) EntityID() string       { return l.ID }
func (l *List) SetPosition(p Position) { l.Position = p }
func (c *Card) EntityID() string       { return c.ID }
func (c *Card) SetPosition(p Position) { c.Position = p }

// Patch types carry partial updates; nil fields are left untouched.

type BoardPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type ListPatch struct {
	Title *string `json:"title"`
}

type CardPatch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	AssigneeID  *string    `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
}
