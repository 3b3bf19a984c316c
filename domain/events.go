package domain

import "encoding/json"

// Inbound frame types.
const (
	CardMove    = "card_move"
	CardUpdate  = "card_update"
	CardAssign  = "card_assign"
	CardCreate  = "card_create"
	CardDelete  = "card_delete"
	ListUpdate  = "list_update"
	ListCreate  = "list_create"
	ListDelete  = "list_delete"
	BoardUpdate = "board_update"
	BoardDelete = "board_delete"
	UserTyping  = "user_typing"
)

// Outbound envelope types.
const (
	CardMoved    = "card_moved"
	CardUpdated  = "card_updated"
	CardAssigned = "card_assigned"
	CardCreated  = "card_created"
	CardDeleted  = "card_deleted"
	ListUpdated  = "list_updated"
	ListCreated  = "list_created"
	ListDeleted  = "list_deleted"
	BoardUpdated = "board_updated"
	BoardDeleted = "board_deleted"

	ListsReordered = "lists_reordered"
	CardsReordered = "cards_reordered"

	Connection       = "connection"
	BoardState       = "board_state"
	ErrorEnvelope    = "error"
	BoardInvitation  = "board_invitation"
	UserNotification = "user_notification"
)

// Frame is an inbound client message. Type discriminates; the rest of the
// payload is decoded per handler.
type Frame struct {
	Type        string          `json:"type"`
	CardID      string          `json:"card_id,omitempty"`
	ListID      string          `json:"list_id,omitempty"`
	NewListID   string          `json:"new_list_id,omitempty"`
	NewPosition *int            `json:"new_position,omitempty"`
	AssigneeID  *string         `json:"assignee_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Envelope is the transient pub/sub payload fanned out to sessions.
type Envelope struct {
	Type        string          `json:"type"`
	BoardID     string          `json:"board_id,omitempty"`
	ListID      string          `json:"list_id,omitempty"`
	CardID      string          `json:"card_id,omitempty"`
	NewListID   string          `json:"new_list_id,omitempty"`
	NewPosition *int            `json:"new_position,omitempty"`
	AssigneeID  *string         `json:"assignee_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Board       *BoardTree      `json:"board,omitempty"`
	Message     string          `json:"message,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	UserName    string          `json:"user_name,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
}

// CardCreateData is the payload of a card_create frame.
type CardCreateData struct {
	Title       string  `json:"title"`
	ListID      string  `json:"list_id"`
	Description *string `json:"description"`
	AssigneeID  *string `json:"assignee_id"`
	DueDate     *string `json:"due_date"`
}

// ListCreateData is the payload of a list_create frame.
type ListCreateData struct {
	Title   string `json:"title"`
	BoardID string `json:"board_id"`
}
