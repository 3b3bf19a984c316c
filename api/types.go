package api

import (
	"context"

	"boardsync/domain"
)

// Store abstracts persistence for handlers. Both storage.Storage and its
// caching wrapper satisfy it.
type Store interface {
	BoardTree(ctx context.Context, boardID string) (*domain.BoardTree, error)
	InvalidateBoard(ctx context.Context, boardID string)

	GetBoard(ctx context.Context, id string) (*domain.Board, error)
	CreateBoard(ctx context.Context, b *domain.Board) error
	BoardsForUser(ctx context.Context, userID string) ([]domain.Board, error)
	UpdateBoard(ctx context.Context, id string, patch domain.BoardPatch) error
	DeleteBoard(ctx context.Context, id string) error

	AddMember(ctx context.Context, m domain.Membership) error
	HasAccess(ctx context.Context, boardID, userID string) (bool, error)
	RoleOf(ctx context.Context, boardID, userID string) (domain.Role, error)

	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	GetList(ctx context.Context, id string) (*domain.List, error)
	CreateList(ctx context.Context, l *domain.List) error
	UpdateList(ctx context.Context, id string, patch domain.ListPatch) error
	DeleteList(ctx context.Context, id string) error
	ListsByBoard(ctx context.Context, boardID string) ([]*domain.List, error)
	SaveListOrder(ctx context.Context, boardID string, ordered []*domain.List) error

	GetCard(ctx context.Context, id string) (*domain.Card, error)
	CreateCard(ctx context.Context, c *domain.Card) error
	UpdateCard(ctx context.Context, id string, patch domain.CardPatch) error
	DeleteCard(ctx context.Context, id string) error
	CardsByList(ctx context.Context, listID string) ([]*domain.Card, error)
	SaveCardOrder(ctx context.Context, listID string, ordered []*domain.Card) error
	MoveCard(ctx context.Context, cardID, destListID string, source, dest []*domain.Card) error
}

// TokenVerifier is implemented by types able to resolve bearer tokens to
// user IDs.
type TokenVerifier interface {
	Verify(token, purpose string) (string, error)
}

// Publisher is the outbound side of the relay.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// BoardTopic is the broadcast channel for a board.
func BoardTopic(boardID string) string {
	return "board:" + boardID
}

// UserTopic is a user's personal notification channel.
func UserTopic(userID string) string {
	return "user:" + userID
}
