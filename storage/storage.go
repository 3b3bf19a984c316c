package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"boardsync/domain"
)

// Storage provides access to the underlying SQLite database.
type Storage struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := CreateSchema(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// New wraps an existing database handle. The caller owns the handle.
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

// Users

func (s *Storage) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, full_name) VALUES (?, ?, ?)",
		u.ID, u.Email, u.FullName)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, full_name FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Email, &u.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, full_name FROM users WHERE email = ?", email).
		Scan(&u.ID, &u.Email, &u.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// Boards

func (s *Storage) CreateBoard(ctx context.Context, b *domain.Board) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	ts := now()
	b.CreatedAt = parseTime(ts)
	b.UpdatedAt = b.CreatedAt
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO boards (id, title, description, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		b.ID, b.Title, b.Description, b.OwnerID, ts, ts)
	if err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	return nil
}

func (s *Storage) GetBoard(ctx context.Context, id string) (*domain.Board, error) {
	var b domain.Board
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, description, owner_id, created_at, updated_at FROM boards WHERE id = ?", id).
		Scan(&b.ID, &b.Title, &b.Description, &b.OwnerID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get board: %w", err)
	}
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return &b, nil
}

// BoardsForUser returns boards the user owns or is a member of, most
// recently updated first.
func (s *Storage) BoardsForUser(ctx context.Context, userID string) ([]domain.Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT b.id, b.title, b.description, b.owner_id, b.created_at, b.updated_at
		FROM boards b
		LEFT JOIN board_members m ON m.board_id = b.id
		WHERE b.owner_id = ? OR m.user_id = ?
		ORDER BY b.updated_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("boards for user: %w", err)
	}
	defer rows.Close()

	boards := []domain.Board{}
	for rows.Next() {
		var b domain.Board
		var created, updated string
		if err := rows.Scan(&b.ID, &b.Title, &b.Description, &b.OwnerID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		b.CreatedAt = parseTime(created)
		b.UpdatedAt = parseTime(updated)
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (s *Storage) UpdateBoard(ctx context.Context, id string, patch domain.BoardPatch) error {
	b, err := s.GetBoard(ctx, id)
	if err != nil {
		return err
	}
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Description != nil {
		b.Description = *patch.Description
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE boards SET title = ?, description = ?, updated_at = ? WHERE id = ?",
		b.Title, b.Description, now(), id)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return nil
}

func (s *Storage) DeleteBoard(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM boards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Membership

func (s *Storage) AddMember(ctx context.Context, m domain.Membership) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO board_members (board_id, user_id, role) VALUES (?, ?, ?)",
		m.BoardID, m.UserID, string(m.Role))
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// HasAccess reports whether the user owns the board or holds a membership
// row. The owner is implicitly a full-permission member.
func (s *Storage) HasAccess(ctx context.Context, boardID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM boards b
		LEFT JOIN board_members m ON m.board_id = b.id AND m.user_id = ?
		WHERE b.id = ? AND (b.owner_id = ? OR m.user_id IS NOT NULL)`,
		userID, boardID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return n > 0, nil
}

// RoleOf returns the user's role on the board, or RoleNone.
func (s *Storage) RoleOf(ctx context.Context, boardID, userID string) (domain.Role, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, "SELECT owner_id FROM boards WHERE id = ?", boardID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoleNone, ErrNotFound
	}
	if err != nil {
		return domain.RoleNone, fmt.Errorf("role of: %w", err)
	}
	if ownerID == userID {
		return domain.RoleOwner, nil
	}
	var role string
	err = s.db.QueryRowContext(ctx,
		"SELECT role FROM board_members WHERE board_id = ? AND user_id = ?", boardID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, fmt.Errorf("role of: %w", err)
	}
	return domain.Role(role), nil
}

// Lists

func (s *Storage) CreateList(ctx context.Context, l *domain.List) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)",
		l.ID, l.BoardID, l.Title, int(l.Position))
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

func (s *Storage) GetList(ctx context.Context, id string) (*domain.List, error) {
	var l domain.List
	err := s.db.QueryRowContext(ctx,
		"SELECT id, board_id, title, position FROM lists WHERE id = ?", id).
		Scan(&l.ID, &l.BoardID, &l.Title, &l.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return &l, nil
}

func (s *Storage) UpdateList(ctx context.Context, id string, patch domain.ListPatch) error {
	if patch.Title == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, "UPDATE lists SET title = ? WHERE id = ?", *patch.Title, id)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) DeleteList(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListsByBoard returns the board's lists in position order. The id tiebreak
// keeps insertion order stable when positions collide.
func (s *Storage) ListsByBoard(ctx context.Context, boardID string) ([]*domain.List, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, board_id, title, position FROM lists WHERE board_id = ? ORDER BY position, id", boardID)
	if err != nil {
		return nil, fmt.Errorf("lists by board: %w", err)
	}
	defer rows.Close()

	lists := []*domain.List{}
	for rows.Next() {
		var l domain.List
		if err := rows.Scan(&l.ID, &l.BoardID, &l.Title, &l.Position); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, &l)
	}
	return lists, rows.Err()
}

// SaveListOrder persists the positions of ordered as one transaction.
func (s *Storage) SaveListOrder(ctx context.Context, boardID string, ordered []*domain.List) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, l := range ordered {
		if _, err := tx.ExecContext(ctx,
			"UPDATE lists SET position = ? WHERE id = ? AND board_id = ?",
			int(l.Position), l.ID, boardID); err != nil {
			return fmt.Errorf("save list order: %w", err)
		}
	}
	return tx.Commit()
}

// Cards

func (s *Storage) CreateCard(ctx context.Context, c *domain.Card) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cards (id, list_id, title, description, position, assignee_id, due_date) VALUES (?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.ListID, c.Title, c.Description, int(c.Position), nullable(c.AssigneeID), nullableTime(c.DueDate))
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	return nil
}

func (s *Storage) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, list_id, title, description, position, assignee_id, due_date FROM cards WHERE id = ?", id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

func (s *Storage) UpdateCard(ctx context.Context, id string, patch domain.CardPatch) error {
	c, err := s.GetCard(ctx, id)
	if err != nil {
		return err
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.AssigneeID != nil {
		c.AssigneeID = *patch.AssigneeID
	}
	if patch.DueDate != nil {
		c.DueDate = patch.DueDate
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE cards SET title = ?, description = ?, assignee_id = ?, due_date = ? WHERE id = ?",
		c.Title, c.Description, nullable(c.AssigneeID), nullableTime(c.DueDate), id)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return nil
}

func (s *Storage) DeleteCard(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CardsByList returns the list's cards in position order.
func (s *Storage) CardsByList(ctx context.Context, listID string) ([]*domain.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, list_id, title, description, position, assignee_id, due_date FROM cards WHERE list_id = ? ORDER BY position, id", listID)
	if err != nil {
		return nil, fmt.Errorf("cards by list: %w", err)
	}
	defer rows.Close()

	cards := []*domain.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// SaveCardOrder persists the positions of ordered as one transaction.
func (s *Storage) SaveCardOrder(ctx context.Context, listID string, ordered []*domain.Card) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, c := range ordered {
		if _, err := tx.ExecContext(ctx,
			"UPDATE cards SET position = ? WHERE id = ? AND list_id = ?",
			int(c.Position), c.ID, listID); err != nil {
			return fmt.Errorf("save card order: %w", err)
		}
	}
	return tx.Commit()
}

// MoveCard reassigns cardID to destListID and persists the re-sequenced
// source and destination orders in a single transaction. Partial
// application is never observable.
func (s *Storage) MoveCard(ctx context.Context, cardID, destListID string, source, dest []*domain.Card) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE cards SET list_id = ? WHERE id = ?", destListID, cardID); err != nil {
		return fmt.Errorf("move card: %w", err)
	}
	for _, c := range source {
		if _, err := tx.ExecContext(ctx,
			"UPDATE cards SET position = ? WHERE id = ?", int(c.Position), c.ID); err != nil {
			return fmt.Errorf("move card: resequence source: %w", err)
		}
	}
	for _, c := range dest {
		if _, err := tx.ExecContext(ctx,
			"UPDATE cards SET position = ? WHERE id = ?", int(c.Position), c.ID); err != nil {
			return fmt.Errorf("move card: resequence destination: %w", err)
		}
	}
	return tx.Commit()
}

// BoardTree assembles the full board snapshot: board, lists in position
// order, each list's cards in position order.
func (s *Storage) BoardTree(ctx context.Context, boardID string) (*domain.BoardTree, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	lists, err := s.ListsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	tree := &domain.BoardTree{Board: *board, Lists: make([]domain.ListTree, 0, len(lists))}
	for _, l := range lists {
		cards, err := s.CardsByList(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		lt := domain.ListTree{List: *l, Cards: make([]domain.Card, 0, len(cards))}
		for _, c := range cards {
			lt.Cards = append(lt.Cards, *c)
		}
		tree.Lists = append(tree.Lists, lt)
	}
	return tree, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (*domain.Card, error) {
	var c domain.Card
	var assignee, due sql.NullString
	if err := row.Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &c.Position, &assignee, &due); err != nil {
		return nil, err
	}
	if assignee.Valid {
		c.AssigneeID = assignee.String
	}
	if due.Valid {
		t := parseTime(due.String)
		c.DueDate = &t
	}
	return &c, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
