package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"boardsync/domain"
	"boardsync/registry"
	"boardsync/storage"
)

type restFixture struct {
	srv     *httptest.Server
	store   *storage.Storage
	pub     *capturePub
	ownerID string
	boardID string
	listID  string
}

func newRESTFixture(t *testing.T) *restFixture {
	t.Helper()
	ctx := context.Background()
	store := newTestStore(t)

	owner := &domain.User{Email: "owner@example.com", FullName: "Owner"}
	if err := store.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}
	board := &domain.Board{Title: "Project", OwnerID: owner.ID}
	if err := store.CreateBoard(ctx, board); err != nil {
		t.Fatalf("create board: %v", err)
	}
	list := &domain.List{BoardID: board.ID, Title: "Todo"}
	if err := store.CreateList(ctx, list); err != nil {
		t.Fatalf("create list: %v", err)
	}

	logger := quietLogger()
	pub := &capturePub{}
	reg := registry.New(newMemRelay(), logger)
	t.Cleanup(reg.Close)

	e := echo.New()
	Register(e, store, NewAuth(testSecret), reg, pub, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &restFixture{srv: srv, store: store, pub: pub, ownerID: owner.ID, boardID: board.ID, listID: list.ID}
}

func (f *restFixture) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+issueTestToken(t, userID, PurposeAccess, time.Hour))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *restFixture) addUser(t *testing.T, email string, role domain.Role) *domain.User {
	t.Helper()
	ctx := context.Background()
	u := &domain.User{Email: email, FullName: "User"}
	if err := f.store.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if role != domain.RoleNone {
		if err := f.store.AddMember(ctx, domain.Membership{BoardID: f.boardID, UserID: u.ID, Role: role}); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	return u
}

func TestBoardEndpoints(t *testing.T) {
	f := newRESTFixture(t)

	resp := f.do(t, http.MethodGet, "/api/boards", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d, want 401", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/boards", f.ownerID, map[string]string{"title": "Second"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create board = %d, want 201", resp.StatusCode)
	}
	var created domain.Board
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if created.ID == "" || created.OwnerID != f.ownerID {
		t.Fatalf("unexpected board: %+v", created)
	}

	resp = f.do(t, http.MethodGet, "/api/boards", f.ownerID, nil)
	var boards []domain.Board
	if err := json.NewDecoder(resp.Body).Decode(&boards); err != nil {
		t.Fatalf("decode boards: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("boards = %d, want 2", len(boards))
	}

	resp = f.do(t, http.MethodGet, "/api/boards/"+f.boardID, f.ownerID, nil)
	var tree domain.BoardTree
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if tree.ID != f.boardID || len(tree.Lists) != 1 {
		t.Fatalf("unexpected tree: %+v", tree)
	}
}

func TestBoardDeleteEndpointIsOwnerOnly(t *testing.T) {
	f := newRESTFixture(t)
	member := f.addUser(t, "member@example.com", domain.RoleMember)

	resp := f.do(t, http.MethodDelete, "/api/boards/"+f.boardID, member.ID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member delete = %d, want 403", resp.StatusCode)
	}

	resp = f.do(t, http.MethodDelete, "/api/boards/"+f.boardID, f.ownerID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("owner delete = %d, want 204", resp.StatusCode)
	}
	if _, err := f.store.GetBoard(context.Background(), f.boardID); err == nil {
		t.Fatal("board survived delete")
	}
	if env := f.pub.last(t); env.Type != domain.BoardDeleted {
		t.Fatalf("envelope type = %q, want board_deleted", env.Type)
	}
}

func TestInviteEndpoint(t *testing.T) {
	f := newRESTFixture(t)
	invitee := f.addUser(t, "invitee@example.com", domain.RoleNone)
	member := f.addUser(t, "member@example.com", domain.RoleMember)

	// Plain members may not invite.
	resp := f.do(t, http.MethodPost, "/api/boards/"+f.boardID+"/invite", member.ID,
		map[string]string{"email": invitee.Email})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member invite = %d, want 403", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/boards/"+f.boardID+"/invite", f.ownerID,
		map[string]string{"email": "owner@example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self invite = %d, want 400", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/boards/"+f.boardID+"/invite", f.ownerID,
		map[string]string{"email": "nobody@example.com"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown email = %d, want 404", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/boards/"+f.boardID+"/invite", f.ownerID,
		map[string]string{"email": invitee.Email})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("invite = %d, want 204", resp.StatusCode)
	}
	ok, err := f.store.HasAccess(context.Background(), f.boardID, invitee.ID)
	if err != nil || !ok {
		t.Fatalf("invitee has no access: ok=%v err=%v", ok, err)
	}

	envs := f.pub.published()
	if len(envs) != 2 {
		t.Fatalf("published %d envelopes, want board_invitation + user_notification", len(envs))
	}
	if envs[0].Type != domain.BoardInvitation || envs[1].Type != domain.UserNotification {
		t.Fatalf("unexpected envelopes: %+v", envs)
	}
}

func TestListReorderEndpoint(t *testing.T) {
	f := newRESTFixture(t)
	ctx := context.Background()
	doing := &domain.List{BoardID: f.boardID, Title: "Doing", Position: 1}
	if err := f.store.CreateList(ctx, doing); err != nil {
		t.Fatalf("create list: %v", err)
	}

	resp := f.do(t, http.MethodPut, "/api/boards/"+f.boardID+"/lists/reorder", f.ownerID,
		map[string]any{"list_id": doing.ID, "position": 0})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reorder = %d, want 204", resp.StatusCode)
	}

	lists, err := f.store.ListsByBoard(ctx, f.boardID)
	if err != nil {
		t.Fatalf("lists by board: %v", err)
	}
	if lists[0].ID != doing.ID || int(lists[0].Position) != 0 {
		t.Fatalf("unexpected order: %+v", lists)
	}
	if env := f.pub.last(t); env.Type != domain.ListsReordered {
		t.Fatalf("envelope type = %q, want lists_reordered", env.Type)
	}
}

func TestCardEndpoints(t *testing.T) {
	f := newRESTFixture(t)
	ctx := context.Background()

	resp := f.do(t, http.MethodPost, "/api/cards", f.ownerID,
		map[string]string{"title": "first", "list_id": f.listID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create card = %d, want 201", resp.StatusCode)
	}
	var card domain.Card
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if int(card.Position) != 0 {
		t.Fatalf("position = %d, want 0", card.Position)
	}

	resp = f.do(t, http.MethodPut, "/api/cards/"+card.ID, f.ownerID,
		map[string]string{"title": "renamed"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update card = %d, want 204", resp.StatusCode)
	}
	got, err := f.store.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if got.Title != "renamed" {
		t.Fatalf("title = %q, want renamed", got.Title)
	}

	done := &domain.List{BoardID: f.boardID, Title: "Done", Position: 1}
	if err := f.store.CreateList(ctx, done); err != nil {
		t.Fatalf("create list: %v", err)
	}
	resp = f.do(t, http.MethodPut, "/api/cards/"+card.ID+"/move", f.ownerID,
		map[string]any{"new_list_id": done.ID, "new_position": 0})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("move card = %d, want 204", resp.StatusCode)
	}
	got, err = f.store.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if got.ListID != done.ID {
		t.Fatalf("card list = %s, want %s", got.ListID, done.ID)
	}
	if env := f.pub.last(t); env.Type != domain.CardMoved {
		t.Fatalf("envelope type = %q, want card_moved", env.Type)
	}

	resp = f.do(t, http.MethodDelete, "/api/cards/"+card.ID, f.ownerID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete card = %d, want 204", resp.StatusCode)
	}

	resp = f.do(t, http.MethodDelete, "/api/cards/"+card.ID, f.ownerID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing card = %d, want 404", resp.StatusCode)
	}
}

func TestStrangerCannotTouchBoard(t *testing.T) {
	f := newRESTFixture(t)
	stranger := f.addUser(t, "stranger@example.com", domain.RoleNone)

	resp := f.do(t, http.MethodGet, "/api/boards/"+f.boardID, stranger.ID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger get = %d, want 403", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/api/lists", stranger.ID,
		map[string]string{"title": "Sneaky", "board_id": f.boardID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger create list = %d, want 403", resp.StatusCode)
	}
}
