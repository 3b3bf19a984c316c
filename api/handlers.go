package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/ordering"
	"boardsync/registry"
	"boardsync/storage"
)

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, auth TokenVerifier, reg *registry.Registry, pub Publisher, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	e.GET("/healthz", healthz())
	e.GET("/ws/board/:id", boardWS(reg, store, auth, pub, logger))
	e.GET("/ws/notifications", notificationsWS(reg, store, auth, logger))

	g := e.Group("/api")
	g.GET("/boards", listBoards(store, auth))
	g.POST("/boards", createBoard(store, auth))
	g.GET("/boards/:id", getBoard(store, auth))
	g.PUT("/boards/:id", updateBoard(store, auth, pub, logger))
	g.DELETE("/boards/:id", deleteBoard(store, auth, pub, logger))
	g.POST("/boards/:id/invite", inviteMember(store, auth, pub, logger))
	g.PUT("/boards/:id/lists/reorder", reorderLists(store, auth, pub, logger))

	g.POST("/lists", createList(store, auth, pub, logger))
	g.PUT("/lists/:id", updateList(store, auth, pub, logger))
	g.DELETE("/lists/:id", deleteList(store, auth, pub, logger))
	g.PUT("/lists/:id/cards/reorder", reorderCards(store, auth, pub, logger))

	g.POST("/cards", createCard(store, auth, pub, logger))
	g.PUT("/cards/:id", updateCard(store, auth, pub, logger))
	g.DELETE("/cards/:id", deleteCard(store, auth, pub, logger))
	g.PUT("/cards/:id/move", moveCard(store, auth, pub, logger))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func bearerUserID(c echo.Context, auth TokenVerifier) (string, error) {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if h == "" {
		return "", errMissingToken
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errMissingToken
	}
	return auth.Verify(parts[1], PurposeAccess)
}

// cardScope resolves a card to its list and board and verifies the caller
// may touch it.
func cardScope(c echo.Context, store Store, cardID, userID string) (*domain.Card, string, error) {
	ctx := c.Request().Context()
	card, err := store.GetCard(ctx, cardID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", echo.NewHTTPError(http.StatusNotFound, "card not found")
	}
	if err != nil {
		return nil, "", err
	}
	list, err := store.GetList(ctx, card.ListID)
	if err != nil {
		return nil, "", err
	}
	if err := requireAccess(c, store, list.BoardID, userID); err != nil {
		return nil, "", err
	}
	return card, list.BoardID, nil
}

func requireAccess(c echo.Context, store Store, boardID, userID string) error {
	ok, err := store.HasAccess(c.Request().Context(), boardID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "access denied to board")
	}
	return nil
}

// Boards

func listBoards(store Store, auth TokenVerifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boards, err := store.BoardsForUser(c.Request().Context(), userID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, boards)
	}
}

type createBoardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func createBoard(store Store, auth TokenVerifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := c.Bind(&req); err != nil || req.Title == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "title is required")
		}
		board := &domain.Board{Title: req.Title, Description: req.Description, OwnerID: userID}
		if err := store.CreateBoard(c.Request().Context(), board); err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func getBoard(store Store, auth TokenVerifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := requireAccess(c, store, boardID, userID); err != nil {
			return err
		}
		tree, err := store.BoardTree(c.Request().Context(), boardID)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "board not found")
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, tree)
	}
}

func updateBoard(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := requireAccess(c, store, boardID, userID); err != nil {
			return err
		}
		var patch domain.BoardPatch
		if err := c.Bind(&patch); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
		ctx := c.Request().Context()
		if err := store.UpdateBoard(ctx, boardID, patch); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "board not found")
			}
			return err
		}
		store.InvalidateBoard(ctx, boardID)
		publishEnvelope(ctx, pub, BoardTopic(boardID), &domain.Envelope{
			Type:    domain.BoardUpdated,
			BoardID: boardID,
			UserID:  userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteBoard(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		ctx := c.Request().Context()
		board, err := store.GetBoard(ctx, boardID)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "board not found")
		}
		if err != nil {
			return err
		}
		if board.OwnerID != userID {
			return echo.NewHTTPError(http.StatusForbidden, "only the owner may delete a board")
		}
		if err := store.DeleteBoard(ctx, boardID); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, boardID)
		publishEnvelope(ctx, pub, BoardTopic(boardID), &domain.Envelope{
			Type:    domain.BoardDeleted,
			BoardID: boardID,
			UserID:  userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func inviteMember(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		ctx := c.Request().Context()

		role, err := store.RoleOf(ctx, boardID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "board not found")
		}
		if err != nil {
			return err
		}
		if role != domain.RoleOwner && role != domain.RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "only owners and admins may invite")
		}

		var req inviteRequest
		if err := c.Bind(&req); err != nil || req.Email == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "email is required")
		}
		if req.Role == "" {
			req.Role = string(domain.RoleMember)
		}

		invitee, err := store.GetUserByEmail(ctx, req.Email)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		if err != nil {
			return err
		}
		if invitee.ID == userID {
			return echo.NewHTTPError(http.StatusBadRequest, "cannot invite yourself to the board")
		}
		if err := store.AddMember(ctx, domain.Membership{
			BoardID: boardID,
			UserID:  invitee.ID,
			Role:    domain.Role(req.Role),
		}); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "user is already a member of this board")
		}

		board, err := store.GetBoard(ctx, boardID)
		if err != nil {
			return err
		}
		publishEnvelope(ctx, pub, BoardTopic(boardID), &domain.Envelope{
			Type:    domain.BoardInvitation,
			BoardID: boardID,
			UserID:  invitee.ID,
			Message: "You have been added to board " + board.Title,
		}, logger)
		publishEnvelope(ctx, pub, UserTopic(invitee.ID), &domain.Envelope{
			Type:    domain.UserNotification,
			BoardID: boardID,
			UserID:  invitee.ID,
			Message: "You have been added to board " + board.Title,
		}, logger)

		return c.NoContent(http.StatusNoContent)
	}
}

// Lists

type createListRequest struct {
	Title   string `json:"title"`
	BoardID string `json:"board_id"`
}

func createList(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createListRequest
		if err := c.Bind(&req); err != nil || req.Title == "" || req.BoardID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "title and board_id are required")
		}
		if err := requireAccess(c, store, req.BoardID, userID); err != nil {
			return err
		}
		ctx := c.Request().Context()
		lists, err := store.ListsByBoard(ctx, req.BoardID)
		if err != nil {
			return err
		}
		list := &domain.List{BoardID: req.BoardID, Title: req.Title}
		ordering.Append(lists, list)
		if err := store.CreateList(ctx, list); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, req.BoardID)
		publishEnvelope(ctx, pub, BoardTopic(req.BoardID), &domain.Envelope{
			Type:   domain.ListCreated,
			ListID: list.ID,
			UserID: userID,
		}, logger)
		return c.JSON(http.StatusCreated, list)
	}
}

func updateList(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, c.Param("id"))
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "list not found")
		}
		if err != nil {
			return err
		}
		if err := requireAccess(c, store, list.BoardID, userID); err != nil {
			return err
		}
		var patch domain.ListPatch
		if err := c.Bind(&patch); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
		if err := store.UpdateList(ctx, list.ID, patch); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, list.BoardID)
		publishEnvelope(ctx, pub, BoardTopic(list.BoardID), &domain.Envelope{
			Type:   domain.ListUpdated,
			ListID: list.ID,
			UserID: userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteList(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, c.Param("id"))
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "list not found")
		}
		if err != nil {
			return err
		}
		if err := requireAccess(c, store, list.BoardID, userID); err != nil {
			return err
		}
		if err := store.DeleteList(ctx, list.ID); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, list.BoardID)
		publishEnvelope(ctx, pub, BoardTopic(list.BoardID), &domain.Envelope{
			Type:   domain.ListDeleted,
			ListID: list.ID,
			UserID: userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}

type reorderListsRequest struct {
	ListID   string `json:"list_id"`
	Position int    `json:"position"`
}

func reorderLists(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := requireAccess(c, store, boardID, userID); err != nil {
			return err
		}
		var req reorderListsRequest
		if err := c.Bind(&req); err != nil || req.ListID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "list_id is required")
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, req.ListID)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "list not found")
		}
		if err != nil {
			return err
		}
		if list.BoardID != boardID {
			return echo.NewHTTPError(http.StatusBadRequest, "list does not belong to board")
		}
		lists, err := store.ListsByBoard(ctx, boardID)
		if err != nil {
			return err
		}
		ordered := ordering.Reorder(lists, list, req.Position)
		if err := store.SaveListOrder(ctx, boardID, ordered); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, boardID)
		publishEnvelope(ctx, pub, BoardTopic(boardID), &domain.Envelope{
			Type:    domain.ListsReordered,
			BoardID: boardID,
			UserID:  userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}

// Cards

func createCard(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req domain.CardCreateData
		if err := c.Bind(&req); err != nil || req.Title == "" || req.ListID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "title and list_id are required")
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, req.ListID)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "list not found")
		}
		if err != nil {
			return err
		}
		if err := requireAccess(c, store, list.BoardID, userID); err != nil {
			return err
		}
		cards, err := store.CardsByList(ctx, req.ListID)
		if err != nil {
			return err
		}
		card := &domain.Card{ListID: req.ListID, Title: req.Title}
		if req.Description != nil {
			card.Description = *req.Description
		}
		if req.AssigneeID != nil {
			card.AssigneeID = *req.AssigneeID
		}
		if req.DueDate != nil {
			if due, err := time.Parse(time.RFC3339, *req.DueDate); err == nil {
				card.DueDate = &due
			}
		}
		ordering.Append(cards, card)
		if err := store.CreateCard(ctx, card); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, list.BoardID)
		publishEnvelope(ctx, pub, BoardTopic(list.BoardID), &domain.Envelope{
			Type:   domain.CardCreated,
			CardID: card.ID,
			ListID: card.ListID,
			UserID: userID,
		}, logger)
		return c.JSON(http.StatusCreated, card)
	}
}

func updateCard(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		card, boardID, err := cardScope(c, store, c.Param("id"), userID)
		if err != nil {
			return err
		}
		var patch domain.CardPatch
		if err := c.Bind(&patch); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
		ctx := c.Request().Context()
		if err := store.UpdateCard(ctx, card.ID, patch); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, boardID)
		publishEnvelope(ctx, pub, BoardTopic(boardID), &domain.Envelope{
			Type:   domain.CardUpdated,
			CardID: card.ID,
			UserID: userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteCard(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		card, boardID, err := cardScope(c, store, c.Param("id"), userID)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()
		if err := store.DeleteCard(ctx, card.ID); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, boardID)
		publishEnvelope(ctx, pub, BoardTopic(boardID), &domain.Envelope{
			Type:   domain.CardDeleted,
			CardID: card.ID,
			ListID: card.ListID,
			UserID: userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}

type moveCardRequest struct {
	NewListID   string `json:"new_list_id"`
	NewPosition int    `json:"new_position"`
}

func moveCard(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		card, boardID, err := cardScope(c, store, c.Param("id"), userID)
		if err != nil {
			return err
		}
		var req moveCardRequest
		if err := c.Bind(&req); err != nil || req.NewListID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "new_list_id is required")
		}
		router := newCommandRouter(store, pub, logger, boardID, userID)
		if err := router.cardMove(c.Request().Context(), domain.Frame{
			Type:        domain.CardMove,
			CardID:      card.ID,
			NewListID:   req.NewListID,
			NewPosition: &req.NewPosition,
		}); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type reorderCardsRequest struct {
	CardID   string `json:"card_id"`
	Position int    `json:"position"`
}

func reorderCards(store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := bearerUserID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		list, err := store.GetList(ctx, c.Param("id"))
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "list not found")
		}
		if err != nil {
			return err
		}
		if err := requireAccess(c, store, list.BoardID, userID); err != nil {
			return err
		}
		var req reorderCardsRequest
		if err := c.Bind(&req); err != nil || req.CardID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "card_id is required")
		}
		card, err := store.GetCard(ctx, req.CardID)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "card not found")
		}
		if err != nil {
			return err
		}
		if card.ListID != list.ID {
			return echo.NewHTTPError(http.StatusBadRequest, "card does not belong to list")
		}
		cards, err := store.CardsByList(ctx, list.ID)
		if err != nil {
			return err
		}
		ordered := ordering.Reorder(cards, card, req.Position)
		if err := store.SaveCardOrder(ctx, list.ID, ordered); err != nil {
			return err
		}
		store.InvalidateBoard(ctx, list.BoardID)
		publishEnvelope(ctx, pub, BoardTopic(list.BoardID), &domain.Envelope{
			Type:   domain.CardsReordered,
			ListID: list.ID,
			UserID: userID,
		}, logger)
		return c.NoContent(http.StatusNoContent)
	}
}
