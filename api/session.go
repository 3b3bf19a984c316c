package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/registry"
)

// Close codes for the session handshake.
const (
	closeInvalidTopic = 4000 // bad topic identifier or internal handshake error
	closeAuthFailed   = 4001 // missing or invalid/expired token
	closeAccessDenied = 4003 // authenticated but not authorized for the board
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Session is one live, authenticated, topic-bound connection. It is owned
// by the serving goroutine; the registry holds only its Send side.
type Session struct {
	conn   *websocket.Conn
	userID string
	topic  string

	writeMu sync.Mutex
}

// Send writes one frame to the transport. Gorilla connections allow a
// single concurrent writer, so writes are serialized here.
func (s *Session) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) sendEnvelope(env *domain.Envelope) error {
	payload, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	return s.Send(payload)
}

func (s *Session) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = s.conn.Close()
}

// boardWS serves the board collaboration endpoint. The handshake walks
// Connecting → Authenticating → AuthorizingTopic → Active; any failure
// closes the connection with the matching reason code before the session
// ever joins the registry.
func boardWS(reg *registry.Registry, store Store, auth TokenVerifier, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		sess := &Session{conn: conn}
		defer conn.Close()

		token := c.QueryParam("token")
		if token == "" {
			sess.closeWith(closeAuthFailed, "missing-auth")
			return nil
		}
		userID, err := auth.Verify(token, PurposeAccess)
		if err != nil {
			sess.closeWith(closeAuthFailed, "auth-failed")
			return nil
		}

		boardID := c.Param("id")
		if _, err := uuid.Parse(boardID); err != nil {
			logger.WithField("board_id", boardID).Error("invalid board ID format")
			sess.closeWith(closeInvalidTopic, "invalid board ID format")
			return nil
		}

		ctx := c.Request().Context()
		ok, err := store.HasAccess(ctx, boardID, userID)
		if err != nil {
			logger.WithFields(log.Fields{"board_id": boardID, "error": err}).Error("access check failed")
			sess.closeWith(closeInvalidTopic, "internal server error")
			return nil
		}
		if !ok {
			logger.WithFields(log.Fields{"board_id": boardID, "user_id": userID}).Warn("access denied to board")
			sess.closeWith(closeAccessDenied, "access-denied")
			return nil
		}

		sess.userID = userID
		sess.topic = BoardTopic(boardID)
		if err := reg.Join(ctx, sess.topic, sess); err != nil {
			sess.closeWith(closeInvalidTopic, "internal server error")
			return nil
		}
		// Released on every exit path, including abrupt disconnects.
		defer reg.Leave(context.Background(), sess.topic, sess)

		logger.WithFields(log.Fields{"board_id": boardID, "user_id": userID}).Info("session connected")

		welcome := &domain.Envelope{
			Type:    domain.Connection,
			Message: "Connected to board " + boardID,
			UserID:  userID,
			BoardID: boardID,
		}
		if user, err := store.GetUser(ctx, userID); err == nil {
			welcome.UserName = user.FullName
		}
		if err := sess.sendEnvelope(welcome); err != nil {
			return nil
		}

		tree, err := store.BoardTree(ctx, boardID)
		if err != nil {
			logger.WithFields(log.Fields{"board_id": boardID, "error": err}).Error("board snapshot failed")
			sess.closeWith(closeInvalidTopic, "internal server error")
			return nil
		}
		if err := sess.sendEnvelope(&domain.Envelope{Type: domain.BoardState, Board: tree}); err != nil {
			return nil
		}

		router := newCommandRouter(store, pub, logger, boardID, userID)
		sess.readLoop(ctx, router, logger)

		logger.WithFields(log.Fields{"board_id": boardID, "user_id": userID}).Info("session disconnected")
		return nil
	}
}

// readLoop accepts one frame at a time until the transport disconnects.
// Malformed frames answer the sender with an error envelope; handler
// failures are logged. Neither terminates the loop.
func (s *Session) readLoop(ctx context.Context, router *commandRouter, logger *log.Logger) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame domain.Frame
		if err := sonic.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			_ = s.sendEnvelope(&domain.Envelope{
				Type:    domain.ErrorEnvelope,
				Message: "Invalid JSON format",
			})
			continue
		}
		if err := router.dispatch(ctx, frame); err != nil {
			logger.WithFields(log.Fields{
				"type":  frame.Type,
				"topic": s.topic,
				"error": err,
			}).Error("command failed")
		}
	}
}

// notificationsWS serves a user's personal notification stream. Any
// authenticated user may subscribe to their own topic; inbound frames are
// echoed back for keepalive.
func notificationsWS(reg *registry.Registry, store Store, auth TokenVerifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		sess := &Session{conn: conn}
		defer conn.Close()

		token := c.QueryParam("token")
		if token == "" {
			sess.closeWith(closeAuthFailed, "missing-auth")
			return nil
		}
		userID, err := auth.Verify(token, PurposeAccess)
		if err != nil {
			sess.closeWith(closeAuthFailed, "auth-failed")
			return nil
		}

		ctx := c.Request().Context()
		sess.userID = userID
		sess.topic = UserTopic(userID)
		if err := reg.Join(ctx, sess.topic, sess); err != nil {
			sess.closeWith(closeInvalidTopic, "internal server error")
			return nil
		}
		defer reg.Leave(context.Background(), sess.topic, sess)

		logger.WithField("user_id", userID).Info("notification session connected")

		welcome := &domain.Envelope{
			Type:    domain.Connection,
			Message: "Connected to notifications",
			UserID:  userID,
		}
		if user, err := store.GetUser(ctx, userID); err == nil {
			welcome.UserName = user.FullName
		}
		if err := sess.sendEnvelope(welcome); err != nil {
			return nil
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if err := sess.Send(data); err != nil {
				break
			}
		}

		logger.WithField("user_id", userID).Info("notification session disconnected")
		return nil
	}
}
