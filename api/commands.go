package api

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/ordering"
	"boardsync/storage"
)

// commandRouter executes inbound board commands for one session: it
// validates fields, mutates storage (through the ordering engine for
// position-affecting commands), and publishes the result envelope to the
// board topic. A command with a missing required field or an absent entity
// is logged and dropped without feedback to the sender.
type commandRouter struct {
	store   Store
	pub     Publisher
	logger  *log.Logger
	boardID string
	userID  string
}

func newCommandRouter(store Store, pub Publisher, logger *log.Logger, boardID, userID string) *commandRouter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &commandRouter{store: store, pub: pub, logger: logger, boardID: boardID, userID: userID}
}

func (r *commandRouter) dispatch(ctx context.Context, f domain.Frame) error {
	switch f.Type {
	case domain.CardMove:
		return r.cardMove(ctx, f)
	case domain.CardUpdate:
		return r.cardUpdate(ctx, f)
	case domain.CardAssign:
		return r.cardAssign(ctx, f)
	case domain.CardCreate:
		return r.cardCreate(ctx, f)
	case domain.CardDelete:
		return r.cardDelete(ctx, f)
	case domain.ListUpdate:
		return r.listUpdate(ctx, f)
	case domain.ListCreate:
		return r.listCreate(ctx, f)
	case domain.ListDelete:
		return r.listDelete(ctx, f)
	case domain.BoardUpdate:
		return r.boardUpdate(ctx, f)
	case domain.BoardDelete:
		return r.boardDelete(ctx, f)
	case domain.UserTyping:
		return r.userTyping(ctx, f)
	default:
		r.logger.WithField("type", f.Type).Warn("unknown message type")
		return nil
	}
}

func (r *commandRouter) cardMove(ctx context.Context, f domain.Frame) error {
	if f.CardID == "" || f.NewListID == "" || f.NewPosition == nil {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	card, err := r.store.GetCard(ctx, f.CardID)
	if err != nil {
		return r.notFound(f.Type, err)
	}

	if card.ListID == f.NewListID {
		cards, err := r.store.CardsByList(ctx, card.ListID)
		if err != nil {
			return err
		}
		ordered := ordering.Reorder(cards, card, *f.NewPosition)
		if err := r.store.SaveCardOrder(ctx, card.ListID, ordered); err != nil {
			return err
		}
	} else {
		dest, err := r.store.GetList(ctx, f.NewListID)
		if err != nil {
			return r.notFound(f.Type, err)
		}
		if dest.BoardID != r.boardID {
			r.drop(f.Type, "destination list outside board")
			return nil
		}
		src, err := r.store.CardsByList(ctx, card.ListID)
		if err != nil {
			return err
		}
		dst, err := r.store.CardsByList(ctx, f.NewListID)
		if err != nil {
			return err
		}
		newSrc, newDst := ordering.MoveAcross(src, dst, card, *f.NewPosition)
		if err := r.store.MoveCard(ctx, card.ID, f.NewListID, newSrc, newDst); err != nil {
			return err
		}
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:        domain.CardMoved,
		CardID:      f.CardID,
		NewListID:   f.NewListID,
		NewPosition: f.NewPosition,
	})
	return nil
}

func (r *commandRouter) cardUpdate(ctx context.Context, f domain.Frame) error {
	if f.CardID == "" || len(f.Data) == 0 {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	var patch domain.CardPatch
	if err := sonic.Unmarshal(f.Data, &patch); err != nil {
		r.drop(f.Type, "malformed data")
		return nil
	}
	if err := r.store.UpdateCard(ctx, f.CardID, patch); err != nil {
		return r.notFound(f.Type, err)
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:   domain.CardUpdated,
		CardID: f.CardID,
		Data:   f.Data,
	})
	return nil
}

func (r *commandRouter) cardAssign(ctx context.Context, f domain.Frame) error {
	if f.CardID == "" || f.AssigneeID == nil {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	if *f.AssigneeID != "" {
		member, err := r.store.HasAccess(ctx, r.boardID, *f.AssigneeID)
		if err != nil {
			return err
		}
		if !member {
			r.drop(f.Type, "assignee is not a board member")
			return nil
		}
	}
	if err := r.store.UpdateCard(ctx, f.CardID, domain.CardPatch{AssigneeID: f.AssigneeID}); err != nil {
		return r.notFound(f.Type, err)
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:       domain.CardAssigned,
		CardID:     f.CardID,
		AssigneeID: f.AssigneeID,
	})
	return nil
}

func (r *commandRouter) cardCreate(ctx context.Context, f domain.Frame) error {
	var data domain.CardCreateData
	if len(f.Data) == 0 {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	if err := sonic.Unmarshal(f.Data, &data); err != nil || data.Title == "" || data.ListID == "" {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	list, err := r.store.GetList(ctx, data.ListID)
	if err != nil {
		return r.notFound(f.Type, err)
	}
	if list.BoardID != r.boardID {
		r.drop(f.Type, "list outside board")
		return nil
	}

	cards, err := r.store.CardsByList(ctx, data.ListID)
	if err != nil {
		return err
	}
	card := &domain.Card{ListID: data.ListID, Title: data.Title}
	if data.Description != nil {
		card.Description = *data.Description
	}
	if data.AssigneeID != nil {
		card.AssigneeID = *data.AssigneeID
	}
	if data.DueDate != nil {
		if due, err := time.Parse(time.RFC3339, *data.DueDate); err == nil {
			card.DueDate = &due
		}
	}
	ordering.Append(cards, card)
	if err := r.store.CreateCard(ctx, card); err != nil {
		return err
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	payload, err := sonic.Marshal(card)
	if err != nil {
		return err
	}
	r.publish(ctx, &domain.Envelope{
		Type:   domain.CardCreated,
		CardID: card.ID,
		ListID: card.ListID,
		Data:   payload,
	})
	return nil
}

func (r *commandRouter) cardDelete(ctx context.Context, f domain.Frame) error {
	if f.CardID == "" {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	card, err := r.store.GetCard(ctx, f.CardID)
	if err != nil {
		return r.notFound(f.Type, err)
	}
	if err := r.store.DeleteCard(ctx, card.ID); err != nil {
		return r.notFound(f.Type, err)
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:   domain.CardDeleted,
		CardID: card.ID,
		ListID: card.ListID,
	})
	return nil
}

func (r *commandRouter) listUpdate(ctx context.Context, f domain.Frame) error {
	if f.ListID == "" || len(f.Data) == 0 {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	var patch domain.ListPatch
	if err := sonic.Unmarshal(f.Data, &patch); err != nil {
		r.drop(f.Type, "malformed data")
		return nil
	}
	if err := r.store.UpdateList(ctx, f.ListID, patch); err != nil {
		return r.notFound(f.Type, err)
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:   domain.ListUpdated,
		ListID: f.ListID,
		Data:   f.Data,
	})
	return nil
}

func (r *commandRouter) listCreate(ctx context.Context, f domain.Frame) error {
	var data domain.ListCreateData
	if len(f.Data) == 0 {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	if err := sonic.Unmarshal(f.Data, &data); err != nil || data.Title == "" {
		r.drop(f.Type, "missing required fields")
		return nil
	}

	lists, err := r.store.ListsByBoard(ctx, r.boardID)
	if err != nil {
		return err
	}
	list := &domain.List{BoardID: r.boardID, Title: data.Title}
	ordering.Append(lists, list)
	if err := r.store.CreateList(ctx, list); err != nil {
		return err
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	payload, err := sonic.Marshal(list)
	if err != nil {
		return err
	}
	r.publish(ctx, &domain.Envelope{
		Type:   domain.ListCreated,
		ListID: list.ID,
		Data:   payload,
	})
	return nil
}

func (r *commandRouter) listDelete(ctx context.Context, f domain.Frame) error {
	if f.ListID == "" {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	list, err := r.store.GetList(ctx, f.ListID)
	if err != nil {
		return r.notFound(f.Type, err)
	}
	if list.BoardID != r.boardID {
		r.drop(f.Type, "list outside board")
		return nil
	}
	if err := r.store.DeleteList(ctx, list.ID); err != nil {
		return r.notFound(f.Type, err)
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:   domain.ListDeleted,
		ListID: list.ID,
	})
	return nil
}

func (r *commandRouter) boardUpdate(ctx context.Context, f domain.Frame) error {
	if len(f.Data) == 0 {
		r.drop(f.Type, "missing required fields")
		return nil
	}
	var patch domain.BoardPatch
	if err := sonic.Unmarshal(f.Data, &patch); err != nil {
		r.drop(f.Type, "malformed data")
		return nil
	}
	if err := r.store.UpdateBoard(ctx, r.boardID, patch); err != nil {
		return r.notFound(f.Type, err)
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:    domain.BoardUpdated,
		BoardID: r.boardID,
		Data:    f.Data,
	})
	return nil
}

// boardDelete is owner-only: a non-owner attempt is logged and dropped
// without broadcasting or erroring back.
func (r *commandRouter) boardDelete(ctx context.Context, f domain.Frame) error {
	board, err := r.store.GetBoard(ctx, r.boardID)
	if err != nil {
		return r.notFound(f.Type, err)
	}
	if board.OwnerID != r.userID {
		r.logger.WithFields(log.Fields{
			"board_id": r.boardID,
			"user_id":  r.userID,
		}).Warn("board_delete rejected: not the owner")
		return nil
	}
	if err := r.store.DeleteBoard(ctx, r.boardID); err != nil {
		return r.notFound(f.Type, err)
	}

	r.store.InvalidateBoard(ctx, r.boardID)
	r.publish(ctx, &domain.Envelope{
		Type:    domain.BoardDeleted,
		BoardID: r.boardID,
	})
	return nil
}

// userTyping is broadcast-only: no storage mutation.
func (r *commandRouter) userTyping(ctx context.Context, f domain.Frame) error {
	r.publish(ctx, &domain.Envelope{
		Type: domain.UserTyping,
		Data: f.Data,
	})
	return nil
}

func (r *commandRouter) publish(ctx context.Context, env *domain.Envelope) {
	env.UserID = r.userID
	publishEnvelope(ctx, r.pub, BoardTopic(r.boardID), env, r.logger)
}

func (r *commandRouter) drop(cmdType, reason string) {
	r.logger.WithFields(log.Fields{
		"type":     cmdType,
		"board_id": r.boardID,
		"user_id":  r.userID,
	}).Debugf("command dropped: %s", reason)
}

// notFound swallows missing-entity errors (logged, no feedback to the
// sender) and propagates everything else.
func (r *commandRouter) notFound(cmdType string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		r.drop(cmdType, "entity not found")
		return nil
	}
	return err
}

// publishEnvelope stamps and publishes the envelope. Publish failures are
// logged; the mutation is already committed and delivery is best-effort.
func publishEnvelope(ctx context.Context, pub Publisher, topic string, env *domain.Envelope, logger *log.Logger) {
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := sonic.Marshal(env)
	if err != nil {
		logger.WithFields(log.Fields{"topic": topic, "error": err}).Error("marshal envelope")
		return
	}
	if err := pub.Publish(ctx, topic, payload); err != nil {
		logger.WithFields(log.Fields{"topic": topic, "type": env.Type, "error": err}).Error("publish envelope")
	}
}
