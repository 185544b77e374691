package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/group"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/store"
)

// ErrNothingToDo is returned when refinement leaves an operation empty.
var ErrNothingToDo = errors.New("operation has no effect")

// ChatOperation changes the membership, lifecycle or attributes of a chat.
//
// Dependencies first finish any operation still pending for the chat, then
// re-validate this one against the current group. The logic stages the
// change and stores it as a pending operation in the same transaction, then
// executes it as a PendingOperation.
type ChatOperation struct {
	ChatID model.ChatID
	Op     group.Operation
}

func AddMembers(chatID model.ChatID, users ...model.UserID) *ChatOperation {
	return &ChatOperation{ChatID: chatID, Op: group.Operation{Kind: group.AddMembers, Members: users}}
}

func RemoveMembers(chatID model.ChatID, users ...model.UserID) *ChatOperation {
	return &ChatOperation{ChatID: chatID, Op: group.Operation{Kind: group.RemoveMembers, Members: users}}
}

func LeaveChat(chatID model.ChatID) *ChatOperation {
	return &ChatOperation{ChatID: chatID, Op: group.Operation{Kind: group.Leave}}
}

func DeleteChat(chatID model.ChatID) *ChatOperation {
	return &ChatOperation{ChatID: chatID, Op: group.Operation{Kind: group.Delete}}
}

// UpdateChat sets new attributes. Nil attrs requests a key-only update.
func UpdateChat(chatID model.ChatID, attrs *model.ChatAttributes) *ChatOperation {
	return &ChatOperation{ChatID: chatID, Op: group.Operation{Kind: group.Update, Attributes: attrs}}
}

func (j *ChatOperation) ExecuteDependencies(ctx context.Context, jc *Context) error {
	if err := j.executeExisting(ctx, jc); err != nil {
		return err
	}
	return j.refine(ctx, jc)
}

// executeExisting runs the operation already pending for the chat, if any.
func (j *ChatOperation) executeExisting(ctx context.Context, jc *Context) error {
	db := jc.Store.DB()
	existing, err := queue.LoadPendingForChat(ctx, db, j.ChatID)
	if err != nil {
		return fault.NewFatal("load pending operation", err)
	}
	if existing == nil {
		return nil
	}

	claimed, err := queue.ClaimPendingForGroup(ctx, db, existing.GroupID, jc.claim())
	if err != nil {
		return fault.NewFatal("claim pending operation", err)
	}
	if claimed == nil {
		// Finished between load and claim, or held by someone else.
		still, err := queue.LoadPending(ctx, db, existing.GroupID)
		if err != nil {
			return fault.NewFatal("load pending operation", err)
		}
		if still != nil {
			return fault.NewRecoverable("execute pending operation", ErrOperationInProgress)
		}
		return nil
	}

	slog.Info("executing pending operation before new chat operation",
		"chat_id", j.ChatID,
		"group_id", claimed.GroupID,
		"kind", claimed.Kind,
	)
	_, err = Execute[[]model.Message](ctx, jc, &PendingOperation{Op: claimed})
	return err
}

// refine drops no-op members from the operation and rejects operations on
// inactive groups.
func (j *ChatOperation) refine(ctx context.Context, jc *Context) error {
	db := jc.Store.DB()
	chat, err := store.LoadChat(ctx, db, j.ChatID)
	if err != nil {
		return fault.NewFatal("load chat", err)
	}
	state, err := store.LoadGroupState(ctx, db, chat.GroupID)
	if err != nil {
		return fault.NewFatal("load group", err)
	}
	active, err := jc.Engine.IsActive(state)
	if err != nil {
		return fault.NewFatal("inspect group", err)
	}
	if !active {
		return fault.NewFatal("refine chat operation", group.ErrInactive)
	}

	switch j.Op.Kind {
	case group.AddMembers, group.RemoveMembers:
	default:
		return nil
	}

	members, err := jc.Engine.Members(state)
	if err != nil {
		return fault.NewFatal("inspect group", err)
	}
	adding := j.Op.Kind == group.AddMembers
	j.Op.Members = slices.DeleteFunc(slices.Clone(j.Op.Members), func(u model.UserID) bool {
		// Keep absent users for add and present users for remove.
		return slices.Contains(members, u) == adding
	})
	if len(j.Op.Members) == 0 {
		return fault.NewFatal("refine chat operation",
			fmt.Errorf("%s: %w", j.Op.Kind, ErrNothingToDo))
	}
	return nil
}

func (j *ChatOperation) ExecuteLogic(ctx context.Context, jc *Context) ([]model.Message, error) {
	var (
		pending *queue.PendingOperation
		done    bool
	)
	err := jc.Store.WithTx(ctx, jc.Notifier, func(tx *sql.Tx, c *store.Changes) error {
		chat, err := store.LoadChat(ctx, tx, j.ChatID)
		if err != nil {
			return err
		}
		state, err := store.LoadGroupState(ctx, tx, chat.GroupID)
		if err != nil {
			return err
		}

		op := j.Op
		switch op.Kind {
		case group.Delete:
			members, err := jc.Engine.Members(state)
			if err != nil {
				return err
			}
			if len(members) == 1 {
				// Nobody to tell.
				done = true
				return store.SetChatStatus(ctx, tx, chat.ID, model.ChatStatusInactive, members, c)
			}
		case group.Update:
			if op.Attributes != nil && op.Attributes.Equal(chat.Attributes) {
				op.Attributes = nil
			}
		}

		staged, err := jc.Engine.Stage(state, jc.Self, op)
		if err != nil {
			return err
		}
		now := jc.now()
		pending = &queue.PendingOperation{
			GroupID:    chat.GroupID,
			ChatID:     chat.ID,
			Kind:       pendingKind(op.Kind),
			Payload:    staged.Message,
			GroupState: staged.State,
			RetryDueAt: now,
			CreatedAt:  now,
		}
		return queue.StorePending(ctx, tx, pending, jc.claim())
	})
	if err != nil {
		return nil, fault.OrFatal("stage chat operation", err)
	}
	if done {
		slog.Info("deleted single-member chat locally", "chat_id", j.ChatID)
		return nil, nil
	}

	return Execute[[]model.Message](ctx, jc, &PendingOperation{Op: pending})
}

func pendingKind(k group.OperationKind) queue.OperationKind {
	switch k {
	case group.Leave:
		return queue.OperationLeave
	case group.Delete:
		return queue.OperationDelete
	default:
		return queue.OperationOther
	}
}
