package job

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/group"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

var (
	// ErrWaitingForQueue is returned for an operation parked until inbound
	// queue messages have been processed.
	ErrWaitingForQueue = errors.New("pending operation waits for queue response")

	// ErrOperationInProgress is returned when another worker holds the
	// pending operation of a group.
	ErrOperationInProgress = errors.New("pending operation in progress elsewhere")
)

// PendingOperation sends a staged group operation and merges the result.
// Op must be claimed by the executing context's owner.
//
// Retry policy on remote failure:
//   - stale epoch on leave: proceed with local post-processing;
//   - first stale epoch otherwise: park as waiting for a queue response (fatal);
//   - stale epoch after that, or at MaxPendingAttempts: discard the staged
//     commit and queue a resync of the group (fatal);
//   - network failure, or any failure after an earlier attempt: recoverable
//     until MaxPendingAttempts, then discard (fatal);
//   - anything else: discard (fatal).
//
// A leave the server rejected stays pending after post-processing, so the
// self-remove is sent again until it is acknowledged or MaxPendingAttempts
// is reached.
type PendingOperation struct {
	Op *queue.PendingOperation
}

func (j *PendingOperation) ExecuteDependencies(ctx context.Context, jc *Context) error {
	return nil
}

func (j *PendingOperation) ExecuteLogic(ctx context.Context, jc *Context) ([]model.Message, error) {
	op := j.Op
	if op.Status == queue.StatusWaitingForQueueResponse {
		slog.Info("pending operation still waiting for queue response", "group_id", op.GroupID)
		return nil, fault.NewRecoverable("execute pending operation", ErrWaitingForQueue)
	}

	if err := queue.MarkAttempt(ctx, jc.Store.DB(), op, jc.now()); err != nil {
		return nil, fault.NewFatal("execute pending operation", err)
	}

	acknowledged := true
	ts, err := j.send(ctx, jc)
	if err != nil {
		if herr := j.handleError(ctx, jc, err); herr != nil {
			return nil, herr
		}
		acknowledged = false
		ts = jc.now()
	}

	var (
		messages []model.Message
		keep     bool
	)
	err = jc.Store.WithTx(ctx, jc.Notifier, func(tx *sql.Tx, c *store.Changes) error {
		var err error
		messages, keep, err = j.merge(ctx, tx, jc, c, ts, acknowledged)
		if err != nil || keep {
			return err
		}
		return queue.DeletePending(ctx, tx, op.GroupID)
	})
	if err != nil {
		return nil, fault.OrFatal("merge pending operation", err)
	}
	if keep {
		return nil, nil
	}

	slog.Info("pending operation completed",
		"group_id", op.GroupID,
		"kind", op.Kind,
		"attempts", op.Attempts,
		"messages", len(messages),
	)
	return messages, nil
}

func (j *PendingOperation) send(ctx context.Context, jc *Context) (time.Time, error) {
	op := j.Op
	client, err := jc.client(op.GroupID)
	if err != nil {
		return time.Time{}, err
	}
	switch op.Kind {
	case queue.OperationLeave:
		return client.SelfRemove(ctx, op.GroupID, op.Payload)
	case queue.OperationDelete:
		return client.DeleteGroup(ctx, op.GroupID, op.Payload)
	default:
		return client.GroupOperation(ctx, op.GroupID, op.Payload)
	}
}

// handleError applies the retry policy. A nil return means the operation
// counts as done and local post-processing continues.
func (j *PendingOperation) handleError(ctx context.Context, jc *Context, sendErr error) error {
	op := j.Op
	db := jc.Store.DB()
	class := remote.Classify(sendErr)

	switch {
	case class == remote.ClassStaleEpoch && op.Kind == queue.OperationLeave:
		slog.Info("leave rejected with stale epoch, proceeding locally", "group_id", op.GroupID)
		return nil

	case class == remote.ClassStaleEpoch:
		if op.StaleEpochs >= queue.MaxStaleEpochs || op.Attempts >= queue.MaxPendingAttempts {
			// Still stale with the queue drained: local state is behind.
			return j.discardAndResync(ctx, jc, sendErr)
		}
		if err := queue.MarkStaleEpoch(ctx, db, op); err != nil {
			return fault.NewFatal("park pending operation", err)
		}
		slog.Info("pending operation rejected with stale epoch, waiting for queue",
			"group_id", op.GroupID,
			"stale_epochs", op.StaleEpochs,
		)
		return fault.NewFatal("send pending operation", sendErr)

	case class == remote.ClassNetwork || op.Attempts > 1:
		if op.Attempts >= queue.MaxPendingAttempts {
			if err := queue.DeletePending(ctx, db, op.GroupID); err != nil {
				return fault.NewFatal("discard pending operation", err)
			}
			return fault.NewFatal("send pending operation",
				fmt.Errorf("gave up after %d attempts: %w", op.Attempts, sendErr))
		}
		slog.Info("pending operation failed, will retry",
			"group_id", op.GroupID,
			"attempts", op.Attempts,
			"error", sendErr,
		)
		return fault.NewRecoverable("send pending operation", sendErr)

	default:
		if err := queue.DeletePending(ctx, db, op.GroupID); err != nil {
			return fault.NewFatal("discard pending operation", err)
		}
		return fault.NewFatal("send pending operation", sendErr)
	}
}

// discardAndResync drops the staged commit and queues a rejoin of the
// group in one transaction.
func (j *PendingOperation) discardAndResync(ctx context.Context, jc *Context, sendErr error) error {
	op := j.Op
	err := jc.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		if err := queue.DeletePending(ctx, tx, op.GroupID); err != nil {
			return err
		}
		_, err := queue.EnqueueResync(ctx, tx, op.ChatID, op.GroupID, jc.now())
		return err
	})
	if err != nil {
		return fault.NewFatal("discard pending operation", err)
	}
	slog.Warn("discarded stale pending operation, group queued for resync",
		"group_id", op.GroupID,
		"attempts", op.Attempts,
		"stale_epochs", op.StaleEpochs,
	)
	return fault.NewFatal("send pending operation",
		fmt.Errorf("commit rejected after %d attempts: %w", op.Attempts, sendErr))
}

// merge applies an operation to the chat and group and returns the
// resulting system messages, already stored. keep reports that the pending
// record must stay for another attempt.
func (j *PendingOperation) merge(ctx context.Context, tx *sql.Tx, jc *Context, c *store.Changes, ts time.Time, acknowledged bool) (messages []model.Message, keep bool, err error) {
	op := j.Op
	chat, err := store.LoadChatByGroup(ctx, tx, op.GroupID)
	if err != nil {
		return nil, false, err
	}

	var state group.State
	switch {
	case op.Kind.IsCommit():
		var pastMembers []model.UserID
		if op.Kind == queue.OperationDelete {
			if pastMembers, err = jc.Engine.Members(op.GroupState); err != nil {
				return nil, false, err
			}
		}

		res, err := jc.Engine.MergePendingCommit(op.GroupState)
		if err != nil {
			return nil, false, err
		}
		state = res.State
		messages = membershipMessages(chat.ID, jc.Self, res, ts)

		if res.Attributes != nil {
			messages = append(messages, attributeMessages(chat.ID, jc.Self, chat.Attributes, *res.Attributes, ts)...)
			if err := store.SetChatAttributes(ctx, tx, chat.ID, *res.Attributes, c); err != nil {
				return nil, false, err
			}
		}
		if op.Kind == queue.OperationDelete {
			if err := store.SetChatStatus(ctx, tx, chat.ID, model.ChatStatusInactive, pastMembers, c); err != nil {
				return nil, false, err
			}
		}

	case chat.Status != model.ChatStatusInactive:
		// Leave: we are an outsider from now on.
		if state, err = jc.Engine.ChangeRole(op.GroupState, jc.Self, jc.Self, group.RoleOutsider); err != nil {
			return nil, false, err
		}
		messages = []model.Message{model.NewSystemMessage(chat.ID, ts, model.SystemMessage{
			Kind:   model.SystemRemove,
			Actor:  jc.Self,
			Target: jc.Self,
		})}

	default:
		// Leave already post-processed. Keep sending it until the server
		// takes it.
		if !acknowledged && op.Attempts < queue.MaxPendingAttempts {
			slog.Info("leave not acknowledged, keeping it pending",
				"group_id", op.GroupID,
				"attempts", op.Attempts,
			)
			return nil, true, nil
		}
		return nil, false, nil
	}

	if err := store.StoreGroupState(ctx, tx, op.GroupID, state); err != nil {
		return nil, false, err
	}
	if err := store.StoreMessages(ctx, tx, messages, c); err != nil {
		return nil, false, err
	}
	return messages, false, nil
}

func membershipMessages(chatID model.ChatID, actor model.UserID, res group.MergeResult, ts time.Time) []model.Message {
	var out []model.Message
	for _, u := range res.Added {
		out = append(out, model.NewSystemMessage(chatID, ts, model.SystemMessage{
			Kind: model.SystemAdd, Actor: actor, Target: u,
		}))
	}
	for _, u := range res.Removed {
		out = append(out, model.NewSystemMessage(chatID, ts, model.SystemMessage{
			Kind: model.SystemRemove, Actor: actor, Target: u,
		}))
	}
	return out
}

// attributeMessages returns one system message per changed attribute.
func attributeMessages(chatID model.ChatID, actor model.UserID, old, updated model.ChatAttributes, ts time.Time) []model.Message {
	var out []model.Message
	if !old.TitleEqual(updated) {
		out = append(out, model.NewSystemMessage(chatID, ts, model.SystemMessage{
			Kind:     model.SystemChangeTitle,
			Actor:    actor,
			OldTitle: old.Title,
			NewTitle: updated.Title,
		}))
	}
	if !bytes.Equal(old.Picture, updated.Picture) {
		out = append(out, model.NewSystemMessage(chatID, ts, model.SystemMessage{
			Kind:  model.SystemChangePicture,
			Actor: actor,
		}))
	}
	return out
}
