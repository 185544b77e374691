package job

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

// CreateChat creates a group chat with the local user as its only member.
//
// The group and chat rows are written before the remote service knows the
// group. If the remote creation fails they are deleted again before the
// error is returned.
type CreateChat struct {
	Attributes model.ChatAttributes
}

func (j *CreateChat) ExecuteDependencies(ctx context.Context, jc *Context) error {
	return nil
}

func (j *CreateChat) ExecuteLogic(ctx context.Context, jc *Context) (model.ChatID, error) {
	groupID, err := jc.Clients.Default().RequestGroupID(ctx)
	if err != nil {
		return model.ChatID{}, remote.ToFault("request group id", err)
	}

	staged, err := jc.Engine.Create(groupID, jc.Self, j.Attributes)
	if err != nil {
		return model.ChatID{}, fault.NewFatal("create group", err)
	}

	chat := &model.Chat{
		ID:         model.NewChatID(),
		GroupID:    groupID,
		Status:     model.ChatStatusActive,
		Attributes: j.Attributes,
		CreatedAt:  jc.now(),
	}
	err = jc.Store.WithTx(ctx, jc.Notifier, func(tx *sql.Tx, c *store.Changes) error {
		if err := store.InsertChat(ctx, tx, chat, c); err != nil {
			return err
		}
		return store.StoreGroupState(ctx, tx, groupID, staged.State)
	})
	if err != nil {
		return model.ChatID{}, fault.NewFatal("store new chat", err)
	}

	client, err := jc.client(groupID)
	if err == nil {
		err = client.CreateGroup(ctx, groupID, staged.Message)
	}
	if err != nil {
		j.compensate(ctx, jc, chat)
		return model.ChatID{}, remote.ToFault("create group", err)
	}

	msg := model.NewSystemMessage(chat.ID, jc.now(), model.SystemMessage{
		Kind:  model.SystemCreateGroup,
		Actor: jc.Self,
	})
	err = jc.Store.WithTx(ctx, jc.Notifier, func(tx *sql.Tx, c *store.Changes) error {
		return store.StoreMessage(ctx, tx, &msg, c)
	})
	if err != nil {
		return chat.ID, fault.NewFatal("store create group message", err)
	}

	slog.Info("chat created", "chat_id", chat.ID, "group_id", groupID)
	return chat.ID, nil
}

// compensate deletes the rows written before the remote call. It runs even
// if ctx was cancelled during the call.
func (j *CreateChat) compensate(ctx context.Context, jc *Context, chat *model.Chat) {
	ctx = context.WithoutCancel(ctx)
	err := jc.Store.WithTx(ctx, jc.Notifier, func(tx *sql.Tx, c *store.Changes) error {
		if err := store.DeleteChat(ctx, tx, chat.ID, c); err != nil {
			return err
		}
		return store.DeleteGroupState(ctx, tx, chat.GroupID)
	})
	if err != nil {
		slog.Error("failed to delete chat after failed group creation",
			"chat_id", chat.ID,
			"group_id", chat.GroupID,
			"error", err,
		)
	}
}
