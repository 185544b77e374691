// Package group defines the contract of the cryptographic group engine.
//
// The engine owns the protocol: it produces commits and proposals, merges
// them, and encrypts application messages. This package only fixes the
// shape the jobs drive it through. Engine state is opaque to callers and
// persisted verbatim by the store.
//
// Every Engine call is local and synchronous. Errors returned by an engine
// are protocol-level failures and are treated as fatal by the callers.
package group

import (
	"errors"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/store"
)

// State is serialized engine state for one group.
type State []byte

// OperationKind enumerates the changes a chat operation can stage.
type OperationKind string

const (
	AddMembers    OperationKind = "add_members"
	RemoveMembers OperationKind = "remove_members"
	Leave         OperationKind = "leave"
	Delete        OperationKind = "delete"
	Update        OperationKind = "update"
)

// Operation is a change to stage against a group.
type Operation struct {
	Kind    OperationKind
	Members []model.UserID // AddMembers, RemoveMembers

	// Attributes carries new chat attributes for Update. Nil stages a
	// key-only update.
	Attributes *model.ChatAttributes
}

// Role is a member's role in the room policy.
type Role string

const (
	RoleRegular  Role = "regular"
	RoleOutsider Role = "outsider"
)

// Staged is the result of staging an operation: the state holding the
// pending commit and the message to send to the remote service.
type Staged struct {
	State   State
	Message []byte
}

// MergeResult describes what merging a pending commit changed.
type MergeResult struct {
	State   State
	Added   []model.UserID
	Removed []model.UserID

	// Attributes is set when the commit carried new group data.
	Attributes *model.ChatAttributes
}

// Engine is the group engine used by the jobs.
type Engine interface {
	// Create starts a new group with creator as the only member. The staged
	// message is the group creation payload.
	Create(groupID model.GroupID, creator model.UserID, attrs model.ChatAttributes) (Staged, error)

	Members(state State) ([]model.UserID, error)
	IsActive(state State) (bool, error)

	// Stage computes the commit (or, for Leave, the proposal) for op without
	// applying it.
	Stage(state State, actor model.UserID, op Operation) (Staged, error)

	// MergePendingCommit applies the commit staged in state.
	MergePendingCommit(state State) (MergeResult, error)

	// ChangeRole changes target's role as performed by actor.
	ChangeRole(state State, actor, target model.UserID, role Role) (State, error)

	// Encrypt wraps plaintext into an application message for the group.
	Encrypt(state State, plaintext []byte) (State, []byte, error)

	// JoinExternal rejoins a group from the public state returned by the
	// remote service. The returned state already holds the new epoch; the
	// message is the external commit to submit.
	JoinExternal(groupID model.GroupID, self model.UserID, info []byte) (Staged, error)

	// GenerateKeyPackage creates a key package for other users to add this
	// client with.
	GenerateKeyPackage(lastResort bool) (store.KeyPackage, error)
}

var (
	// ErrInactive is returned for operations on a group this client is no
	// longer an active member of.
	ErrInactive = errors.New("group is inactive")

	// ErrNoPendingCommit is returned by MergePendingCommit when nothing is staged.
	ErrNoPendingCommit = errors.New("no pending commit")
)
