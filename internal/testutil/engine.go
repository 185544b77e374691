package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/courier/internal/group"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/store"
)

// FakeGroup is the decoded state kept by FakeEngine.
type FakeGroup struct {
	ID         model.GroupID               `json:"id"`
	Members    []model.UserID              `json:"members"`
	Attributes model.ChatAttributes        `json:"attributes"`
	Active     bool                        `json:"active"`
	Epoch      int                         `json:"epoch"`
	Roles      map[model.UserID]group.Role `json:"roles,omitempty"`
	Pending    *FakeCommit                 `json:"pending,omitempty"`
}

// FakeCommit is a staged operation.
type FakeCommit struct {
	Actor      model.UserID          `json:"actor"`
	Kind       group.OperationKind   `json:"kind"`
	Members    []model.UserID        `json:"members,omitempty"`
	Attributes *model.ChatAttributes `json:"attributes,omitempty"`
	Epoch      int                   `json:"epoch"`
}

// FakeEngine is a group.Engine over plain JSON state. Commits apply
// membership and attribute changes literally; there is no cryptography.
type FakeEngine struct {
	mu    sync.Mutex
	kpSeq int

	// StageErr, if set, is returned by every Stage call.
	StageErr error
}

var _ group.Engine = (*FakeEngine)(nil)

// NewFakeEngine creates an engine with no injected failures.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

// Decode parses state produced by the engine.
func (e *FakeEngine) Decode(state group.State) (*FakeGroup, error) {
	var g FakeGroup
	if err := json.Unmarshal(state, &g); err != nil {
		return nil, fmt.Errorf("decode fake group: %w", err)
	}
	return &g, nil
}

func (e *FakeEngine) encode(g *FakeGroup) (group.State, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode fake group: %w", err)
	}
	return data, nil
}

// Join adds users to the group without a commit. Test setup only.
func (e *FakeEngine) Join(state group.State, users ...model.UserID) (group.State, error) {
	g, err := e.Decode(state)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if !slices.Contains(g.Members, u) {
			g.Members = append(g.Members, u)
		}
	}
	return e.encode(g)
}

func (e *FakeEngine) Create(groupID model.GroupID, creator model.UserID, attrs model.ChatAttributes) (group.Staged, error) {
	g := &FakeGroup{
		ID:         groupID,
		Members:    []model.UserID{creator},
		Attributes: attrs,
		Active:     true,
	}
	state, err := e.encode(g)
	if err != nil {
		return group.Staged{}, err
	}
	return group.Staged{State: state, Message: state}, nil
}

func (e *FakeEngine) Members(state group.State) ([]model.UserID, error) {
	g, err := e.Decode(state)
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

func (e *FakeEngine) IsActive(state group.State) (bool, error) {
	g, err := e.Decode(state)
	if err != nil {
		return false, err
	}
	return g.Active, nil
}

func (e *FakeEngine) Stage(state group.State, actor model.UserID, op group.Operation) (group.Staged, error) {
	if e.StageErr != nil {
		return group.Staged{}, e.StageErr
	}
	g, err := e.Decode(state)
	if err != nil {
		return group.Staged{}, err
	}
	if !g.Active {
		return group.Staged{}, group.ErrInactive
	}

	switch op.Kind {
	case group.AddMembers:
		for _, m := range op.Members {
			if slices.Contains(g.Members, m) {
				return group.Staged{}, fmt.Errorf("stage add: %s is already a member", m)
			}
		}
	case group.RemoveMembers:
		for _, m := range op.Members {
			if !slices.Contains(g.Members, m) {
				return group.Staged{}, fmt.Errorf("stage remove: %s is not a member", m)
			}
		}
	case group.Leave:
		// Proposal only; nothing to merge later.
		proposal, err := json.Marshal(FakeCommit{Actor: actor, Kind: group.Leave, Epoch: g.Epoch})
		if err != nil {
			return group.Staged{}, err
		}
		return group.Staged{State: state, Message: proposal}, nil
	case group.Delete, group.Update:
	default:
		return group.Staged{}, fmt.Errorf("stage: unknown operation %q", op.Kind)
	}

	g.Pending = &FakeCommit{
		Actor:      actor,
		Kind:       op.Kind,
		Members:    op.Members,
		Attributes: op.Attributes,
		Epoch:      g.Epoch,
	}
	commit, err := json.Marshal(g.Pending)
	if err != nil {
		return group.Staged{}, err
	}
	staged, err := e.encode(g)
	if err != nil {
		return group.Staged{}, err
	}
	return group.Staged{State: staged, Message: commit}, nil
}

func (e *FakeEngine) MergePendingCommit(state group.State) (group.MergeResult, error) {
	g, err := e.Decode(state)
	if err != nil {
		return group.MergeResult{}, err
	}
	if g.Pending == nil {
		return group.MergeResult{}, group.ErrNoPendingCommit
	}

	var result group.MergeResult
	p := g.Pending
	switch p.Kind {
	case group.AddMembers:
		g.Members = append(g.Members, p.Members...)
		result.Added = p.Members
	case group.RemoveMembers:
		g.Members = slices.DeleteFunc(g.Members, func(m model.UserID) bool {
			return slices.Contains(p.Members, m)
		})
		result.Removed = p.Members
	case group.Delete:
		g.Active = false
	case group.Update:
		if p.Attributes != nil {
			g.Attributes = *p.Attributes
			attrs := *p.Attributes
			result.Attributes = &attrs
		}
	}
	g.Epoch++
	g.Pending = nil

	if result.State, err = e.encode(g); err != nil {
		return group.MergeResult{}, err
	}
	return result, nil
}

func (e *FakeEngine) ChangeRole(state group.State, actor, target model.UserID, role group.Role) (group.State, error) {
	g, err := e.Decode(state)
	if err != nil {
		return nil, err
	}
	if g.Roles == nil {
		g.Roles = make(map[model.UserID]group.Role)
	}
	g.Roles[target] = role
	return e.encode(g)
}

func (e *FakeEngine) Encrypt(state group.State, plaintext []byte) (group.State, []byte, error) {
	g, err := e.Decode(state)
	if err != nil {
		return nil, nil, err
	}
	if !g.Active {
		return nil, nil, group.ErrInactive
	}
	return state, append([]byte("enc:"), plaintext...), nil
}

// ExternalJoin is the operation kind of a commit made by JoinExternal.
const ExternalJoin group.OperationKind = "external_join"

// JoinExternal treats info as the remote's FakeGroup state.
func (e *FakeEngine) JoinExternal(groupID model.GroupID, self model.UserID, info []byte) (group.Staged, error) {
	g, err := e.Decode(info)
	if err != nil {
		return group.Staged{}, err
	}
	if g.ID != groupID {
		return group.Staged{}, fmt.Errorf("join external: info is for %s, not %s", g.ID, groupID)
	}
	if !g.Active {
		return group.Staged{}, group.ErrInactive
	}

	commit, err := json.Marshal(FakeCommit{Actor: self, Kind: ExternalJoin, Epoch: g.Epoch})
	if err != nil {
		return group.Staged{}, err
	}
	if !slices.Contains(g.Members, self) {
		g.Members = append(g.Members, self)
	}
	g.Epoch++
	g.Pending = nil
	state, err := e.encode(g)
	if err != nil {
		return group.Staged{}, err
	}
	return group.Staged{State: state, Message: commit}, nil
}

func (e *FakeEngine) GenerateKeyPackage(lastResort bool) (store.KeyPackage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kpSeq++
	return store.KeyPackage{
		ID:         fmt.Sprintf("kp-%04d", e.kpSeq),
		Data:       []byte(fmt.Sprintf("key-package-%d", e.kpSeq)),
		LastResort: lastResort,
	}, nil
}

// ErrInjected is a generic failure for tests that only need "some error".
var ErrInjected = errors.New("injected failure")
