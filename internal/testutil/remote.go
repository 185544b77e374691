package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

// Remote method names recorded by FakeRemote.
const (
	MethodRequestGroupID     = "RequestGroupID"
	MethodCreateGroup        = "CreateGroup"
	MethodSendMessage        = "SendMessage"
	MethodGroupOperation     = "GroupOperation"
	MethodSelfRemove         = "SelfRemove"
	MethodDeleteGroup        = "DeleteGroup"
	MethodUpdateClient       = "UpdateClient"
	MethodPublishKeyPackages = "PublishKeyPackages"
	MethodExternalCommitInfo = "ExternalCommitInfo"
	MethodResync             = "Resync"
)

// RemoteCall is one recorded call.
type RemoteCall struct {
	Method  string
	GroupID model.GroupID
	Payload []byte
}

// FakeRemote is an in-memory remote.Client. Calls succeed and return the
// clock's current time unless a failure was queued with FailNext.
type FakeRemote struct {
	mu        sync.Mutex
	domain    string
	now       func() time.Time
	calls     []RemoteCall
	failures  map[string][]error
	groupSeq  int
	published []store.KeyPackage
	token     *queue.PushToken
	infos     map[model.GroupID][]byte

	// Hook, if set, runs inside every call after it is recorded.
	Hook func(method string)
}

var _ remote.Client = (*FakeRemote)(nil)

// NewFakeRemote creates a fake serving domain. now stamps responses.
func NewFakeRemote(domain string, now func() time.Time) *FakeRemote {
	return &FakeRemote{
		domain:   domain,
		now:      now,
		failures: make(map[string][]error),
		infos:    make(map[model.GroupID][]byte),
	}
}

// SetGroupInfo sets what ExternalCommitInfo returns for groupID.
func (f *FakeRemote) SetGroupInfo(groupID model.GroupID, info []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[groupID] = info
}

// FailNext makes the next calls of method fail with errs, in order.
func (f *FakeRemote) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

// Calls returns the recorded calls of method, or all calls if method is "".
func (f *FakeRemote) Calls(method string) []RemoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RemoteCall
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times method was called.
func (f *FakeRemote) CallCount(method string) int {
	return len(f.Calls(method))
}

// Published returns the key packages accepted by PublishKeyPackages.
func (f *FakeRemote) Published() []store.KeyPackage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published
}

// PushToken returns the last token accepted by UpdateClient.
func (f *FakeRemote) PushToken() *queue.PushToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *FakeRemote) record(method string, groupID model.GroupID, payload []byte) error {
	f.mu.Lock()
	f.calls = append(f.calls, RemoteCall{Method: method, GroupID: groupID, Payload: payload})
	var err error
	if q := f.failures[method]; len(q) > 0 {
		err = q[0]
		f.failures[method] = q[1:]
	}
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		hook(method)
	}
	return err
}

func (f *FakeRemote) RequestGroupID(ctx context.Context) (model.GroupID, error) {
	if err := f.record(MethodRequestGroupID, "", nil); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupSeq++
	return model.GroupID(fmt.Sprintf("group-%04d@%s", f.groupSeq, f.domain)), nil
}

func (f *FakeRemote) CreateGroup(ctx context.Context, groupID model.GroupID, payload []byte) error {
	return f.record(MethodCreateGroup, groupID, payload)
}

func (f *FakeRemote) SendMessage(ctx context.Context, groupID model.GroupID, ciphertext []byte) (time.Time, error) {
	return f.stamped(MethodSendMessage, groupID, ciphertext)
}

func (f *FakeRemote) GroupOperation(ctx context.Context, groupID model.GroupID, commit []byte) (time.Time, error) {
	return f.stamped(MethodGroupOperation, groupID, commit)
}

func (f *FakeRemote) SelfRemove(ctx context.Context, groupID model.GroupID, proposal []byte) (time.Time, error) {
	return f.stamped(MethodSelfRemove, groupID, proposal)
}

func (f *FakeRemote) DeleteGroup(ctx context.Context, groupID model.GroupID, commit []byte) (time.Time, error) {
	return f.stamped(MethodDeleteGroup, groupID, commit)
}

func (f *FakeRemote) UpdateClient(ctx context.Context, token *queue.PushToken) error {
	if err := f.record(MethodUpdateClient, "", nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	return nil
}

func (f *FakeRemote) PublishKeyPackages(ctx context.Context, kps []store.KeyPackage) error {
	if err := f.record(MethodPublishKeyPackages, "", nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, kps...)
	return nil
}

func (f *FakeRemote) ExternalCommitInfo(ctx context.Context, groupID model.GroupID) ([]byte, error) {
	if err := f.record(MethodExternalCommitInfo, groupID, nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[groupID]
	if !ok {
		return nil, fmt.Errorf("no group info for %s", groupID)
	}
	return info, nil
}

func (f *FakeRemote) Resync(ctx context.Context, groupID model.GroupID, commit []byte) (time.Time, error) {
	return f.stamped(MethodResync, groupID, commit)
}

func (f *FakeRemote) stamped(method string, groupID model.GroupID, payload []byte) (time.Time, error) {
	if err := f.record(method, groupID, payload); err != nil {
		return time.Time{}, err
	}
	return f.now(), nil
}
