// Package client ties the store, the outbound service, the event loop and
// job execution together into one session.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - inbound events are serialized by the event loop
//   - jobs run on the caller's goroutine with their own job.Context
package client

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/courier/internal/config"
	"github.com/roach88/courier/internal/eventloop"
	"github.com/roach88/courier/internal/group"
	"github.com/roach88/courier/internal/job"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/outbound"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

// InboundProcessor decrypts and stores messages received from the remote
// service. It is provided by the protocol layer.
type InboundProcessor interface {
	ProcessQueueMessage(ctx context.Context, msg eventloop.QueueMessage) error
	ProcessHandleMessage(ctx context.Context, handle eventloop.HandleID, msg eventloop.HandleMessage) (model.ChatID, error)
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces time.Now for the client and everything it drives.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithOutboundConfig tunes the outbound service.
func WithOutboundConfig(cfg outbound.Config) Option {
	return func(c *Client) { c.outboundCfg = cfg }
}

// WithConfig applies the outbound, queue and event loop sections of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) {
		c.outboundCfg = outbound.Config{
			TickInterval: cfg.Outbound.TickInterval,
			RemoteRPS:    cfg.Outbound.RemoteRPS,
			RemoteBurst:  cfg.Outbound.RemoteBurst,
			Lease:        cfg.Queue.Lease,
		}
		c.capacity = cfg.EventLoop.Capacity
	}
}

// WithEventLoopCapacity sets the buffer size of the event loop channels.
func WithEventLoopCapacity(n int) Option {
	return func(c *Client) { c.capacity = n }
}

// Client is one logged-in session.
type Client struct {
	self     model.UserID
	store    *store.Store
	notifier *store.Notifier
	clients  *remote.Clients
	engine   group.Engine
	inbound  InboundProcessor

	now         func() time.Time
	outboundCfg outbound.Config
	capacity    int

	outbound *outbound.Service
	loop     *eventloop.EventLoop
	sender   eventloop.Sender

	closed    atomic.Bool
	closeOnce sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc // set while running
}

// New creates a client for self. Nothing runs until Start.
func New(
	self model.UserID,
	s *store.Store,
	clients *remote.Clients,
	engine group.Engine,
	inbound InboundProcessor,
	opts ...Option,
) *Client {
	c := &Client{
		self:     self,
		store:    s,
		notifier: store.NewNotifier(),
		clients:  clients,
		engine:   engine,
		inbound:  inbound,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.outbound = outbound.New(c.outboundCfg, outbound.Deps{
		Store:    s,
		Notifier: c.notifier,
		Clients:  clients,
		Engine:   engine,
		Self:     self,
		Now:      c.now,
	})
	c.loop, c.sender = eventloop.New(c.capacity)
	return c
}

// Notifier publishes the changes of every committed transaction.
func (c *Client) Notifier() *store.Notifier { return c.notifier }

// Outbound returns the client's outbound service.
func (c *Client) Outbound() *outbound.Service { return c.outbound }

// Start schedules the first key package upload if none is scheduled, then
// runs the event loop and the outbound service in the background. Calling
// Start again, or after Close, only does the scheduling.
func (c *Client) Start(ctx context.Context) error {
	err := c.store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return queue.EnsureTask(ctx, tx, queue.KeyPackageUpload, c.now())
	})
	if err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.closed.Load() {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go func() {
		if err := c.loop.Run(loopCtx, sessionRef{c}); err != nil {
			slog.Warn("event loop stopped", "error", err)
		}
	}()
	c.outbound.Start()
	return nil
}

// Close stops the event loop and the outbound service and waits for both.
// The store stays open. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		cancel := c.cancel
		c.mu.Unlock()

		c.loop.Close()
		if cancel != nil {
			cancel()
			<-c.loop.Done()
		}
		c.outbound.Stop()
	})
}

// NotifyWork wakes the outbound service.
func (c *Client) NotifyWork() { c.outbound.NotifyWork() }

// ProcessQueueEvent hands an event of the queue listen stream to the event
// loop and waits for its result.
func (c *Client) ProcessQueueEvent(ctx context.Context, ev eventloop.QueueEvent) (eventloop.ProcessResult, error) {
	return c.sender.ProcessQueueEvent(ctx, ev)
}

// ProcessHandleMessage hands a handle-queue message to the event loop and
// waits for the chat it was processed into.
func (c *Client) ProcessHandleMessage(ctx context.Context, handle eventloop.HandleID, msg eventloop.HandleMessage) (model.ChatID, error) {
	return c.sender.ProcessHandleMessage(ctx, handle, msg)
}

// ReplaceListenResponder swaps the responder acking the listen stream.
func (c *Client) ReplaceListenResponder(ctx context.Context, r eventloop.ListenResponder) error {
	return c.sender.ReplaceListenResponder(ctx, r)
}

// EnqueueChatMessage queues a stored message for delivery. Returns false if
// its chat is blocked or the message is already queued.
func (c *Client) EnqueueChatMessage(ctx context.Context, messageID model.MessageID) (bool, error) {
	var enqueued bool
	err := c.store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		m, err := store.LoadMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		enqueued, err = queue.EnqueueChatMessage(ctx, tx, m.ChatID, messageID, c.now())
		return err
	})
	if err != nil {
		return false, fmt.Errorf("enqueue chat message: %w", err)
	}
	if enqueued {
		c.NotifyWork()
	}
	return enqueued, nil
}

// EnqueueReceipts queues delivery or read receipts for messages of a chat.
// Receipts for a blocked chat are dropped.
func (c *Client) EnqueueReceipts(ctx context.Context, chatID model.ChatID, receipts []queue.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	err := c.store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return queue.EnqueueReceipts(ctx, tx, chatID, receipts, c.now())
	})
	if err != nil {
		return fmt.Errorf("enqueue receipts: %w", err)
	}
	c.NotifyWork()
	return nil
}

// UpdatePushToken records the push registration to send. A nil token
// removes the registration.
func (c *Client) UpdatePushToken(ctx context.Context, token *queue.PushToken) error {
	var changed bool
	err := c.store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		changed, err = queue.SetPushToken(ctx, tx, token, c.now())
		return err
	})
	if err != nil {
		return fmt.Errorf("update push token: %w", err)
	}
	if changed {
		c.NotifyWork()
	}
	return nil
}

// ScheduleKeyPackageUpload moves the next key package upload to at.
func (c *Client) ScheduleKeyPackageUpload(ctx context.Context, at time.Time) error {
	err := c.store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return queue.SetDueDate(ctx, tx, queue.KeyPackageUpload, at)
	})
	if err != nil {
		return fmt.Errorf("schedule key package upload: %w", err)
	}
	c.NotifyWork()
	return nil
}

func (c *Client) jobContext() *job.Context {
	return &job.Context{
		Clients:  c.clients,
		Store:    c.store,
		Notifier: c.notifier,
		Engine:   c.engine,
		Self:     c.self,
		Now:      c.now,
	}
}

// ExecuteJob runs j with a fresh job context. The outbound service is woken
// afterwards so that anything the job left pending is retried.
func ExecuteJob[T any](ctx context.Context, c *Client, j job.Job[T]) (T, error) {
	defer c.NotifyWork()
	return job.Execute(ctx, c.jobContext(), j)
}

// CreateChat creates a chat with the local user as its only member.
func (c *Client) CreateChat(ctx context.Context, attrs model.ChatAttributes) (model.ChatID, error) {
	return ExecuteJob[model.ChatID](ctx, c, &job.CreateChat{Attributes: attrs})
}

func (c *Client) AddMembers(ctx context.Context, chatID model.ChatID, users ...model.UserID) ([]model.Message, error) {
	return ExecuteJob[[]model.Message](ctx, c, job.AddMembers(chatID, users...))
}

func (c *Client) RemoveMembers(ctx context.Context, chatID model.ChatID, users ...model.UserID) ([]model.Message, error) {
	return ExecuteJob[[]model.Message](ctx, c, job.RemoveMembers(chatID, users...))
}

func (c *Client) LeaveChat(ctx context.Context, chatID model.ChatID) ([]model.Message, error) {
	return ExecuteJob[[]model.Message](ctx, c, job.LeaveChat(chatID))
}

func (c *Client) DeleteChat(ctx context.Context, chatID model.ChatID) ([]model.Message, error) {
	return ExecuteJob[[]model.Message](ctx, c, job.DeleteChat(chatID))
}

// UpdateChat changes the chat attributes. Nil attrs only rotates keys.
func (c *Client) UpdateChat(ctx context.Context, chatID model.ChatID, attrs *model.ChatAttributes) ([]model.Message, error) {
	return ExecuteJob[[]model.Message](ctx, c, job.UpdateChat(chatID, attrs))
}
