package eventloop

import (
	"context"
	"fmt"
	"log/slog"
)

// QueueEventKind distinguishes events on the remote queue listen stream.
type QueueEventKind int

const (
	// EventMessage carries one queue message to accumulate.
	EventMessage QueueEventKind = iota + 1
	// EventEmpty marks the end of the currently available messages.
	EventEmpty
	// EventPayload carries an out-of-band payload this client ignores.
	EventPayload
)

// QueueMessage is one encrypted message fetched from the client's queue.
type QueueMessage struct {
	SequenceNumber uint64
	Ciphertext     []byte
}

// QueueEvent is one event from the listen stream. Message is set for
// EventMessage.
type QueueEvent struct {
	Kind    QueueEventKind
	Message *QueueMessage
	Payload []byte
}

// ResultKind is the outcome of processing one queue event.
type ResultKind int

const (
	Accumulated ResultKind = iota + 1
	Ignored
	FullyProcessed
	PartiallyProcessed
)

func (k ResultKind) String() string {
	switch k {
	case Accumulated:
		return "accumulated"
	case Ignored:
		return "ignored"
	case FullyProcessed:
		return "fully_processed"
	case PartiallyProcessed:
		return "partially_processed"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// ProcessResult reports what a queue event did. Processed and Dropped are
// set for the processed kinds.
type ProcessResult struct {
	Kind      ResultKind
	Processed int
	Dropped   int
}

// ListenResponder acknowledges queue messages on the live listen stream.
type ListenResponder interface {
	// Ack confirms every message with a sequence number below upTo.
	Ack(ctx context.Context, upTo uint64) error
}

// streamProcessor accumulates queue messages until the stream reports it
// is empty, then processes them as one batch. Owned by the loop goroutine.
type streamProcessor struct {
	responder ListenResponder
	pending   []QueueMessage
}

func (p *streamProcessor) process(ctx context.Context, ev QueueEvent, s Session) (ProcessResult, error) {
	switch ev.Kind {
	case EventMessage:
		if ev.Message == nil {
			slog.Warn("queue message event without message")
			return ProcessResult{Kind: Ignored}, nil
		}
		p.pending = append(p.pending, *ev.Message)
		return ProcessResult{Kind: Accumulated}, nil

	case EventEmpty:
		return p.flush(ctx, s)

	default:
		slog.Debug("ignoring queue event", "kind", ev.Kind)
		return ProcessResult{Kind: Ignored}, nil
	}
}

func (p *streamProcessor) flush(ctx context.Context, s Session) (ProcessResult, error) {
	batch := p.pending
	p.pending = nil

	var res ProcessResult
	if len(batch) > 0 {
		processed, dropped, err := s.ProcessQueueMessages(ctx, batch)
		if err != nil {
			// Not acked; the queue redelivers.
			return ProcessResult{}, fmt.Errorf("process %d queue messages: %w", len(batch), err)
		}
		res.Processed, res.Dropped = processed, dropped
		p.ack(ctx, batch)
	}

	// Receipts for the processed messages are scheduled by now.
	s.NotifyWork()

	res.Kind = FullyProcessed
	if res.Dropped > 0 {
		res.Kind = PartiallyProcessed
	}
	return res, nil
}

func (p *streamProcessor) ack(ctx context.Context, batch []QueueMessage) {
	var maxSeq uint64
	for _, m := range batch {
		maxSeq = max(maxSeq, m.SequenceNumber)
	}
	if p.responder == nil {
		slog.Error("no listen responder to ack queue messages", "up_to", maxSeq+1)
		return
	}
	if err := p.responder.Ack(ctx, maxSeq+1); err != nil {
		slog.Error("failed to ack queue messages", "up_to", maxSeq+1, "error", err)
	}
}
