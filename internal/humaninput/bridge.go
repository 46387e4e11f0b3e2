// Package humaninput is the rendezvous between a running task and the operator who
// answers its questions. At most one question is outstanding at a time.
package humaninput

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy is returned by Ask while another question is pending.
	ErrBusy = errors.New("humaninput: another question is pending")
	// ErrNoPending is returned by Answer when nothing is waiting.
	ErrNoPending = errors.New("humaninput: no question is pending")
	// ErrStaleQuestion is returned by Answer when the id names an older question.
	ErrStaleQuestion = errors.New("humaninput: question id does not match the pending question")
	// ErrInvalidChoice is returned by Answer when the text matches none of the options.
	ErrInvalidChoice = errors.New("humaninput: answer is not one of the options")
	// ErrCancelled is returned by Ask when the wait timed out.
	ErrCancelled = errors.New("humaninput: question cancelled")
)

// Question is the outbound event.
type Question struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Options []string  `json:"options,omitempty"`
	AskedAt time.Time `json:"asked_at"`
}

// EventKind distinguishes subscriber events.
type EventKind string

const (
	EventAsked    EventKind = "asked"
	EventAnswered EventKind = "answered"
	EventExpired  EventKind = "expired"
)

// Event is delivered to subscribers.
type Event struct {
	Kind     EventKind `json:"kind"`
	Question Question  `json:"question"`
	Answer   string    `json:"answer,omitempty"`
}

type pending struct {
	q      Question
	answer chan string
}

// Bridge implements engine.Asker. The zero value is not usable; call NewBridge.
type Bridge struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	current *pending
	subs    map[int]chan Event
	nextSub int
}

// NewBridge creates a bridge. A zero timeout waits until ctx is done.
func NewBridge(timeout time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{timeout: timeout, logger: logger, subs: make(map[int]chan Event)}
}

// Ask publishes the question and blocks until Answer, the timeout, or ctx ends.
func (b *Bridge) Ask(ctx context.Context, text string, options []string) (string, error) {
	p := &pending{
		q: Question{
			ID:      uuid.NewString(),
			Text:    text,
			Options: slices.Clone(options),
			AskedAt: time.Now(),
		},
		answer: make(chan string, 1),
	}

	b.mu.Lock()
	if b.current != nil {
		b.mu.Unlock()
		return "", ErrBusy
	}
	b.current = p
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "waiting for operator", "question_id", p.q.ID, "options", len(options))
	b.publish(Event{Kind: EventAsked, Question: p.q})

	var expired <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ans := <-p.answer:
		return ans, nil
	case <-expired:
		b.clear(p)
		b.logger.WarnContext(ctx, "operator did not answer", "question_id", p.q.ID, "timeout", b.timeout)
		b.publish(Event{Kind: EventExpired, Question: p.q})
		return "", ErrCancelled
	case <-ctx.Done():
		b.clear(p)
		b.publish(Event{Kind: EventExpired, Question: p.q})
		return "", ctx.Err()
	}
}

// Answer resolves the pending question. An empty id answers whatever is pending. When the
// question has options, the answer must be one of them or its 1-based index.
func (b *Bridge) Answer(id, answer string) error {
	b.mu.Lock()
	p := b.current
	if p == nil {
		b.mu.Unlock()
		return ErrNoPending
	}
	if id != "" && id != p.q.ID {
		b.mu.Unlock()
		return ErrStaleQuestion
	}
	resolved, ok := matchOption(p.q.Options, answer)
	if !ok {
		b.mu.Unlock()
		return ErrInvalidChoice
	}
	b.current = nil
	b.mu.Unlock()

	p.answer <- resolved
	b.publish(Event{Kind: EventAnswered, Question: p.q, Answer: resolved})
	return nil
}

// Pending returns the outstanding question, if any.
func (b *Bridge) Pending() (Question, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Question{}, false
	}
	return b.current.q, true
}

// Subscribe returns a channel of events and a function that ends the subscription.
// Slow subscribers miss events rather than blocking the loop.
func (b *Bridge) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bridge) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bridge) clear(p *pending) {
	b.mu.Lock()
	if b.current == p {
		b.current = nil
	}
	b.mu.Unlock()
}

func matchOption(options []string, answer string) (string, bool) {
	if len(options) == 0 {
		return answer, true
	}
	for _, opt := range options {
		if opt == answer {
			return opt, true
		}
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	return "", false
}
