package generation

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/models"
)

// ErrReporterClosed is returned when publishing after the terminal event.
var ErrReporterClosed = errors.New("reporter closed")

const (
	defaultReplayEvents     = 50
	defaultSubscriberBuffer = 64
)

// Reporter fans progress events of one run out to live subscribers.
//
// Publish never blocks: a subscriber whose buffer is full is dropped and its
// channel closed. Events receive strictly increasing sequence numbers and
// every subscriber sees them in that order. A new subscriber first receives
// the most recent events kept in the replay backlog.
type Reporter struct {
	runID  string
	logger *slog.Logger

	mu          sync.Mutex
	seq         int64
	backlog     []models.ProgressEvent
	backlogSize int
	bufferSize  int
	subs        map[*Subscription]struct{}
	closed      bool
}

// Subscription is one attached observer. C is closed when the run ends,
// when the subscriber is dropped for being too slow, or on Close.
type Subscription struct {
	C <-chan models.ProgressEvent

	ch      chan models.ProgressEvent
	r       *Reporter
	dropped atomic.Bool
}

// Dropped reports whether the subscription was cut off for falling behind.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, ok := s.r.subs[s]; ok {
		delete(s.r.subs, s)
		close(s.ch)
	}
}

// NewReporter creates a reporter for runID. backlog is the number of recent
// events replayed to new subscribers, buffer the live slack per subscriber.
func NewReporter(runID string, backlog, buffer int, logger *slog.Logger) *Reporter {
	if backlog < 0 {
		backlog = defaultReplayEvents
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		runID:       runID,
		logger:      logger,
		backlogSize: backlog,
		bufferSize:  buffer,
		subs:        make(map[*Subscription]struct{}),
	}
}

// Publish stamps ev with the next sequence number, records it in the backlog
// and delivers it to every subscriber. Publishing a terminal event closes
// the reporter.
func (r *Reporter) Publish(ev models.ProgressEvent) (models.ProgressEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ev, ErrReporterClosed
	}

	r.seq++
	ev.Seq = r.seq
	ev.RunID = r.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if r.backlogSize > 0 {
		r.backlog = append(r.backlog, ev)
		if len(r.backlog) > r.backlogSize {
			r.backlog = r.backlog[len(r.backlog)-r.backlogSize:]
		}
	}

	for sub := range r.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Store(true)
			delete(r.subs, sub)
			close(sub.ch)
			r.logger.Warn("dropping slow progress subscriber", "run_id", r.runID, "seq", ev.Seq)
		}
	}

	if ev.Type.Terminal() {
		r.closeLocked()
	}
	return ev, nil
}

// Subscribe attaches a subscriber with the default live buffer.
func (r *Reporter) Subscribe() *Subscription {
	return r.SubscribeWithBuffer(r.bufferSize)
}

// SubscribeWithBuffer attaches a subscriber that can fall buffer events
// behind before being dropped. The backlog is delivered first. Subscribing
// to a closed reporter yields the backlog followed by a closed channel.
func (r *Reporter) SubscribeWithBuffer(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = r.bufferSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan models.ProgressEvent, len(r.backlog)+buffer)
	for _, ev := range r.backlog {
		ch <- ev
	}

	sub := &Subscription{C: ch, ch: ch, r: r}
	if r.closed {
		close(ch)
		return sub
	}
	r.subs[sub] = struct{}{}
	return sub
}

// Recent returns a copy of the replay backlog in publication order.
func (r *Reporter) Recent() []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ProgressEvent, len(r.backlog))
	copy(out, r.backlog)
	return out
}

// LastSeq returns the sequence number of the most recent event.
func (r *Reporter) LastSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Close detaches every subscriber and rejects further events.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Reporter) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	for sub := range r.subs {
		delete(r.subs, sub)
		close(sub.ch)
	}
}
