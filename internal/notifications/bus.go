package notifications

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

const DefaultHistorySize = 1024

var (
	ErrSubscriberLagged  = errors.New("subscriber fell behind retained events")
	ErrReplayUnavailable = errors.New("requested events are not retained")
)

// Envelope is a published marketplace event
type Envelope struct {
	ID    string
	Seq   uint64
	Time  time.Time
	Event rental.Event
}

// Bus fans out marketplace events to subscribers. Notify never blocks: events are
// appended to a bounded history and every subscriber reads it at its own cursor.
// A subscriber whose next event was evicted is closed with ErrSubscriberLagged,
// events are never skipped silently
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	history *deque.Deque[Envelope]
	subs    map[string]*Subscription
	closed  atomic.Bool
	retain  int
	now     func() time.Time
	log     interfaces.ILogger
}

func NewBus(retain int, log interfaces.ILogger) *Bus {
	if retain <= 0 {
		retain = DefaultHistorySize
	}
	return &Bus{
		history: deque.New[Envelope](),
		subs:    make(map[string]*Subscription),
		retain:  retain,
		now:     time.Now,
		log:     log,
	}
}

func (b *Bus) Notify(event rental.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.history.PushBack(Envelope{
		ID:    uuid.NewString(),
		Seq:   b.seq,
		Time:  b.now().UTC(),
		Event: event,
	})
	if b.history.Len() > b.retain {
		b.history.PopFront()
	}
	for _, sub := range b.subs {
		sub.wake()
	}
}

// Subscribe delivers events published after the call
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(b.seq + 1)
}

// SubscribeFrom delivers retained events with a sequence number above afterSeq and
// everything published later. It fails with ErrReplayUnavailable if some of those
// events were already evicted or afterSeq was never published
func (b *Bus) SubscribeFrom(afterSeq uint64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldest := b.oldestLocked()
	if afterSeq > b.seq || afterSeq+1 < oldest {
		return nil, lib.WrapError(ErrReplayUnavailable, fmt.Errorf("resume after %d, retained %d..%d", afterSeq, oldest, b.seq))
	}
	return b.addLocked(afterSeq + 1), nil
}

func (b *Bus) addLocked(cursor uint64) *Subscription {
	sub := newSubscription(uuid.NewString(), b, cursor)
	go sub.pump()

	if b.closed.Load() {
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	sub.wake()

	b.log.Debugf("subscriber %s added at %d", sub.id, cursor)
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	b.remove(sub)
	sub.close()
	b.log.Debugf("subscriber %s removed", sub.id)
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// LastSeq is the sequence number of the latest published event
func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Close removes all subscribers, later events are discarded
func (b *Bus) Close() {
	if !b.closed.CAS(false, true) {
		return
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
}

// next returns the event with the given sequence number, ok is false if it is not published yet
func (b *Bus) next(seq uint64) (env Envelope, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq > b.seq {
		return Envelope{}, false, nil
	}
	oldest := b.oldestLocked()
	if seq < oldest {
		return Envelope{}, false, lib.WrapError(ErrSubscriberLagged, fmt.Errorf("next event %d, oldest retained %d", seq, oldest))
	}
	return b.history.At(int(seq - oldest)), true, nil
}

func (b *Bus) oldestLocked() uint64 {
	if b.history.Len() == 0 {
		return b.seq + 1
	}
	return b.history.Front().Seq
}

var _ rental.Notifier = (*Bus)(nil)

type Subscription struct {
	id     string
	bus    *Bus
	cursor uint64 // owned by pump
	signal chan struct{}
	out    chan Envelope
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func newSubscription(id string, bus *Bus, cursor uint64) *Subscription {
	return &Subscription{
		id:     id,
		bus:    bus,
		cursor: cursor,
		signal: make(chan struct{}, 1),
		out:    make(chan Envelope),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) ID() string {
	return s.id
}

// Events is closed after the subscription is removed or lagged, see Err
func (s *Subscription) Events() <-chan Envelope {
	return s.out
}

// Err is ErrSubscriberLagged if the subscription was closed because it fell behind
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		env, ok, err := s.bus.next(s.cursor)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()

			s.bus.remove(s)
			s.close()
			s.bus.log.Warnf("subscriber %s disconnected: %s", s.id, err)
			return
		}
		if !ok {
			select {
			case <-s.done:
				return
			case <-s.signal:
			}
			continue
		}

		select {
		case s.out <- env:
			s.cursor++
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.done)
	})
}
