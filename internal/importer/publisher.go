package importer

import (
	"sync"
	"sync/atomic"
)

type ProgressEvent struct {
	JobID         string    `json:"jobId"`
	OwnerID       int64     `json:"-"`
	Progress      float64   `json:"progress"`
	ProcessedRows int       `json:"processedRows"`
	TotalRows     int       `json:"totalRows"`
	Status        JobStatus `json:"status"`
}

func eventFor(j Job) ProgressEvent {
	return ProgressEvent{
		JobID:         j.ID,
		OwnerID:       j.OwnerID,
		Progress:      j.Progress,
		ProcessedRows: j.ProcessedRows,
		TotalRows:     j.TotalRows,
		Status:        j.Status,
	}
}

// Notifier receives every job change.
type Notifier interface {
	Publish(ev ProgressEvent)
}

// Publisher fans progress events out to in-process subscribers. Slow
// subscribers lose intermediate events. A terminal event is never dropped for
// a full buffer: it evicts the oldest buffered event instead.
type Publisher struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Int64
}

type Subscription struct {
	id   uint64
	ch   chan ProgressEvent
	pub  *Publisher
	once sync.Once
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a listener with the given buffer size (minimum 1).
func (p *Publisher) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	s := &Subscription{id: p.nextID, ch: make(chan ProgressEvent, buffer), pub: p}
	p.subs[s.id] = s
	return s
}

func (s *Subscription) Events() <-chan ProgressEvent { return s.ch }

// Close unsubscribes and closes the event channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.pub.mu.Lock()
		delete(s.pub.subs, s.id)
		s.pub.mu.Unlock()
		close(s.ch)
	})
}

// Publish fans ev out to every subscriber. A nil Publisher drops the event.
func (p *Publisher) Publish(ev ProgressEvent) {
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.subs {
		if !s.deliver(ev) {
			p.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were not delivered to slow subscribers.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

func (s *Subscription) deliver(ev ProgressEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}
	if !ev.Status.Terminal() {
		return false
	}
	for i := 0; i <= cap(s.ch); i++ {
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- ev:
			return true
		default:
		}
	}
	return false
}
