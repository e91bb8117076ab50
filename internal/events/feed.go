package events

import "sync"

const subscriberBuffer = 16

// Feed fans normalized events out to in-process subscribers (the live
// websocket handler). Sends never block: a subscriber that falls behind
// loses events, not the event loop.
type Feed struct {
	mu   sync.Mutex
	subs map[chan *Envelope]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan *Envelope]struct{})}
}

// Subscribe returns a buffered channel of future events.
func (f *Feed) Subscribe() chan *Envelope {
	ch := make(chan *Envelope, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (f *Feed) Unsubscribe(ch chan *Envelope) {
	f.mu.Lock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
}

// Publish delivers env to every subscriber with room in its buffer.
func (f *Feed) Publish(env *Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- env:
		default:
		}
	}
}
