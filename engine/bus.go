package engine

import "sync"

// Subscription is a handle to a registered listener.
type Subscription interface {
	// Cancel detaches the listener. It is safe to call more than once.
	Cancel()
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

// SubscriptionFunc adapts a function to a Subscription.
func SubscriptionFunc(fn func()) Subscription {
	return &subscription{cancel: fn}
}

type regListener struct {
	id      uint64
	account string
	fn      func(RegistrationEvent)
}

type callListener struct {
	id uint64
	fn func(CallStateEvent)
}

type endListener struct {
	id uint64
	fn func()
}

// Bus fans engine events out to subscribers in subscription order.
// Listeners run on the publisher's goroutine and must not block or call
// back into the engine.
type Bus struct {
	mu        sync.RWMutex
	next      uint64
	reg       []regListener
	calls     []callListener
	lastEnded []endListener
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeRegistration registers fn for events of acc only. A nil acc
// receives events for every account.
func (b *Bus) SubscribeRegistration(acc Account, fn func(RegistrationEvent)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	l := regListener{id: id, fn: fn}
	if acc != nil {
		l.account = acc.ID()
	}
	b.reg = append(b.reg, l)
	return SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, r := range b.reg {
			if r.id == id {
				b.reg = append(b.reg[:i:i], b.reg[i+1:]...)
				return
			}
		}
	})
}

// SubscribeCallState registers fn for every call state transition.
func (b *Bus) SubscribeCallState(fn func(CallStateEvent)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.calls = append(b.calls, callListener{id: id, fn: fn})
	return SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.calls {
			if c.id == id {
				b.calls = append(b.calls[:i:i], b.calls[i+1:]...)
				return
			}
		}
	})
}

// SubscribeLastCallEnded registers fn for the "no calls left" signal.
func (b *Bus) SubscribeLastCallEnded(fn func()) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.lastEnded = append(b.lastEnded, endListener{id: id, fn: fn})
	return SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.lastEnded {
			if e.id == id {
				b.lastEnded = append(b.lastEnded[:i:i], b.lastEnded[i+1:]...)
				return
			}
		}
	})
}

// PublishRegistration delivers ev to listeners scoped to its account.
func (b *Bus) PublishRegistration(ev RegistrationEvent) {
	b.mu.RLock()
	listeners := make([]regListener, len(b.reg))
	copy(listeners, b.reg)
	b.mu.RUnlock()

	id := ""
	if ev.Account != nil {
		id = ev.Account.ID()
	}
	for _, l := range listeners {
		if l.account == "" || l.account == id {
			l.fn(ev)
		}
	}
}

// PublishCallState delivers ev to every call state listener.
func (b *Bus) PublishCallState(ev CallStateEvent) {
	b.mu.RLock()
	listeners := make([]callListener, len(b.calls))
	copy(listeners, b.calls)
	b.mu.RUnlock()

	for _, l := range listeners {
		l.fn(ev)
	}
}

// PublishLastCallEnded notifies that the engine has no calls left.
func (b *Bus) PublishLastCallEnded() {
	b.mu.RLock()
	listeners := make([]endListener, len(b.lastEnded))
	copy(listeners, b.lastEnded)
	b.mu.RUnlock()

	for _, l := range listeners {
		l.fn()
	}
}
