package boxedit

import "sync"

// Button numbering matches the DOM MouseEvent.button property
type Button int

const (
	ButtonPrimary   Button = 0
	ButtonMiddle    Button = 1
	ButtonSecondary Button = 2
)

// Pointer is the minimal view of a pointer event that the editor needs
type Pointer struct {
	ClientX float32 `json:"clientX"`
	ClientY float32 `json:"clientY"`
	Button  Button  `json:"button"`
}

type GlobalEventKind int

const (
	GlobalMove GlobalEventKind = iota
	GlobalUp
)

// GlobalEvent is a pointer event observed anywhere in the host window, not just over the surface
type GlobalEvent struct {
	Kind    GlobalEventKind
	Pointer Pointer
}

// Subscription is released when the listener is no longer needed
type Subscription interface {
	Release()
}

// PointerTracker delivers window-wide pointer events.
// The editor subscribes only while a drag is in progress, so that a pointer
// which leaves the surface mid-drag cannot leave the editor stuck in a drag mode.
type PointerTracker interface {
	Subscribe(fn func(ev GlobalEvent)) Subscription
}

// GlobalPointer is an in-process PointerTracker. The host feeds it with Dispatch.
type GlobalPointer struct {
	lock sync.Mutex
	next int
	subs map[int]func(ev GlobalEvent)
}

func NewGlobalPointer() *GlobalPointer {
	return &GlobalPointer{
		subs: map[int]func(ev GlobalEvent){},
	}
}

type globalSubscription struct {
	owner *GlobalPointer
	id    int
}

func (s *globalSubscription) Release() {
	s.owner.lock.Lock()
	delete(s.owner.subs, s.id)
	s.owner.lock.Unlock()
}

func (g *GlobalPointer) Subscribe(fn func(ev GlobalEvent)) Subscription {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.next++
	g.subs[g.next] = fn
	return &globalSubscription{owner: g, id: g.next}
}

// Dispatch delivers ev to every current subscriber.
// Handlers are invoked outside of our lock, so they may release their own subscription.
func (g *GlobalPointer) Dispatch(ev GlobalEvent) {
	g.lock.Lock()
	handlers := make([]func(ev GlobalEvent), 0, len(g.subs))
	for _, fn := range g.subs {
		handlers = append(handlers, fn)
	}
	g.lock.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (g *GlobalPointer) NumSubscribers() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return len(g.subs)
}
