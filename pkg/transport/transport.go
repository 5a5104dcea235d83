// Package transport defines the boundary between the viewer core and the
// external data channel that actually moves bytes (spec.md §6 "Boundary
// with the transport"). The real production boundary is a WebRTC data
// channel and its signaling/secure-handshake machinery — both explicitly
// out of scope (spec.md §1) — so this package only needs to express the
// *contract* plus a reference implementation good enough to develop and
// demo against: a plain WebSocket, which is what the bundled demo host/
// client use in place of the real WebRTC stack.
package transport

import "errors"

// EventKind tags a Transport event.
type EventKind string

const (
	EventFrame  EventKind = "frame"
	EventStatus EventKind = "status"
	EventSecure EventKind = "secure"
	EventOpen   EventKind = "open"
	EventClose  EventKind = "close"
	EventError  EventKind = "error"
)

// SecureTransportSummary mirrors the result of the (out-of-scope) secure
// transport handshake; the core only ever displays it, never negotiates it.
type SecureTransportSummary struct {
	Protocol string
	Verified bool
}

// Event is the payload delivered to a Listener. Exactly one of the typed
// fields is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	Frame  []byte
	Status string
	Secure SecureTransportSummary
	Err    error
}

// Listener receives Transport events.
type Listener func(Event)

// ErrClosed is returned by Send/SendText when the transport is not open.
var ErrClosed = errors.New("transport: not open")

// Transport is the external collaborator spec.md §6 describes: an
// already-established, ordered, lossless channel (WebRTC data channel in
// production). The core talks to it only through this interface.
type Transport interface {
	// Send transmits one binary viewer frame (spec.md §6 outbound frames).
	Send(frame []byte) error
	// SendText transmits a plain-text message; used once for the
	// "__ready__" sentinel (spec.md §6).
	SendText(s string) error
	// IsOpen reports whether Send/SendText would currently succeed.
	IsOpen() bool
	// AddEventListener registers fn for kind and returns a function that
	// removes it.
	AddEventListener(kind EventKind, fn Listener) (remove func())
	// Close tears the transport down; triggers an EventClose if not
	// already closed.
	Close() error
}

// Emitter is a small reusable fan-out helper transport implementations
// embed to manage their listener sets.
type Emitter struct {
	listeners map[EventKind][]Listener
	nextID    int
	ids       map[EventKind]map[int]Listener
}

// NewEmitter constructs an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{ids: make(map[EventKind]map[int]Listener)}
}

// AddEventListener registers fn for kind and returns a remove closure.
func (e *Emitter) AddEventListener(kind EventKind, fn Listener) (remove func()) {
	if e.ids[kind] == nil {
		e.ids[kind] = make(map[int]Listener)
	}
	id := e.nextID
	e.nextID++
	e.ids[kind][id] = fn
	return func() {
		delete(e.ids[kind], id)
	}
}

// Emit fan-outs ev to every listener registered for ev.Kind.
func (e *Emitter) Emit(ev Event) {
	for _, fn := range e.ids[ev.Kind] {
		fn(ev)
	}
}
