package relay

import (
	"errors"
	"sync"

	"github.com/hupe1980/extreload/internal/protocol"
)

// PortName is the connection name pages use. Connections with any other
// name belong to the extension itself and are ignored by the relay.
const PortName = "WebExtensionPlugin"

// ErrDisconnected is returned when posting to a closed port.
var ErrDisconnected = errors.New("port disconnected")

// Port is one end of a page connection. Disconnect observers fire when the
// other end goes away.
type Port interface {
	Name() string
	Post(msg protocol.Message) error
	OnMessage(fn func(protocol.Message))
	OnDisconnect(fn func())
	Disconnect()
}

// PipePort is an in-process Port. Messages posted on one end are delivered
// synchronously to the handlers of the other end.
type PipePort struct {
	name string
	peer *PipePort
	link *pipeLink

	mu     sync.Mutex
	onMsg  []func(protocol.Message)
	onDisc []func()
}

type pipeLink struct {
	mu     sync.Mutex
	closed bool
}

// Pipe returns two connected ports sharing name.
func Pipe(name string) (*PipePort, *PipePort) {
	link := &pipeLink{}
	a := &PipePort{name: name, link: link}
	b := &PipePort{name: name, link: link}
	a.peer, b.peer = b, a

	return a, b
}

// Name returns the connection name.
func (p *PipePort) Name() string { return p.name }

// Post delivers msg to the peer's message handlers.
func (p *PipePort) Post(msg protocol.Message) error {
	p.link.mu.Lock()
	closed := p.link.closed
	p.link.mu.Unlock()

	if closed {
		return ErrDisconnected
	}

	p.peer.mu.Lock()
	handlers := append([]func(protocol.Message){}, p.peer.onMsg...)
	p.peer.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}

	return nil
}

// OnMessage registers a message handler.
func (p *PipePort) OnMessage(fn func(protocol.Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onMsg = append(p.onMsg, fn)
}

// OnDisconnect registers a disconnect observer. On an already closed pipe
// the observer runs immediately.
func (p *PipePort) OnDisconnect(fn func()) {
	p.link.mu.Lock()
	closed := p.link.closed
	p.link.mu.Unlock()

	if closed {
		fn()
		return
	}

	p.mu.Lock()
	p.onDisc = append(p.onDisc, fn)
	p.mu.Unlock()
}

// Disconnect closes the pipe and notifies the peer's observers.
func (p *PipePort) Disconnect() {
	p.link.mu.Lock()
	if p.link.closed {
		p.link.mu.Unlock()
		return
	}

	p.link.closed = true
	p.link.mu.Unlock()

	p.peer.mu.Lock()
	observers := p.peer.onDisc
	p.peer.onDisc = nil
	p.peer.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
