// Package layer implements the generic layer-chain framework described in
// spec.md §4.1: a node with at most one previous and one next neighbour,
// parsing bytes from below and forwarding PDUs to observers, serializing
// PDUs from above and forwarding bytes below. It is the backbone every
// protocol layer (tpkt, x224, mcs, security, t128, fastpath, virtualchannel,
// recorder) is built on, grounded on the pyrdp Layer/Observer/
// LayerRoutedObserver design this spec was distilled from.
package layer

import (
	"fmt"

	"github.com/GoFeGroup/rdpmitm/glog"
)

// PDU is any parsed protocol message value. It carries no identity beyond
// its fields, per spec.md §3.
type PDU interface{}

// Sender is the narrow interface a layer needs of whatever sits below it:
// either another Layer or the raw transport at the bottom of the chain.
type Sender interface {
	Send(data []byte) error
}

// Observer is the capability set a layer may invoke on PDU receipt. Not
// every layer uses every hook; a layer documents which ones it calls.
type Observer interface {
	OnPDUReceived(pdu PDU)
}

// ObserverFunc adapts a plain function to the Observer interface, for the
// common case of a layer with a single callback.
type ObserverFunc func(pdu PDU)

func (f ObserverFunc) OnPDUReceived(pdu PDU) { f(pdu) }

// Parser turns bytes received from below into a PDU plus the remainder of
// the buffer that belongs to the next layer down the chain (segmentation
// and virtual-channel framing are not 1:1 with a single PDU per Recv call).
type Parser interface {
	Parse(data []byte) (pdu PDU, remainder []byte, err error)
	Serialize(pdu PDU) ([]byte, error)
}

// Layer is one node in a protocol chain.
type Layer struct {
	name      string
	parser    Parser
	previous  Sender
	next      *Layer
	observers []Observer
}

// New constructs a named, unwired layer around parser. name is used only
// for logging.
func New(name string, parser Parser) *Layer {
	return &Layer{name: name, parser: parser}
}

// AddObserver registers an additional observer. Observers can be added at
// any time, per spec.md §4.1's Layer invariants.
func (l *Layer) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// SetPrevious wires the sender used when this layer serializes and sends
// upward-originated PDUs downward. Transport layers at the bottom of a
// chain implement Sender directly over the wire.
func (l *Layer) SetPrevious(p Sender) { l.previous = p }

// SetNext wires the next layer up the chain, called exactly once at stack
// construction time per spec.md §4.1.
func (l *Layer) SetNext(n *Layer) {
	if l.next != nil {
		panic(fmt.Sprintf("layer %s: next already set", l.name))
	}
	l.next = n
	n.previous = senderFunc(func(data []byte) error { return l.Send(data) })
}

// senderFunc adapts a plain function to the Sender interface; SetNext uses
// it to hand the upper layer's serialized bytes to the lower layer's Send.
type senderFunc func(data []byte) error

func (f senderFunc) Send(data []byte) error { return f(data) }

// Chain wires a sequence of layers bottom-to-top in one call.
func Chain(layers ...*Layer) {
	for i := 0; i < len(layers)-1; i++ {
		layers[i].SetNext(layers[i+1])
	}
}

// Recv parses data received from below, notifies observers of the parsed
// PDU, and forwards any remainder to the next layer up.
func (l *Layer) Recv(data []byte) {
	pdu, remainder, err := l.parser.Parse(data)
	if err != nil {
		glog.Warnf("layer %s: parse error: %v", l.name, err)
		panic(err)
	}
	if pdu != nil {
		l.notify(pdu)
	}
	if len(remainder) > 0 && l.next != nil {
		l.next.Recv(remainder)
	}
}

func (l *Layer) notify(pdu PDU) {
	for _, o := range l.observers {
		o.OnPDUReceived(pdu)
	}
}

// Send serializes pdu and pushes it down to previous (another Layer or the
// raw transport).
func (l *Layer) Send(pdu PDU) error {
	data, err := l.parser.Serialize(pdu)
	if err != nil {
		return fmt.Errorf("layer %s: serialize: %w", l.name, err)
	}
	if l.previous == nil {
		return fmt.Errorf("layer %s: no previous layer wired", l.name)
	}
	return l.previous.Send(data)
}

// Name returns the layer's logging name.
func (l *Layer) Name() string { return l.name }

// RoutedObserver dispatches a received PDU to a named hook based on a
// sub-tag extracted from the PDU, per spec.md §4.1. Unknown subtags are
// recoverable: logged, PDU dropped, connection kept.
type RoutedObserver struct {
	hooks map[interface{}]func(PDU)
	// unmappedCount counts subtags with no matching hook, exposed so tests
	// can assert the "reported once" behaviour of spec.md §8's router
	// fan-out property without scraping log output.
	unmappedCount int
}

// NewRoutedObserver builds a routed observer from a {subtag -> handler}
// mapping.
func NewRoutedObserver(hooks map[interface{}]func(PDU)) *RoutedObserver {
	return &RoutedObserver{hooks: hooks}
}

// Subtagged is implemented by any PDU that carries a routing sub-tag.
type Subtagged interface {
	Subtag() interface{}
}

// OnPDUReceived implements Observer, dispatching by the PDU's Subtag().
func (r *RoutedObserver) OnPDUReceived(pdu PDU) {
	st, ok := pdu.(Subtagged)
	if !ok {
		glog.Warnf("routed observer: pdu %T does not implement Subtagged", pdu)
		r.unmappedCount++
		return
	}
	hook, ok := r.hooks[st.Subtag()]
	if !ok {
		glog.Warnf("routed observer: unmapped subtag %v for %T", st.Subtag(), pdu)
		r.unmappedCount++
		return
	}
	hook(pdu)
}

// UnmappedCount reports how many received PDUs had no matching hook.
func (r *RoutedObserver) UnmappedCount() int { return r.unmappedCount }
