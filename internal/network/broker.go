// Package network carries town and claim mutations between server
// processes. The bus is at-least-once with no cross-sender ordering;
// receivers own idempotence.
package network

import "townforge/internal/protocol"

// Handler consumes inbound broker messages. Called from the broker's
// read goroutine; implementations dispatch to their own tasks.
type Handler func(protocol.Message)

// Broker is the cluster publish/subscribe channel. Send is
// fire-and-forget: a nil error means the message was handed to the
// transport, not that any peer applied it.
type Broker interface {
	Send(msg protocol.Message) error
	Close() error
}

// Nop is the standalone-mode broker: every send is dropped. Used when
// cross-server mode is off so the managers don't branch on nil.
type Nop struct{}

func (Nop) Send(protocol.Message) error { return nil }
func (Nop) Close() error                { return nil }
