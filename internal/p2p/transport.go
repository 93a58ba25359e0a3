// Package p2p receives messages from TCP peers and exposes them as a
// broadcaster source.
package p2p

import (
	"context"
	"net"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
)

type Peer interface {
	net.Conn
	SetID(string)
	GetID() string
	Close() error
	Send([]byte) error
}

// Transport is a broadcaster.Source of the messages decoded from every
// connected peer.
type Transport interface {
	broadcaster.Source[broadcaster.Message]

	ID() string
	Addr() net.Addr
	ListenAndAccept(context.Context) error
	Dial(context.Context, string) error
	Peers() []string
	Broadcast(broadcaster.Message) error
	Send(string, broadcaster.Message) error
	Shutdown() error
}
