package p2p

import (
	"log/slog"
	"net"
	"sync"

	"github.com/subhroacharjee/replaycast/internal/logger"
)

// TCPPeer is another node connected over TCP.
type TCPPeer struct {
	net.Conn
	ID string

	addr   net.Addr
	logger *slog.Logger

	// outbound is true when we dialed the node, false when we accepted it.
	outbound bool

	writeMu sync.Mutex
}

func NewTCPPeer(conn net.Conn, outbound bool, log *slog.Logger) *TCPPeer {
	if log == nil {
		log = logger.Discard()
	}
	return &TCPPeer{
		ID:       conn.RemoteAddr().String(),
		Conn:     conn,
		addr:     conn.RemoteAddr(),
		logger:   log,
		outbound: outbound,
	}
}

// GetID implements Peer.
func (p *TCPPeer) GetID() string {
	return p.ID
}

// SetID implements Peer.
func (p *TCPPeer) SetID(id string) {
	p.ID = id
}

func (p *TCPPeer) Outbound() bool {
	return p.outbound
}

func (p *TCPPeer) Close() error {
	defer p.logger.Debug("peer connection closed", slog.String("addr", p.addr.String()), logger.PeerID(p.ID))
	return p.Conn.Close()
}

// Send writes one frame. Concurrent sends do not interleave.
func (p *TCPPeer) Send(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.Conn.Write(data)
	return err
}
