package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/logger"
	"github.com/subhroacharjee/replaycast/internal/source"
)

var (
	ErrUnknownPeer   = errors.New("p2p: unknown peer")
	ErrDuplicatePeer = errors.New("p2p: duplicate peer id")
	ErrShutdown      = errors.New("p2p: transport shut down")
)

type TCPTransportOpts struct {
	PeerID        string
	ListenerAddr  string
	Codec         Codec
	HandShakeFunc HandShakeFunc
	Logger        *slog.Logger
}

// TCPTransport accepts and dials peers and relays every decoded frame to
// its current subscriber. Frames that arrive while nobody is subscribed
// are dropped.
type TCPTransport struct {
	TCPTransportOpts
	logger *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	peers    map[string]Peer
	emitter  *source.Emitter[broadcaster.Message]
	closed   bool

	conns sync.WaitGroup
}

var _ Transport = (*TCPTransport)(nil)

func NewTCPTransport(opts TCPTransportOpts) *TCPTransport {
	if opts.Codec == nil {
		opts.Codec = LineCodec{}
	}
	if opts.HandShakeFunc == nil {
		opts.HandShakeFunc = DefaultHandShake
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &TCPTransport{
		TCPTransportOpts: opts,
		logger:           log.With(logger.Source("tcp"), logger.PeerID(opts.PeerID)),
		peers:            make(map[string]Peer),
	}
}

func (t *TCPTransport) ID() string {
	return t.PeerID
}

// Addr is the bound listener address, or nil before ListenAndAccept.
func (t *TCPTransport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Subscribe implements broadcaster.Source. A new subscriber replaces one
// that has cancelled; while another is still active the newcomer fails.
func (t *TCPTransport) Subscribe(sub broadcaster.Subscriber[broadcaster.Message]) {
	e := source.NewEmitter(context.Background(), sub)

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		e.Complete(broadcaster.Finished())
		return
	case t.emitter != nil && t.emitter.Context().Err() == nil:
		t.mu.Unlock()
		e.Complete(broadcaster.Failure(fmt.Errorf("p2p: transport %q already has a subscriber", t.PeerID)))
		return
	}
	t.emitter = e
	t.mu.Unlock()
	t.logger.Debug("subscriber bound")
}

func (t *TCPTransport) ListenAndAccept(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.ListenerAddr)
	if err != nil {
		err = fmt.Errorf("listen %s: %w", t.ListenerAddr, err)
		t.logger.Error("listen failed", logger.Err(err))
		if e := t.current(); e != nil {
			e.Complete(broadcaster.Failure(err))
		}
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = ln.Close()
		return ErrShutdown
	}
	t.listener = ln
	t.mu.Unlock()

	t.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go t.startAcceptLoop(ctx, ln)
	return nil
}

func (t *TCPTransport) Dial(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.logger.Error("dial failed", slog.String("addr", addr), logger.Err(err))
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	t.conns.Add(1)
	go func() {
		defer t.conns.Done()
		t.logger.Debug("connection dialed", slog.String("addr", addr))
		t.handleConnection(ctx, conn, true)
	}()
	return nil
}

func (t *TCPTransport) startAcceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				t.logger.Error("accept failed", logger.Err(err))
			}
			t.logger.Info("accept loop closed")
			return
		}

		t.conns.Add(1)
		go func() {
			defer t.conns.Done()
			t.logger.Debug("connection accepted", slog.String("addr", conn.RemoteAddr().String()))
			t.handleConnection(ctx, conn, false)
		}()
	}
}

func (t *TCPTransport) handleConnection(ctx context.Context, conn net.Conn, outbound bool) {
	peer := NewTCPPeer(conn, outbound, t.logger)

	if err := t.HandShakeFunc(peer); err != nil {
		t.logger.Error("handshake failed", slog.String("addr", conn.RemoteAddr().String()), logger.Err(err))
		_ = peer.Close()
		return
	}

	if err := t.addPeer(peer); err != nil {
		t.logger.Warn("peer rejected", logger.PeerID(peer.GetID()), logger.Err(err))
		_ = peer.Close()
		return
	}
	defer t.removePeer(peer)

	stop := context.AfterFunc(ctx, func() { _ = peer.Close() })
	defer stop()

	dec := t.Codec.NewDecoder(peer)
	// dropping is set while frames are discarded for lack of a subscriber;
	// only the first frame of such a run is logged.
	dropping := false
	for {
		var msg broadcaster.Message
		if err := dec.Decode(&msg); err != nil {
			if !isClosed(err) && ctx.Err() == nil {
				// A framing error leaves the stream unsynchronized.
				t.logger.Error("decode failed, dropping peer", logger.PeerID(peer.GetID()), logger.Err(err))
			}
			return
		}
		if msg.From == "" {
			msg.From = peer.GetID()
		}

		if e := t.current(); e != nil && e.Emit(msg) {
			dropping = false
			continue
		}
		if !dropping {
			dropping = true
			t.logger.Debug("no active subscriber, dropping frames", logger.PeerID(peer.GetID()))
		}
	}
}

func (t *TCPTransport) addPeer(p Peer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrShutdown
	}
	if _, ok := t.peers[p.GetID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePeer, p.GetID())
	}
	t.peers[p.GetID()] = p
	t.logger.Info("peer connected", logger.PeerID(p.GetID()))
	return nil
}

func (t *TCPTransport) removePeer(p Peer) {
	t.mu.Lock()
	if cur, ok := t.peers[p.GetID()]; ok && cur == p {
		delete(t.peers, p.GetID())
	}
	t.mu.Unlock()
	_ = p.Close()
	t.logger.Info("peer disconnected", logger.PeerID(p.GetID()))
}

func (t *TCPTransport) current() *source.Emitter[broadcaster.Message] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.emitter == nil || t.emitter.Context().Err() != nil {
		return nil
	}
	return t.emitter
}

func (t *TCPTransport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast sends msg to every connected peer and returns the joined
// send errors.
func (t *TCPTransport) Broadcast(msg broadcaster.Message) error {
	data, err := t.Codec.Encode(msg)
	if err != nil {
		return err
	}

	t.mu.RLock()
	peers := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Send(data); err != nil {
				t.logger.Error("broadcast to peer failed", logger.PeerID(p.GetID()), logger.Err(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("peer %s: %w", p.GetID(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (t *TCPTransport) Send(peerID string, msg broadcaster.Message) error {
	data, err := t.Codec.Encode(msg)
	if err != nil {
		return err
	}

	t.mu.RLock()
	peer, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return peer.Send(data)
}

// Shutdown closes the listener and every peer, finishes the subscriber's
// stream and waits for the peer readers to exit.
func (t *TCPTransport) Shutdown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ln := t.listener
	peers := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	e := t.emitter
	t.mu.Unlock()

	t.logger.Info("graceful shutdown started")
	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("close listener: %w", cerr)
		}
	}
	for _, p := range peers {
		_ = p.Close()
	}
	// Completing first releases readers blocked on demand.
	if e != nil {
		e.Complete(broadcaster.Finished())
	}
	t.conns.Wait()

	t.logger.Info("graceful shutdown completed")
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
