package p2p

import (
	"bytes"
	"context"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/logger"
)

type inbox struct {
	mu   sync.Mutex
	msgs []broadcaster.Message
	done chan broadcaster.Completion
}

func newInbox() *inbox {
	return &inbox{done: make(chan broadcaster.Completion, 1)}
}

func (in *inbox) sink() *broadcaster.Sink[broadcaster.Message] {
	return broadcaster.NewSink(broadcaster.Unlimited,
		func(m broadcaster.Message) broadcaster.Demand {
			in.mu.Lock()
			in.msgs = append(in.msgs, m)
			in.mu.Unlock()
			return broadcaster.None
		},
		func(c broadcaster.Completion) { in.done <- c },
	)
}

func (in *inbox) received() []broadcaster.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]broadcaster.Message(nil), in.msgs...)
}

func listen(t *testing.T, opts TCPTransportOpts) *TCPTransport {
	t.Helper()
	opts.ListenerAddr = "127.0.0.1:0"
	tr := NewTCPTransport(opts)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.ListenAndAccept(ctx))
	t.Cleanup(func() {
		cancel()
		_ = tr.Shutdown()
	})
	return tr
}

func Test_TCPTransport(t *testing.T) {
	tr := listen(t, TCPTransportOpts{PeerID: "node"})
	require.NotNil(t, tr.Addr())

	b := broadcaster.New[broadcaster.Message](tr, 1)
	early := newInbox()
	b.Attach(early.sink())

	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\nworld\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(early.received()) == 2 }, 5*time.Second, 10*time.Millisecond)
	got := early.received()
	assert.Equal(t, "hello", string(got[0].Payload))
	assert.Equal(t, conn.LocalAddr().String(), got[0].From)

	late := newInbox()
	b.Attach(late.sink())
	require.Eventually(t, func() bool { return len(late.received()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "world", string(late.received()[0].Payload))

	require.NoError(t, tr.Shutdown())
	for _, in := range []*inbox{early, late} {
		select {
		case c := <-in.done:
			assert.False(t, c.Failed())
		case <-time.After(5 * time.Second):
			t.Fatal("shutdown did not finish the stream")
		}
	}
	runtime.KeepAlive(b)
}

func Test_TCPTransportPeersExchangeFrames(t *testing.T) {
	a := listen(t, TCPTransportOpts{
		PeerID:        "node-a",
		Codec:         MsgpCodec{},
		HandShakeFunc: IDHandShake("node-a", time.Second),
	})
	b := NewTCPTransport(TCPTransportOpts{
		PeerID:        "node-b",
		Codec:         MsgpCodec{},
		HandShakeFunc: IDHandShake("node-b", time.Second),
	})
	t.Cleanup(func() { _ = b.Shutdown() })

	in := newInbox()
	a.Subscribe(in.sink())

	require.NoError(t, b.Dial(context.Background(), a.Addr().String()))
	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"node-b"}, a.Peers())
	assert.Equal(t, []string{"node-a"}, b.Peers())

	require.NoError(t, b.Broadcast(broadcaster.Message{Payload: []byte("from b")}))
	require.NoError(t, b.Send("node-a", broadcaster.Message{From: "origin", Payload: []byte("forwarded")}))

	require.Eventually(t, func() bool { return len(in.received()) == 2 }, 5*time.Second, 10*time.Millisecond)
	got := in.received()
	assert.Equal(t, broadcaster.Message{From: "node-b", Payload: []byte("from b")}, got[0])
	assert.Equal(t, broadcaster.Message{From: "origin", Payload: []byte("forwarded")}, got[1])

	assert.ErrorIs(t, b.Send("nobody", broadcaster.Message{}), ErrUnknownPeer)
}

func Test_TCPTransportSingleSubscriber(t *testing.T) {
	tr := listen(t, TCPTransportOpts{PeerID: "node"})

	first := newInbox()
	tr.Subscribe(first.sink())

	second := newInbox()
	tr.Subscribe(second.sink())
	select {
	case c := <-second.done:
		assert.True(t, c.Failed())
	case <-time.After(5 * time.Second):
		t.Fatal("second subscriber was not rejected")
	}

	require.NoError(t, tr.Shutdown())
	select {
	case c := <-first.done:
		assert.False(t, c.Failed())
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish the stream")
	}

	after := newInbox()
	tr.Subscribe(after.sink())
	select {
	case c := <-after.done:
		assert.False(t, c.Failed())
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe after shutdown did not finish")
	}
}

func Test_IDHandShakeRejectsBadIDs(t *testing.T) {
	tr := listen(t, TCPTransportOpts{
		PeerID:        "node",
		HandShakeFunc: IDHandShake("node", time.Second),
	})

	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("\n"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tr.Peers())

	err = IDHandShake("bad\nid", 0)(NewTCPPeer(conn, true, nil))
	assert.ErrorIs(t, err, ErrBadHandShake)
}

func Test_TCPTransportListenFailureFailsSubscriber(t *testing.T) {
	taken := listen(t, TCPTransportOpts{PeerID: "first"})

	tr := NewTCPTransport(TCPTransportOpts{PeerID: "second", ListenerAddr: taken.Addr().String()})
	in := newInbox()
	tr.Subscribe(in.sink())

	require.Error(t, tr.ListenAndAccept(context.Background()))
	select {
	case c := <-in.done:
		assert.True(t, c.Failed())
	case <-time.After(5 * time.Second):
		t.Fatal("listen failure was not delivered")
	}
}

// handle keeps the subscription of a sink so tests can cancel it.
type handle struct {
	*broadcaster.Sink[broadcaster.Message]
	sub broadcaster.Subscription
}

func (h *handle) OnSubscribe(s broadcaster.Subscription) {
	h.sub = s
	h.Sink.OnSubscribe(s)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func Test_TCPTransportDropsFramesAfterCancel(t *testing.T) {
	var logs syncBuffer
	tr := listen(t, TCPTransportOpts{
		PeerID: "node",
		Logger: logger.New(logger.Options{Level: "debug", Output: &logs}),
	})
	dropped := func() int { return strings.Count(logs.String(), "dropping frames") }

	first := newInbox()
	h := &handle{Sink: first.sink()}
	tr.Subscribe(h)

	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("one\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(first.received()) == 1 }, 5*time.Second, 10*time.Millisecond)

	h.sub.Cancel()
	_, err = conn.Write([]byte("two\nthree\nfour\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dropped() == 1 }, 5*time.Second, 10*time.Millisecond)

	second := newInbox()
	tr.Subscribe(second.sink())
	_, err = conn.Write([]byte("five\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(second.received()) == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "five", string(second.received()[0].Payload))
	assert.Len(t, first.received(), 1)
	assert.Equal(t, 1, dropped(), "a run of dropped frames is logged once")
}
