package source_test

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/source"
)

// startNATS runs an embedded server on a random port and returns a client
// connected to it. Both are torn down with the test.
func startNATS(t *testing.T) *nats.Conn {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err, "failed to create NATS server")

	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready for connections")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err, "failed to connect to NATS server")

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func TestNATSSourceRelaysAndReplays(t *testing.T) {
	nc := startNATS(t)

	src, err := source.NewNATS(nc, "events.>")
	require.NoError(t, err)

	b := broadcaster.New[broadcaster.Message](src, 2)
	defer b.Close()

	first := newCollector[broadcaster.Message](broadcaster.Unlimited)
	b.Attach(first)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, nc.Publish("events."+p, []byte(p)))
	}
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool { return len(first.Items()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "events.a", first.Items()[0].From)
	assert.Equal(t, []byte("c"), first.Items()[2].Payload)

	late := newCollector[broadcaster.Message](broadcaster.Unlimited)
	b.Attach(late)
	require.Eventually(t, func() bool { return len(late.Items()) == 2 }, 5*time.Second, 10*time.Millisecond)
	got := late.Items()
	assert.Equal(t, "b", string(got[0].Payload))
	assert.Equal(t, "c", string(got[1].Payload))
}

func TestNATSSourceFailsWhenConnectionCloses(t *testing.T) {
	nc := startNATS(t)

	src, err := source.NewNATS(nc, "events")
	require.NoError(t, err)

	col := newCollector[broadcaster.Message](broadcaster.Unlimited)
	src.Subscribe(col)

	nc.Close()
	col.wait(t)

	done := col.Completions()
	require.Len(t, done, 1)
	assert.True(t, done[0].Failed())
}

func TestNATSSourceCancelStopsDelivery(t *testing.T) {
	nc := startNATS(t)

	src, err := source.NewNATS(nc, "events")
	require.NoError(t, err)

	col := newCollector[broadcaster.Message](broadcaster.Unlimited)
	src.Subscribe(col)

	require.NoError(t, nc.Publish("events", []byte("one")))
	require.Eventually(t, func() bool { return len(col.Items()) == 1 }, 5*time.Second, 10*time.Millisecond)

	col.subscription().Cancel()
	require.NoError(t, nc.Publish("events", []byte("two")))
	require.NoError(t, nc.Flush())
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, col.Items(), 1)
	assert.Empty(t, col.Completions())
}
