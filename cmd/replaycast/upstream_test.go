package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/config"
	"github.com/subhroacharjee/replaycast/internal/logger"
	"github.com/subhroacharjee/replaycast/internal/p2p"
)

func Test_BuildUpstreamTCP(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"

	up, err := buildUpstream(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)

	got := make(chan broadcaster.Message, 1)
	b := broadcaster.New(up.source, 4)
	b.Attach(broadcaster.NewSink(broadcaster.Unlimited, func(m broadcaster.Message) broadcaster.Demand {
		got <- m
		return broadcaster.None
	}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, up.start(ctx))

	tr, ok := up.source.(*p2p.TCPTransport)
	require.True(t, ok)
	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "ping", string(m.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message not relayed")
	}
	assert.NoError(t, up.stop())
	assert.NoError(t, b.Close())
}

func Test_BuildUpstreamNATS(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)

	cfg := config.GetDefaultConfig()
	cfg.Source = config.NATS
	cfg.NATSURL = ns.ClientURL()
	cfg.NATSSubject = "events"

	up, err := buildUpstream(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	assert.Nil(t, up.start)
	assert.NoError(t, up.stop())
}

func Test_BuildUpstreamErrors(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Source = "kafka"
	_, err := buildUpstream(context.Background(), cfg, logger.Discard())
	assert.ErrorIs(t, err, config.ErrUnknownSource)

	cfg = config.GetDefaultConfig()
	cfg.Codec = "protobuf"
	_, err = buildUpstream(context.Background(), cfg, logger.Discard())
	assert.ErrorIs(t, err, config.ErrInvalidCodec)

	cfg = config.GetDefaultConfig()
	cfg.Source = config.NATS
	cfg.NATSURL = "nats://127.0.0.1:1"
	cfg.NATSSubject = "events"
	_, err = buildUpstream(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}
