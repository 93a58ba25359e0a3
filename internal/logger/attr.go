package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers return an empty Attr for zero values so they can be
// passed unconditionally; slog drops empty attributes.

// Err creates an attribute for a single error under the key "error".
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func ConsumerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("consumer_id", id)
}

func PeerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("peer_id", id)
}

func Broadcaster(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("broadcaster", name)
}

func Source(kind string) slog.Attr {
	if kind == "" {
		return slog.Attr{}
	}
	return slog.String("source", kind)
}

// Capacity logs a replay capacity; negative values are reported as "unbounded".
func Capacity(n int) slog.Attr {
	if n < 0 {
		return slog.String("capacity", "unbounded")
	}
	return slog.Int("capacity", n)
}

func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
