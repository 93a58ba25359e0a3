package broadcaster_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
)

func TestDemandArithmetic(t *testing.T) {
	t.Parallel()

	u := broadcaster.Unlimited
	tests := []struct {
		name string
		got  broadcaster.Demand
		want broadcaster.Demand
	}{
		{"add finite", broadcaster.Demand(2).Add(3), 5},
		{"add to unlimited", u.Add(7), u},
		{"add unlimited", broadcaster.Demand(7).Add(u), u},
		{"add saturates", (u - 1).Add(5), u},
		{"add negative ignored", broadcaster.Demand(4).Add(-2), 4},
		{"sub finite", broadcaster.Demand(5).Sub(2), 3},
		{"sub floors at zero", broadcaster.Demand(2).Sub(5), broadcaster.None},
		{"sub from unlimited", u.Sub(1_000_000), u},
		{"sub negative ignored", broadcaster.Demand(3).Sub(-1), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}

	assert.True(t, u.IsUnlimited())
	assert.False(t, broadcaster.Demand(1).IsUnlimited())
	assert.Equal(t, "unlimited", u.String())
	assert.Equal(t, "42", broadcaster.Demand(42).String())
}

func TestCompletion(t *testing.T) {
	t.Parallel()

	ok := broadcaster.Finished()
	assert.False(t, ok.Failed())
	assert.NoError(t, ok.Err())
	assert.Equal(t, "finished", ok.String())

	boom := errors.New("boom")
	failed := broadcaster.Failure(boom)
	assert.True(t, failed.Failed())
	assert.ErrorIs(t, failed.Err(), boom)
	assert.Equal(t, "failure: boom", failed.String())

	assert.False(t, broadcaster.Failure(nil).Failed())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "active", broadcaster.StateActive.String())
	assert.Equal(t, "draining", broadcaster.StateDraining.String())
	assert.Equal(t, "terminated", broadcaster.StateTerminated.String())
	assert.Equal(t, "unknown", broadcaster.State(42).String())
}

func TestMessageString(t *testing.T) {
	t.Parallel()

	msg := broadcaster.Message{From: "peer-1", Payload: []byte("hello")}
	assert.Equal(t, "peer-1: hello", msg.String())
}
