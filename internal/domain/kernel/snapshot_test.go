package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
)

func TestSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	owner, peer := h.procs["owner"], h.procs["peer"]
	bid := h.sharedBuffer(t)
	require.Equal(t, status.OK, owner.AddCredentials(bid, peer.PID(), rw))
	require.Equal(t, status.OK, owner.Map(1, bid))
	require.Equal(t, status.OK, h.procs["third"].Exit(false, 3))

	snap := h.k.Snapshot()
	require.Len(t, snap.Processes, 3)
	require.Len(t, snap.Buffers, 1)
	assert.Equal(t, bid, snap.Buffers[0].Region)
	for _, p := range snap.Processes {
		if p.PID == owner.PID() {
			assert.Equal(t, bid, p.Windows[1])
		}
	}

	for _, compress := range []bool{false, true} {
		data, err := snap.Encode(compress)
		require.NoError(t, err)
		back, err := DecodeSnapshot(data, compress)
		require.NoError(t, err)
		assert.Equal(t, snap.Session, back.Session)
		assert.Len(t, back.Processes, 3)
		require.Len(t, back.Terminations, 1)
		assert.Equal(t, End, back.Terminations[0].Reason)
		assert.Equal(t, uint32(3), back.Terminations[0].Info)
	}
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not json"), false)
	assert.Error(t, err)
	_, err = DecodeSnapshot([]byte("not zstd"), true)
	assert.Error(t, err)
}

func TestBlockedDurations(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, status.OK, h.procs["owner"].Yield(t.Context(), 1))
	d := h.k.BlockedDurations()
	assert.Len(t, d, 4)
}
