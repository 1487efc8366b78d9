package streamsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStreamAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	o := newOpenStream(7, 1, newFakeInput(), 3)

	id1, err := o.AddClient(KindRecord)
	require.NoError(t, err)
	id2, err := o.AddClient(KindPlayback)
	require.NoError(t, err)
	assert.Equal(t, ClientID(1), id1)
	assert.Equal(t, ClientID(2), id2)
	assert.Equal(t, ClientID(2), o.LatestClientID())

	remaining, ok := o.Purge(id1)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)

	id3, err := o.AddClient(KindRecord)
	require.NoError(t, err)
	assert.Equal(t, ClientID(3), id3, "ids are not reused while the stream lives")
}

func TestOpenStreamPerKindCapacity(t *testing.T) {
	t.Parallel()

	o := newOpenStream(7, 1, newFakeInput(), 3)

	for range 3 {
		_, err := o.AddClient(KindRecord)
		require.NoError(t, err)
	}
	_, err := o.AddClient(KindRecord)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	// The playback table is independent.
	for range 3 {
		_, err := o.AddClient(KindPlayback)
		require.NoError(t, err)
	}
	_, err = o.AddClient(KindPlayback)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	assert.Equal(t, 6, o.ClientCount())
	assert.Equal(t, 3, o.CountOf(KindRecord))
	assert.Equal(t, 3, o.CountOf(KindPlayback))
	assert.Equal(t, ClientID(6), o.LatestClientID(), "rejected adds do not consume ids")
}

func TestOpenStreamPurgeAndKind(t *testing.T) {
	t.Parallel()

	o := newOpenStream(7, 1, newFakeInput(), 3)
	rec, _ := o.AddClient(KindRecord)
	pb, _ := o.AddClient(KindPlayback)

	kind, ok := o.KindOf(rec)
	require.True(t, ok)
	assert.Equal(t, KindRecord, kind)
	kind, ok = o.KindOf(pb)
	require.True(t, ok)
	assert.Equal(t, KindPlayback, kind)

	remaining, ok := o.Purge(99)
	assert.False(t, ok)
	assert.Equal(t, 2, remaining, "unknown id leaves the count alone")

	remaining, ok = o.Purge(rec)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)
	assert.False(t, o.HasClient(rec))
	assert.Empty(t, o.Clients(KindRecord))
	assert.Equal(t, []ClientID{pb}, o.Clients(KindPlayback))

	remaining, ok = o.Purge(pb)
	require.True(t, ok)
	assert.Zero(t, remaining)
	assert.Zero(t, o.ClientCount())
}

func TestClientKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "record", KindFromRecord(true).String())
	assert.Equal(t, "playback", KindFromRecord(false).String())
	assert.Equal(t, "kind(0)", ClientKind(0).String())
}
