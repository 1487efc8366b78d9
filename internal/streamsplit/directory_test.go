package streamsplit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamsplit/internal/observability/metrics"
)

func TestNewDirectoryRequiresHAL(t *testing.T) {
	_, err := NewDirectory(nil, DefaultConfig())
	require.Error(t, err)
}

func TestNewDirectoryFillsZeroConfig(t *testing.T) {
	t.Parallel()

	d, err := NewDirectory(newFakeHAL(), Config{}, WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	assert.Equal(t, DefaultConfig(), d.Config())
	assert.Equal(t, DefaultReadRetries, d.Config().ReadRetries)
}

func TestDirectoryDeviceCapacity(t *testing.T) {
	hal := newFakeHAL()
	d := newTestDirectory(t, hal)
	ctx := context.Background()

	for dev := uint32(1); dev <= 3; dev++ {
		_, _, err := d.GetOrCreateOpenStream(ctx, dev, KindRecord)
		require.NoError(t, err)
	}

	o, id, err := d.GetOrCreateOpenStream(ctx, 4, KindRecord)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Nil(t, o)
	assert.Zero(t, id)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 3, hal.opened, "a rejected device is never opened")

	// Existing devices still accept clients.
	_, id, err = d.GetOrCreateOpenStream(ctx, 2, KindPlayback)
	require.NoError(t, err)
	assert.Equal(t, ClientID(2), id)
}

func TestDirectoryClientCapacity(t *testing.T) {
	hal := newFakeHAL()
	d := newTestDirectory(t, hal)
	ctx := context.Background()

	var o *OpenStream
	for range 3 {
		var err error
		o, _, err = d.GetOrCreateOpenStream(ctx, 7, KindRecord)
		require.NoError(t, err)
	}

	_, _, err := d.GetOrCreateOpenStream(ctx, 7, KindRecord)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 3, o.CountOf(KindRecord))
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 1, hal.opened, "later clients share the open input")
}

func TestDirectoryReadCursorCapacity(t *testing.T) {
	d := newTestDirectory(t, newFakeHAL())
	ctx := context.Background()

	var o *OpenStream
	for _, kind := range []ClientKind{KindRecord, KindRecord, KindPlayback, KindPlayback} {
		var err error
		o, _, err = d.GetOrCreateOpenStream(ctx, 7, kind)
		require.NoError(t, err)
	}
	h := o.Handle()

	for id := ClientID(1); id <= 3; id++ {
		_, err := d.GetOrCreateReadStream(h, id)
		require.NoError(t, err)
	}
	_, err := d.GetOrCreateReadStream(h, 4)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	rs, ok := d.ReadStreamFor(h)
	require.True(t, ok)
	assert.Len(t, rs.Status().Cursors, 3)
}

func TestDirectoryOpenFailureLeavesNoEntry(t *testing.T) {
	boom := errors.New("device busy")
	hal := newFakeHAL()
	hal.openErr = boom
	d := newTestDirectory(t, hal)

	_, _, err := d.GetOrCreateOpenStream(context.Background(), 7, KindRecord)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, d.Len())
}

func TestDirectoryUnknownHandleAndClient(t *testing.T) {
	d := newTestDirectory(t, newFakeHAL())
	o, _, err := d.GetOrCreateOpenStream(context.Background(), 7, KindRecord)
	require.NoError(t, err)

	_, err = d.Read(99, 1, make([]byte, 10))
	require.ErrorIs(t, err, ErrUnknownStream)

	_, err = d.Read(o.Handle(), 42, make([]byte, 10))
	require.ErrorIs(t, err, ErrUnknownClient)

	require.ErrorIs(t, d.Deactivate(99, 1), ErrUnknownStream)
	require.ErrorIs(t, d.Deactivate(o.Handle(), 42), ErrUnknownClient)

	_, err = d.ClientKindOf(o.Handle(), 42)
	require.ErrorIs(t, err, ErrUnknownClient)

	assert.NoError(t, d.CloseClient(99, 1))
	assert.NoError(t, d.CloseClient(o.Handle(), 42))
	assert.Equal(t, 1, o.ClientCount())
}

func TestDirectoryClientKindOf(t *testing.T) {
	d := newTestDirectory(t, newFakeHAL())
	ctx := context.Background()

	o, rec, err := d.GetOrCreateOpenStream(ctx, 7, KindFromRecord(true))
	require.NoError(t, err)
	_, pb, err := d.GetOrCreateOpenStream(ctx, 7, KindFromRecord(false))
	require.NoError(t, err)

	kind, err := d.ClientKindOf(o.Handle(), rec)
	require.NoError(t, err)
	assert.Equal(t, KindRecord, kind)

	kind, err = d.ClientKindOf(o.Handle(), pb)
	require.NoError(t, err)
	assert.Equal(t, KindPlayback, kind)
}

// Two clients on device 7 share one hardware input; each sees the stream
// from its own registration point.
func TestDirectoryTwoClientsShareDevice(t *testing.T) {
	hal := newFakeHAL()
	d := newTestDirectory(t, hal)
	ctx := context.Background()

	o, rec, err := d.GetOrCreateOpenStream(ctx, 7, KindRecord)
	require.NoError(t, err)
	_, pb, err := d.GetOrCreateOpenStream(ctx, 7, KindPlayback)
	require.NoError(t, err)
	assert.Equal(t, ClientID(1), rec)
	assert.Equal(t, ClientID(2), pb)

	h := o.Handle()
	rs, err := d.GetOrCreateReadStream(h, rec)
	require.NoError(t, err)
	_, err = d.GetOrCreateReadStream(h, pb)
	require.NoError(t, err)
	require.NoError(t, rs.Activate(rec))
	require.NoError(t, rs.Activate(pb))

	c1 := pattern(1, testChunk)
	c2 := pattern(101, testChunk)
	hal.input(7).push(c1, c2)

	buf := make([]byte, 200)
	n, err := d.Read(h, rec, buf)
	require.NoError(t, err)
	require.Equal(t, 200, n)
	assert.Equal(t, c1[:200], buf[:n])

	got := drain(t, d, h, pb, 2*testChunk, 2*testChunk)
	assert.Equal(t, append(append([]byte{}, c1...), c2...), got)

	require.NoError(t, d.CloseClient(h, rec))
	assert.Equal(t, 1, o.ClientCount())
	assert.Equal(t, 1, d.Len())
	assert.Zero(t, hal.closedCount())

	require.NoError(t, d.CloseClient(h, pb))
	assert.Zero(t, d.Len())
	assert.Equal(t, 1, hal.closedCount())

	st := rs.Status()
	assert.True(t, st.Closed)
	assert.False(t, st.Polling)
}

func TestDirectoryCloseLastClientReleasesDevice(t *testing.T) {
	hal := newFakeHAL()
	d := newTestDirectory(t, hal)
	ctx := context.Background()

	o, id, err := d.GetOrCreateOpenStream(ctx, 7, KindRecord)
	require.NoError(t, err)
	hal.input(7).push(pattern(0, 100))

	n, err := d.Read(o.Handle(), id, make([]byte, 100))
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	require.NoError(t, d.CloseClient(o.Handle(), id))
	assert.Zero(t, d.Len())
	assert.Equal(t, 1, hal.closedCount())
	_, ok := d.OpenStreamForDevice(7)
	assert.False(t, ok)
	_, ok = d.ReadStreamFor(o.Handle())
	assert.False(t, ok)

	// Reopening gets a fresh handle.
	o2, id2, err := d.GetOrCreateOpenStream(ctx, 7, KindRecord)
	require.NoError(t, err)
	assert.Greater(t, o2.Handle(), o.Handle())
	assert.Equal(t, ClientID(1), id2)
}

func TestDirectoryCloseWakesWaitingReader(t *testing.T) {
	hal := newFakeHAL()
	d := newTestDirectory(t, hal)
	ctx := context.Background()

	o, rec, err := d.GetOrCreateOpenStream(ctx, 7, KindRecord)
	require.NoError(t, err)
	_, pb, err := d.GetOrCreateOpenStream(ctx, 7, KindPlayback)
	require.NoError(t, err)
	rs, err := d.GetOrCreateReadStream(o.Handle(), pb)
	require.NoError(t, err)
	require.NoError(t, rs.Activate(pb))

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Read(o.Handle(), rec, make([]byte, 64))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after directory close")
	}
	assert.Zero(t, d.Len())
	assert.Equal(t, 1, hal.closedCount())
}

func TestDirectoryConcurrentReadersEachGetFullStream(t *testing.T) {
	hal := newFakeHAL()
	d := newTestDirectory(t, hal)
	ctx := context.Background()

	var o *OpenStream
	ids := make([]ClientID, 0, 3)
	for range 3 {
		var id ClientID
		var err error
		o, id, err = d.GetOrCreateOpenStream(ctx, 7, KindRecord)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	h := o.Handle()

	var rs *ReadStream
	for _, id := range ids {
		var err error
		rs, err = d.GetOrCreateReadStream(h, id)
		require.NoError(t, err)
	}
	for _, id := range ids {
		require.NoError(t, rs.Activate(id))
	}

	var want []byte
	for i := range 10 {
		chunk := pattern(byte(i*17), testChunk)
		want = append(want, chunk...)
		hal.input(7).push(chunk)
	}

	results := make([][]byte, len(ids))
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = readUntil(d, h, id, len(want), 500)
		}()
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, want, results[i], "client %d", ids[i])
	}
}

// readUntil is drain without testing.T, for use off the test goroutine.
func readUntil(d *Directory, h Handle, id ClientID, want, bufSize int) ([]byte, error) {
	var got []byte
	buf := make([]byte, bufSize)
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		n, err := d.Read(h, id, buf[:min(bufSize, want-len(got))])
		if err != nil {
			return got, err
		}
		got = append(got, buf[:n]...)
	}
	return got, nil
}

func TestDirectorySnapshot(t *testing.T) {
	d := newTestDirectory(t, newFakeHAL())
	ctx := context.Background()

	o, rec, err := d.GetOrCreateOpenStream(ctx, 7, KindRecord)
	require.NoError(t, err)
	_, pb, err := d.GetOrCreateOpenStream(ctx, 7, KindPlayback)
	require.NoError(t, err)
	_, _, err = d.GetOrCreateOpenStream(ctx, 9, KindRecord)
	require.NoError(t, err)
	_, err = d.GetOrCreateReadStream(o.Handle(), rec)
	require.NoError(t, err)

	snap := d.Snapshot()
	require.Len(t, snap, 2)

	first := snap[0]
	assert.Equal(t, o.Handle(), first.Handle)
	assert.Equal(t, uint32(7), first.DeviceID)
	assert.Equal(t, []ClientID{rec}, first.RecordClients)
	assert.Equal(t, []ClientID{pb}, first.PlaybackClients)
	assert.Equal(t, 2, first.TotalClients)
	assert.Equal(t, pb, first.LatestClientID)
	require.NotNil(t, first.Read)
	assert.Equal(t, DefaultConfig().RingCapacity(), first.Read.Capacity)
	assert.Len(t, first.Read.Cursors, 1)

	assert.Equal(t, uint32(9), snap[1].DeviceID)
	assert.Nil(t, snap[1].Read)
}

func TestDirectoryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewStreamSplitMetrics(reg)
	require.NoError(t, err)

	d, err := NewDirectory(newFakeHAL(), DefaultConfig(), WithLogger(testLogger()), WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	ctx := context.Background()

	for dev := uint32(1); dev <= 3; dev++ {
		_, _, err := d.GetOrCreateOpenStream(ctx, dev, KindRecord)
		require.NoError(t, err)
	}
	_, _, err = d.GetOrCreateOpenStream(ctx, 4, KindRecord)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	expected := `
# HELP streamsplit_capacity_rejections_total Total number of requests rejected because a fixed table was full
# TYPE streamsplit_capacity_rejections_total counter
streamsplit_capacity_rejections_total{table="devices"} 1
# HELP streamsplit_open_devices Number of hardware devices with an open split stream
# TYPE streamsplit_open_devices gauge
streamsplit_open_devices 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"streamsplit_capacity_rejections_total", "streamsplit_open_devices"))

	require.NoError(t, d.Close())
	assert.Zero(t, gaugeValue(t, reg, "streamsplit_open_devices"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

// A reader blocked in a slow hardware read, and a second reader queued behind
// it on the same device, must not hold up opens of other devices.
func TestDirectorySlowDeviceDoesNotStallOtherDevices(t *testing.T) {
	const slow = 300 * time.Millisecond

	hal := newFakeHAL()
	d := newTestDirectory(t, hal)
	ctx := context.Background()

	o, a, err := d.GetOrCreateOpenStream(ctx, 1, KindRecord)
	require.NoError(t, err)
	_, b, err := d.GetOrCreateOpenStream(ctx, 1, KindPlayback)
	require.NoError(t, err)
	h := o.Handle()

	in := hal.input(1)
	in.setDelay(slow)
	in.push(pattern(0, testChunk))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Read(h, a, make([]byte, 100))
	}()
	require.Eventually(t, func() bool { return in.readCount() > 0 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Read(h, b, make([]byte, 100))
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, _, err = d.GetOrCreateOpenStream(ctx, 2, KindRecord)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, slow/3, "open of device 2 waited on device 1")

	in.setDelay(0)
	wg.Wait()
}
