package streamsplit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamsplit/internal/errors"
)

func TestOverrunErrorIsBufferCategory(t *testing.T) {
	t.Parallel()

	err := overrunError(7, 1900, 960, 2880)
	require.ErrorIs(t, err, ErrRingOverrun)
	assert.True(t, errors.IsCategory(err, errors.CategoryBuffer))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, componentName, ee.GetComponent())
	assert.Equal(t, 2880, ee.GetContext()["capacity"])
}

func TestPollErrorIsWorkerCategory(t *testing.T) {
	t.Parallel()

	cause := errors.NewStd("device unplugged")
	err := pollError(cause, 7)
	require.ErrorIs(t, err, cause)
	assert.True(t, errors.IsCategory(err, errors.CategoryWorker))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "poll", ee.GetContext()["operation"])
	assert.Equal(t, uint32(7), ee.GetContext()["device_id"])
}

func TestOpenFailureCarriesTiming(t *testing.T) {
	cause := errors.NewStd("device busy")
	hal := newFakeHAL()
	hal.openErr = cause
	d := newTestDirectory(t, hal)

	_, _, err := d.GetOrCreateOpenStream(context.Background(), 7, KindRecord)
	require.ErrorIs(t, err, cause)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudioSource))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	ctx := ee.GetContext()
	assert.Equal(t, "open", ctx["operation"])
	assert.Contains(t, ctx, "duration_ms")
}
