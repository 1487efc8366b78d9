package errors

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = NewStd("sentinel")

// recordingReporter captures reported errors for assertions
type recordingReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderKeepsSentinelReachable(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(errSentinel).
		Component("streamsplit").
		Category(CategoryLimit).
		Context("device_id", 7).
		Build()

	require.ErrorIs(t, ee, errSentinel)
	assert.Equal(t, "streamsplit", ee.GetComponent())
	assert.True(t, IsCategory(ee, CategoryLimit))
	assert.False(t, IsNotFound(ee))
	assert.Equal(t, 7, ee.GetContext()["device_id"])

	wrapped := fmt.Errorf("outer: %w", ee)
	assert.ErrorIs(t, wrapped, errSentinel)
	assert.True(t, IsCategory(wrapped, CategoryLimit))
}

func TestTimingAddsOperationAndDuration(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(errSentinel).
		Category(CategoryAudioSource).
		Timing("open", 1500*time.Millisecond).
		Build()

	ctx := ee.GetContext()
	assert.Equal(t, "open", ctx["operation"])
	assert.EqualValues(t, 1500, ctx["duration_ms"])
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	a := New(NewStd("a")).Category(CategoryNotFound).Build()
	b := New(NewStd("b")).Category(CategoryNotFound).Build()
	c := New(NewStd("c")).Category(CategoryState).Build()

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("input open timeout after %d ms", 50).Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.True(t, ee.IsReported())
	assert.Equal(t, CategoryTimeout, ee.Category, "category should be derived from the message")
}

func TestPriorityFallsBackToMedium(t *testing.T) {
	ee := New(errSentinel).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())

	ee = New(errSentinel).Priority(PriorityHigh).Build()
	assert.Equal(t, PriorityHigh, ee.GetPriority())
}

func TestScrubMessageForPrivacy(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		absent  string
		present string
	}{
		{"url query", "fetch https://example.com/x?token=abc123", "abc123", "https://example.com/x?[REDACTED]"},
		{"api key", "bad api_key=secret123 here", "secret123", "[REDACTED]"},
		{"long hex", "dsn 0123456789abcdef0123456789abcdef01", "0123456789abcdef0123456789abcdef01", "[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := scrubMessageForPrivacy(tt.in)
			assert.NotContains(t, out, tt.absent)
			assert.Contains(t, out, tt.present)
		})
	}
}
