package devices

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamsplit/internal/hal"
)

var testDevices = []hal.DeviceInfo{
	{DeviceID: 1, Name: "Built-in Microphone", ID: "hw:0,0", IsDefault: true},
	{DeviceID: 2, Name: "USB Audio", ID: "hw:1,0"},
}

func TestWriteTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, testDevices))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Built-in Microphone")
	assert.Contains(t, lines[1], "*")
	assert.NotContains(t, lines[2], "*")
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, testDevices))

	var got []hal.DeviceInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, testDevices, got)
}
