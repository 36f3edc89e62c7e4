package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDecodeDefinitionDurations(t *testing.T) {
	tests := []struct {
		name   string
		format DocumentFormat
		doc    string
	}{
		{
			name:   "json string",
			format: FormatJSON,
			doc:    `{"id":"w","states":[{"id":"pause","kind":"wait","duration":"1500ms","metadata":{"timeout":"2s"}}]}`,
		},
		{
			name:   "json nanoseconds",
			format: FormatJSON,
			doc:    `{"id":"w","states":[{"id":"pause","kind":"wait","duration":1500000000,"metadata":{"timeout":2000000000}}]}`,
		},
		{
			name:   "yaml string",
			format: FormatYAML,
			doc:    "id: w\nstates:\n  - id: pause\n    kind: wait\n    duration: 1500ms\n    metadata:\n      timeout: 2s\n",
		},
		{
			name:   "yaml nanoseconds",
			format: FormatYAML,
			doc:    "id: w\nstates:\n  - id: pause\n    kind: wait\n    duration: 1500000000\n    metadata:\n      timeout: 2000000000\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := DecodeDefinition([]byte(tt.doc), tt.format)
			require.NoError(t, err)
			require.Len(t, def.States, 1)
			assert.Equal(t, 1500*time.Millisecond, def.States[0].Duration.Std())
			assert.Equal(t, 2*time.Second, def.States[0].Metadata.Timeout.Std())
		})
	}
}

func TestDecodeDefinitionRejectsBadDuration(t *testing.T) {
	_, err := DecodeDefinition([]byte(`{"id":"w","states":[{"id":"pause","kind":"wait","duration":"soon"}]}`), FormatJSON)
	require.Error(t, err)

	_, err = DecodeDefinition([]byte("id: w\nstates:\n  - id: pause\n    kind: wait\n    duration: soon\n"), FormatYAML)
	require.Error(t, err)
}

func TestDurationEncodesAsString(t *testing.T) {
	node := StateNode{ID: "pause", Kind: NodeKindWait, Duration: Duration(90 * time.Second)}

	data, err := json.Marshal(node)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"duration":"1m30s"`)

	out, err := yaml.Marshal(node)
	require.NoError(t, err)
	assert.Contains(t, string(out), "duration: 1m30s")

	data, err = json.Marshal(StateNode{ID: "task", Kind: NodeKindActorTask})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "duration")
}
