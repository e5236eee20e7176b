package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenTranscript(t *testing.T) {
	data := &TerminationEventData{
		Transcript: []TranscriptTurn{
			{Role: "agent", Message: "Hello, how are you today?"},
			{Role: "user", Message: "  Doing well, thanks.  "},
			{Role: "agent", Message: ""},
			{Role: "user", Message: "Bye"},
		},
	}

	assert.Equal(t,
		"agent: Hello, how are you today?\nuser: Doing well, thanks.\nuser: Bye",
		data.FlattenTranscript())
}

func TestFlattenTranscriptEmpty(t *testing.T) {
	data := &TerminationEventData{}
	assert.Empty(t, data.FlattenTranscript())

	data.Transcript = []TranscriptTurn{{Role: "agent", Message: "   "}}
	assert.Empty(t, data.FlattenTranscript())
}

func TestCallMetadataDirection(t *testing.T) {
	assert.Equal(t, DirectionOutbound, (&CallMetadata{CallDirection: "outbound"}).Direction())
	assert.Equal(t, DirectionOutbound, (&CallMetadata{CallDirection: "Outbound"}).Direction())
	assert.Equal(t, DirectionInbound, (&CallMetadata{CallDirection: "inbound"}).Direction())
	assert.Equal(t, DirectionInbound, (&CallMetadata{}).Direction())
}

func TestTerminationEventDecoding(t *testing.T) {
	payload := []byte(`{
		"type": "post_call_transcription",
		"data": {
			"conversation_id": "conv_001",
			"agent_id": "agent_1",
			"transcript": [{"role": "agent", "message": "Hello"}],
			"metadata": {
				"call_sid": "CA123",
				"phone_number": "+15551234567",
				"call_duration_secs": 42,
				"call_direction": "inbound"
			},
			"analysis": {
				"happiness_level": "content",
				"transcript_summary": "A pleasant check-in."
			}
		}
	}`)

	var event TerminationEvent
	require.NoError(t, json.Unmarshal(payload, &event))

	assert.Equal(t, "post_call_transcription", event.Type)
	assert.Equal(t, "conv_001", event.Data.ConversationID)
	assert.Equal(t, "CA123", event.Data.Metadata.CallSID)
	assert.Equal(t, 42, event.Data.Metadata.CallDurationSecs)
	assert.Equal(t, "content", event.Data.Analysis.HappinessLevel)
	assert.Equal(t, "agent: Hello", event.Data.FlattenTranscript())
}
