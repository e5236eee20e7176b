package twilio

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/carelinkhq/carecall-voice-service/internal/core/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStartEnvelope(t *testing.T) {
	transport := &MediaStreamTransport{}

	data := []byte(`{
		"event": "start",
		"sequenceNumber": "1",
		"start": {
			"streamSid": "MZ123",
			"accountSid": "AC123",
			"callSid": "CA123",
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
			"customParameters": {"caller_name": "Sarah"}
		}
	}`)

	frame, ok, err := transport.decodeEnvelope(data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, relay.KindStart, frame.Kind)

	assert.Equal(t, "CA123", transport.CallSID())
	assert.Equal(t, "MZ123", transport.StreamSID())
	assert.Equal(t, "Sarah", transport.CustomParameter("caller_name"))
	assert.Empty(t, transport.CustomParameter("missing"))
}

func TestDecodeMediaEnvelope(t *testing.T) {
	transport := &MediaStreamTransport{}

	audio := []byte{0x7f, 0x80, 0x00, 0xff}
	data := []byte(`{"event": "media", "media": {"payload": "` +
		base64.StdEncoding.EncodeToString(audio) + `"}}`)

	frame, ok, err := transport.decodeEnvelope(data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, relay.KindAudio, frame.Kind)
	assert.Equal(t, audio, frame.Payload)
}

func TestDecodeMediaEnvelopeBadBase64(t *testing.T) {
	transport := &MediaStreamTransport{}

	_, _, err := transport.decodeEnvelope([]byte(`{"event": "media", "media": {"payload": "!!!"}}`))
	assert.Error(t, err)
}

func TestDecodeMarkAndStopEnvelopes(t *testing.T) {
	transport := &MediaStreamTransport{}

	frame, ok, err := transport.decodeEnvelope([]byte(`{"event": "mark", "mark": {"name": "greeting"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, relay.KindMark, frame.Kind)
	assert.Equal(t, "greeting", frame.Mark)

	frame, ok, err = transport.decodeEnvelope([]byte(`{"event": "stop", "stop": {"callSid": "CA123"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, relay.KindStop, frame.Kind)
}

func TestDecodeSkipsHandshakeAndUnknownEvents(t *testing.T) {
	transport := &MediaStreamTransport{}

	_, ok, err := transport.decodeEnvelope([]byte(`{"event": "connected", "protocol": "Call"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = transport.decodeEnvelope([]byte(`{"event": "dtmf"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = transport.decodeEnvelope([]byte(`{not json`))
	assert.Error(t, err)
}

func TestEncodeAudioFrame(t *testing.T) {
	transport := &MediaStreamTransport{streamSID: "MZ123"}

	audio := []byte{1, 2, 3}
	data, err := transport.encodeFrame(relay.Frame{Kind: relay.KindAudio, Payload: audio})
	require.NoError(t, err)

	var env streamEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "media", env.Event)
	assert.Equal(t, "MZ123", env.StreamSid)
	require.NotNil(t, env.Media)
	assert.Equal(t, base64.StdEncoding.EncodeToString(audio), env.Media.Payload)
}

func TestEncodeInterruptionMarkBecomesClear(t *testing.T) {
	transport := &MediaStreamTransport{streamSID: "MZ123"}

	data, err := transport.encodeFrame(relay.Frame{Kind: relay.KindMark, Mark: MarkInterruption})
	require.NoError(t, err)

	var env streamEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "clear", env.Event)
	assert.Equal(t, "MZ123", env.StreamSid)
	assert.Nil(t, env.Mark)
}

func TestEncodeNamedMark(t *testing.T) {
	transport := &MediaStreamTransport{streamSID: "MZ123"}

	data, err := transport.encodeFrame(relay.Frame{Kind: relay.KindMark, Mark: "greeting"})
	require.NoError(t, err)

	var env streamEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "mark", env.Event)
	require.NotNil(t, env.Mark)
	assert.Equal(t, "greeting", env.Mark.Name)
}

func TestEncodeControlFramesHaveNoWireForm(t *testing.T) {
	transport := &MediaStreamTransport{streamSID: "MZ123"}

	for _, kind := range []relay.Kind{relay.KindStart, relay.KindStop} {
		data, err := transport.encodeFrame(relay.Frame{Kind: kind})
		require.NoError(t, err)
		assert.Nil(t, data, "%s frames are not forwarded to the caller", kind)
	}
}
