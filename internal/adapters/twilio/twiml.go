package twilio

import (
	"github.com/twilio/twilio-go/twiml"
)

// InboundStreamResponse renders the TwiML answer for an inbound call: a
// short greeting pause then a bidirectional media stream connected to our
// WebSocket endpoint.
func InboundStreamResponse(streamURL string) (string, error) {
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{
				Url: streamURL,
			},
		},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// FailureResponse renders the TwiML apology played when the service cannot
// take the call.
func FailureResponse() (string, error) {
	say := &twiml.VoiceSay{
		Message: "We are sorry, the check-in service is unavailable right now. Please try again later.",
	}
	hangup := &twiml.VoiceHangup{}
	return twiml.Voice([]twiml.Element{say, hangup})
}
