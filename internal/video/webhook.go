package video

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const SignatureHeader = "X-Signature"

// Webhook event types consumed by the service.
const (
	EventSessionStarted     = "call.session_started"
	EventSessionEnded       = "call.session_ended"
	EventTranscriptionReady = "call.transcription_ready"
	EventRecordingReady     = "call.recording_ready"
)

var ErrBadSignature = errors.New("invalid webhook signature")

// Event is the decoded subset of a platform webhook payload.
type Event struct {
	Type              string `json:"type"`
	CallCID           string `json:"call_cid"`
	CallTranscription *Asset `json:"call_transcription,omitempty"`
	CallRecording     *Asset `json:"call_recording,omitempty"`
}

// Asset is a file produced by the platform for a call.
type Asset struct {
	URL string `json:"url"`
}

// MeetingID returns the call id half of the event's call cid.
func (e Event) MeetingID() (string, error) {
	_, id, err := ParseCallCID(e.CallCID)
	return id, err
}

// TranscriptURL is empty unless the event carries a transcription.
func (e Event) TranscriptURL() string {
	if e.CallTranscription == nil {
		return ""
	}
	return e.CallTranscription.URL
}

// RecordingURL is empty unless the event carries a recording.
func (e Event) RecordingURL() string {
	if e.CallRecording == nil {
		return ""
	}
	return e.CallRecording.URL
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// ParseEvent verifies and decodes a webhook delivery.
func ParseEvent(secret string, body []byte, signature string) (Event, error) {
	var ev Event
	if err := VerifySignature(secret, body, signature); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.Type == "" {
		return ev, errors.New("webhook event type missing")
	}
	return ev, nil
}
