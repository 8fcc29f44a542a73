// Package video talks to the external video platform: participant upserts,
// call lifecycle, join tokens and webhook verification.
package video

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Client is the subset of the platform API the service depends on.
type Client interface {
	UpsertUsers(ctx context.Context, users ...User) error
	CreateCall(ctx context.Context, req CreateCallRequest) error
	DeleteCall(ctx context.Context, callType, callID string) error
	CreateToken(userID string) (string, error)
}

// User is a call participant known to the platform.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Image string `json:"image,omitempty"`
}

const RoleUser = "user"

// CreateCallRequest describes a call to create.
type CreateCallRequest struct {
	Type        string
	ID          string
	CreatedByID string
	Custom      map[string]any
	// Transcription and recording are requested in auto-on mode.
	TranscriptionLanguage string
	RecordingQuality      string
}

// CallCID is the platform's composite call id, "<type>:<id>".
func CallCID(callType, callID string) string {
	return callType + ":" + callID
}

// ParseCallCID splits a composite call id.
func ParseCallCID(cid string) (callType, callID string, err error) {
	callType, callID, ok := strings.Cut(cid, ":")
	if !ok || callType == "" || callID == "" {
		return "", "", fmt.Errorf("malformed call cid %q", cid)
	}
	return callType, callID, nil
}

// ErrUpstream is wrapped by every failed platform call.
var ErrUpstream = errors.New("video platform error")

// AvatarURL returns image when set, otherwise a generated placeholder that
// is stable for a given name.
func AvatarURL(image, name string) string {
	if strings.TrimSpace(image) != "" {
		return image
	}
	display := strings.TrimSpace(name)
	if display == "" {
		display = "User"
	}
	escaped := strings.ReplaceAll(url.QueryEscape(display), "+", "%20")
	return "https://ui-avatars.com/api/?name=" + escaped + "&background=random"
}
