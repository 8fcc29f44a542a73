package video

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetdash/internal/config"
)

type recorded struct {
	Path     string
	APIKey   string
	Auth     string
	AuthType string
	Body     map[string]any
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reqs = append(reqs, recorded{
			Path:     r.URL.Path,
			APIKey:   r.URL.Query().Get("api_key"),
			Auth:     r.Header.Get("Authorization"),
			AuthType: r.Header.Get("stream-auth-type"),
			Body:     body,
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"duration":"1ms"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func testVideoConfig(base string) config.VideoConfig {
	return config.VideoConfig{
		BaseURL:         base,
		APIKey:          "key",
		APISecret:       "secret",
		CallType:        "default",
		TokenTTLMinutes: 60,
		TimeoutSeconds:  2,
		Language:        "en",
		RecordQuality:   "1080p",
	}
}

func TestStreamClientRequests(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusCreated)
	c, err := NewStreamClient(testVideoConfig(srv.URL), DefaultBreakerSettings(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.UpsertUsers(ctx, User{ID: "u1", Name: "Ada", Role: RoleUser, Image: AvatarURL("", "Ada")}))
	require.NoError(t, c.CreateCall(ctx, CreateCallRequest{
		Type: "default", ID: "m1", CreatedByID: "u1",
		Custom:                map[string]any{"meetingId": "m1", "meetingName": "Standup"},
		TranscriptionLanguage: "en", RecordingQuality: "1080p",
	}))
	require.NoError(t, c.DeleteCall(ctx, "default", "m1"))

	require.Len(t, *reqs, 3)
	up, create, del := (*reqs)[0], (*reqs)[1], (*reqs)[2]

	assert.Equal(t, "/api/v2/users", up.Path)
	assert.Equal(t, "key", up.APIKey)
	assert.Equal(t, "jwt", up.AuthType)
	assert.NotEmpty(t, up.Auth)
	users := up.Body["users"].(map[string]any)
	assert.Equal(t, "Ada", users["u1"].(map[string]any)["name"])

	assert.Equal(t, "/api/v2/video/call/default/m1", create.Path)
	data := create.Body["data"].(map[string]any)
	assert.Equal(t, "u1", data["created_by_id"])
	settings := data["settings_override"].(map[string]any)
	assert.Equal(t, "auto-on", settings["transcription"].(map[string]any)["mode"])
	assert.Equal(t, "1080p", settings["recording"].(map[string]any)["quality"])

	assert.Equal(t, "/api/v2/video/call/default/m1/delete", del.Path)
	assert.Equal(t, true, del.Body["hard"])

	var claims serverClaims
	_, err = jwt.ParseWithClaims(up.Auth, &claims, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	assert.True(t, claims.Server)
}

func TestStreamClientUpstreamError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError)
	c, err := NewStreamClient(testVideoConfig(srv.URL), DefaultBreakerSettings(), nil)
	require.NoError(t, err)

	err = c.UpsertUsers(context.Background(), User{ID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestStreamClientBreakerOpens(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusBadGateway)
	bs := DefaultBreakerSettings()
	bs.MinRequests = 2
	bs.FailureThreshold = 0.5
	c, err := NewStreamClient(testVideoConfig(srv.URL), bs, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_ = c.DeleteCall(context.Background(), "default", "m1")
	}
	assert.Len(t, *reqs, 2, "breaker should stop forwarding once open")
}

func TestStreamClientBreakerIgnoresClientErrors(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusNotFound)
	bs := DefaultBreakerSettings()
	bs.MinRequests = 2
	bs.FailureThreshold = 0.5
	c, err := NewStreamClient(testVideoConfig(srv.URL), bs, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		err := c.DeleteCall(context.Background(), "default", "m1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUpstream))
	}
	assert.Len(t, *reqs, 4, "4xx responses must not open the breaker")
}

func TestNewStreamClientRequiresCredentials(t *testing.T) {
	cfg := testVideoConfig("http://localhost")
	cfg.APISecret = ""
	_, err := NewStreamClient(cfg, DefaultBreakerSettings(), nil)
	assert.Error(t, err)

	cfg = testVideoConfig("http://localhost")
	cfg.APIKey = ""
	_, err = NewStreamClient(cfg, DefaultBreakerSettings(), nil)
	assert.Error(t, err)
}

func TestUserTokenClaims(t *testing.T) {
	s, err := NewTokenSigner("secret", time.Hour)
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	raw, err := s.UserToken("u1")
	require.NoError(t, err)

	var claims userClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil },
		jwt.WithTimeFunc(s.now))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, now.Add(-time.Minute).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())

	id, err := s.ParseUserToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = s.ParseUserToken(raw)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = s.UserToken("")
	assert.Error(t, err)
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"type":"call.recording_ready","call_cid":"default:m1","call_recording":{"url":"https://cdn/rec.mp4"}}`)
	sig := Sign("secret", body)

	ev, err := ParseEvent("secret", body, sig)
	require.NoError(t, err)
	assert.Equal(t, EventRecordingReady, ev.Type)
	assert.Equal(t, "https://cdn/rec.mp4", ev.RecordingURL())
	assert.Empty(t, ev.TranscriptURL())
	id, err := ev.MeetingID()
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	_, err = ParseEvent("secret", body, Sign("other", body))
	assert.ErrorIs(t, err, ErrBadSignature)
	_, err = ParseEvent("secret", body, "not-hex")
	assert.ErrorIs(t, err, ErrBadSignature)
	_, err = ParseEvent("secret", append(body, ' '), sig)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestAvatarURL(t *testing.T) {
	assert.Equal(t, "https://img/me.png", AvatarURL("https://img/me.png", "Ada"))
	assert.Equal(t, "https://ui-avatars.com/api/?name=Ada%20Lovelace&background=random", AvatarURL("", " Ada Lovelace "))
	assert.Equal(t, "https://ui-avatars.com/api/?name=User&background=random", AvatarURL("", ""))
	assert.Equal(t, AvatarURL("", "Bob"), AvatarURL("", "Bob"))
}

func TestParseCallCID(t *testing.T) {
	typ, id, err := ParseCallCID("default:abc-123")
	require.NoError(t, err)
	assert.Equal(t, "default", typ)
	assert.Equal(t, "abc-123", id)

	for _, bad := range []string{"", "default", ":abc", "default:"} {
		_, _, err := ParseCallCID(bad)
		assert.Error(t, err, bad)
	}
}
