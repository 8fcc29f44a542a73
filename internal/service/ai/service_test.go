package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"meetdash/internal/config"
)

type fakeChatModel struct {
	chunks []string
	err    error
	input  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: strings.Join(f.chunks, "")}, nil
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, &schema.Message{Role: schema.Assistant, Content: c})
	}
	return schema.StreamReaderFromArray(msgs), nil
}

const transcriptJSONL = `{"speaker_id":"u1","type":"speech","text":"Let's review the roadmap.","start_ts":0,"stop_ts":1500}

{"speaker_id":"agent-1","type":"speech","text":"Sure, three items are open.","start_ts":65000,"stop_ts":67000}
{"speaker_id":"u1","type":"speech","text":"   ","start_ts":70000,"stop_ts":70500}
`

func transcriptServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseTranscript(t *testing.T) {
	items, err := ParseTranscript(strings.NewReader(transcriptJSONL))
	if err != nil {
		t.Fatalf("ParseTranscript: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	line := items[1].Line(map[string]string{"agent-1": "Helper"})
	if line != "[01:05] Helper: Sure, three items are open." {
		t.Fatalf("unexpected line %q", line)
	}
	if got := items[0].Line(nil); got != "[00:00] u1: Let's review the roadmap." {
		t.Fatalf("unexpected fallback line %q", got)
	}

	if _, err := ParseTranscript(strings.NewReader("{not json}\n")); !errors.Is(err, ErrMalformedTranscript) {
		t.Fatalf("expected ErrMalformedTranscript, got %v", err)
	}
}

func TestSummarizeStreamsModelOutput(t *testing.T) {
	srv := transcriptServer(t, transcriptJSONL, http.StatusOK)
	fake := &fakeChatModel{chunks: []string{"### Overview\n", "Roadmap review."}}
	s := NewSummarizerWithModel(fake, srv.Client(), nil)

	summary, err := s.Summarize(context.Background(), Request{
		MeetingID:         "m1",
		MeetingName:       "Planning",
		AgentName:         "Helper",
		AgentInstructions: "Be brief",
		TranscriptURL:     srv.URL,
		Speakers:          map[string]string{"u1": "Ada", "agent-1": "Helper"},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "### Overview\nRoadmap review." {
		t.Fatalf("unexpected summary %q", summary)
	}
	if len(fake.input) != 2 || fake.input[0].Role != schema.System {
		t.Fatalf("unexpected prompt %+v", fake.input)
	}
	if !strings.Contains(fake.input[0].Content, "Be brief") {
		t.Fatalf("agent instructions missing from system prompt")
	}
	if !strings.Contains(fake.input[1].Content, "[00:00] Ada: Let's review the roadmap.") {
		t.Fatalf("speaker names not applied: %s", fake.input[1].Content)
	}
}

func TestSummarizeErrors(t *testing.T) {
	ctx := context.Background()

	empty := transcriptServer(t, "\n\n", http.StatusOK)
	s := NewSummarizerWithModel(&fakeChatModel{chunks: []string{"x"}}, empty.Client(), nil)
	if _, err := s.Summarize(ctx, Request{TranscriptURL: empty.URL}); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}

	missing := transcriptServer(t, "gone", http.StatusNotFound)
	s = NewSummarizerWithModel(&fakeChatModel{chunks: []string{"x"}}, missing.Client(), nil)
	if _, err := s.Summarize(ctx, Request{TranscriptURL: missing.URL}); err == nil {
		t.Fatalf("expected fetch error")
	}

	ok := transcriptServer(t, transcriptJSONL, http.StatusOK)
	s = NewSummarizerWithModel(&fakeChatModel{err: errors.New("quota")}, ok.Client(), nil)
	if _, err := s.Summarize(ctx, Request{TranscriptURL: ok.URL}); err == nil {
		t.Fatalf("expected model error")
	}

	if _, err := s.Summarize(ctx, Request{}); err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestNewChatModelRejectsUnknownProvider(t *testing.T) {
	if _, err := NewChatModel(context.Background(), "llama", configWithKey()); err == nil {
		t.Fatalf("expected invalid provider error")
	}
}

func configWithKey() config.ProviderConfig {
	return config.ProviderConfig{APIKey: "k", Model: "m"}
}
