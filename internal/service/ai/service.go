// Package ai turns meeting transcripts into summaries with an LLM.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"meetdash/internal/config"
	"meetdash/internal/logging"
)

// Request carries everything needed to summarize one meeting.
type Request struct {
	MeetingID         string
	MeetingName       string
	AgentName         string
	AgentInstructions string
	TranscriptURL     string
	// Speakers maps transcript speaker ids to display names.
	Speakers map[string]string
}

// Summarizer produces meeting summaries from transcripts.
type Summarizer struct {
	chatModel model.BaseChatModel
	http      *http.Client
	logger    *zap.Logger
}

// NewChatModel builds the eino chat model for a configured provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig) (model.BaseChatModel, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no api key", provider)
	}
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return chatModel, nil
}

// NewSummarizer builds a summarizer for cfg.Summary.Provider.
func NewSummarizer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Summarizer, error) {
	provider := cfg.Summary.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	chatModel, err := NewChatModel(ctx, provider, provCfg)
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return NewSummarizerWithModel(chatModel, nil, logger), nil
}

// NewSummarizerWithModel wraps an existing chat model. A nil httpClient
// uses a client with a 30s timeout for transcript downloads.
func NewSummarizerWithModel(chatModel model.BaseChatModel, httpClient *http.Client, logger *zap.Logger) *Summarizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Summarizer{
		chatModel: chatModel,
		http:      httpClient,
		logger:    logging.OrNop(logger).Named("summarizer"),
	}
}

// Summarize downloads the transcript and asks the model for a summary.
func (s *Summarizer) Summarize(ctx context.Context, req Request) (string, error) {
	if req.TranscriptURL == "" {
		return "", errors.New("transcript url is required")
	}
	items, err := FetchTranscript(ctx, s.http, req.TranscriptURL)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", ErrEmptyTranscript
	}
	messages := buildMessages(req, items)

	streamReader, err := s.chatModel.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate summary stream failed: %w", err)
	}
	defer streamReader.Close()

	var full strings.Builder
	for {
		chunk, err := streamReader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read summary stream: %w", err)
		}
		full.WriteString(chunk.Content)
	}
	summary := strings.TrimSpace(full.String())
	if summary == "" {
		return "", errors.New("model returned an empty summary")
	}
	s.logger.Debug("summary generated",
		zap.String("meeting_id", req.MeetingID),
		zap.Int("transcript_lines", len(items)),
		zap.Int("summary_len", len(summary)))
	return summary, nil
}

func buildMessages(req Request, items []TranscriptItem) []*schema.Message {
	var system strings.Builder
	system.WriteString("You are an expert summarizer. You write readable, concise summaries of meeting transcripts.\n")
	system.WriteString("Use this markdown structure:\n\n")
	system.WriteString("### Overview\nA short narrative of what was discussed.\n\n")
	system.WriteString("### Notes\nThematic sections with bullet points and timestamps where useful.\n")
	if req.AgentName != "" {
		fmt.Fprintf(&system, "\nThe meeting was assisted by the agent %q", req.AgentName)
		if req.AgentInstructions != "" {
			fmt.Fprintf(&system, ", configured with these instructions:\n%s", req.AgentInstructions)
		}
		system.WriteString("\n")
	}

	var user strings.Builder
	if req.MeetingName != "" {
		fmt.Fprintf(&user, "Meeting: %s\n\n", req.MeetingName)
	}
	user.WriteString("Summarize the following transcript:\n\n")
	for _, item := range items {
		user.WriteString(item.Line(req.Speakers))
		user.WriteByte('\n')
	}

	return []*schema.Message{
		{Role: schema.System, Content: system.String()},
		{Role: schema.User, Content: user.String()},
	}
}
