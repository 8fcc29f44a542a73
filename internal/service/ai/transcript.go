package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxTranscriptBytes = 8 << 20

var (
	ErrEmptyTranscript     = errors.New("transcript is empty")
	ErrMalformedTranscript = errors.New("malformed transcript")
)

// TranscriptItem is one JSONL line of a platform transcript.
type TranscriptItem struct {
	SpeakerID string `json:"speaker_id"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	StartTS   int64  `json:"start_ts"`
	StopTS    int64  `json:"stop_ts"`
}

// Line renders the item as "[mm:ss] Speaker: text".
func (t TranscriptItem) Line(speakers map[string]string) string {
	name := speakers[t.SpeakerID]
	if name == "" {
		name = t.SpeakerID
	}
	if name == "" {
		name = "Unknown"
	}
	offset := time.Duration(t.StartTS) * time.Millisecond
	mins := int(offset / time.Minute)
	secs := int((offset % time.Minute) / time.Second)
	return fmt.Sprintf("[%02d:%02d] %s: %s", mins, secs, name, strings.TrimSpace(t.Text))
}

// ParseTranscript decodes JSONL. Blank lines are skipped and lines without
// text are dropped.
func ParseTranscript(r io.Reader) ([]TranscriptItem, error) {
	var items []TranscriptItem
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item TranscriptItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedTranscript, lineNo, err)
		}
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return items, nil
}

// FetchTranscript downloads and parses the transcript at url.
func FetchTranscript(ctx context.Context, client *http.Client, url string) ([]TranscriptItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch transcript: status %d", resp.StatusCode)
	}
	return ParseTranscript(io.LimitReader(resp.Body, maxTranscriptBytes))
}
