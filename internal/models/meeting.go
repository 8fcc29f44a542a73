package models

import (
	"fmt"
	"time"
)

// MeetingStatus is the lifecycle state of a meeting.
type MeetingStatus string

const (
	StatusUpcoming   MeetingStatus = "upcoming"
	StatusActive     MeetingStatus = "active"
	StatusCompleted  MeetingStatus = "completed"
	StatusProcessing MeetingStatus = "processing"
	StatusCancelled  MeetingStatus = "cancelled"
)

// MeetingStatuses lists every status in display order.
var MeetingStatuses = []MeetingStatus{
	StatusUpcoming,
	StatusActive,
	StatusCompleted,
	StatusProcessing,
	StatusCancelled,
}

var transitions = map[MeetingStatus][]MeetingStatus{
	StatusUpcoming:   {StatusActive, StatusCancelled},
	StatusActive:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted},
}

// ParseMeetingStatus validates s against the known statuses.
func ParseMeetingStatus(s string) (MeetingStatus, error) {
	for _, st := range MeetingStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown meeting status %q", s)
}

// CanTransition reports whether a meeting may move from s to next.
func (s MeetingStatus) CanTransition(next MeetingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sources returns every status from which s is reachable in one step.
func (s MeetingStatus) Sources() []MeetingStatus {
	var from []MeetingStatus
	for _, st := range MeetingStatuses {
		if st.CanTransition(s) {
			from = append(from, st)
		}
	}
	return from
}

// Terminal reports whether no further transition is possible.
func (s MeetingStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Meeting is a call bound to one agent and one owner.
type Meeting struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	UserID        string        `json:"userId"`
	AgentID       string        `json:"agentId"`
	Status        MeetingStatus `json:"status"`
	StartedAt     *time.Time    `json:"startedAt"`
	EndedAt       *time.Time    `json:"endedAt"`
	TranscriptURL *string       `json:"transcriptUrl"`
	RecordingURL  *string       `json:"recordingUrl"`
	Summary       *string       `json:"summary"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// OwnerID implements Owned.
func (m *Meeting) OwnerID() string {
	if m == nil {
		return ""
	}
	return m.UserID
}

// MeetingView is a meeting joined with its agent for display, plus the
// derived duration in seconds.
type MeetingView struct {
	Meeting
	AgentName string `json:"agentName"`
	Duration  *int64 `json:"duration"`
}

// NewMeetingView attaches the agent name and computes the duration.
func NewMeetingView(m Meeting, agentName string) MeetingView {
	return MeetingView{
		Meeting:   m,
		AgentName: agentName,
		Duration:  Duration(m.StartedAt, m.EndedAt),
	}
}

// Duration returns ended-started in whole seconds, or nil when either bound
// is unknown. A negative span (clock skew) is clamped to zero.
func Duration(startedAt, endedAt *time.Time) *int64 {
	if startedAt == nil || endedAt == nil {
		return nil
	}
	secs := int64(endedAt.Sub(*startedAt) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return &secs
}

// Owned is implemented by rows that belong to exactly one user.
type Owned interface {
	OwnerID() string
}
