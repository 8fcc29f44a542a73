package schedule

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"meetdash/internal/models"
	"meetdash/internal/service/ai"
	"meetdash/internal/video"
)

// ApplyEvent folds a verified video platform webhook into the meeting row.
// Events that would make an illegal transition are logged and dropped so
// redeliveries stay harmless.
func (s *Service) ApplyEvent(ctx context.Context, ev video.Event) error {
	id, err := ev.MeetingID()
	if err != nil {
		return validationError("%v", err)
	}
	m, err := s.loadMeeting(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return notFound("meeting")
	}
	log := s.logger.With(zap.String("event", ev.Type), zap.String("meeting_id", id))

	switch ev.Type {
	case video.EventSessionStarted:
		err = s.ignoreConflict(log, s.transitionEvent(ctx, m, models.StatusActive))
	case video.EventSessionEnded:
		err = s.ignoreConflict(log, s.transitionEvent(ctx, m, models.StatusProcessing))
	case video.EventTranscriptionReady:
		err = s.storeTranscript(ctx, m, ev.TranscriptURL(), log)
	case video.EventRecordingReady:
		err = s.setColumn(ctx, m, "recording_url", ev.RecordingURL())
	default:
		log.Debug("ignoring webhook event")
		return nil
	}
	if err != nil {
		return err
	}
	s.invalidateMeeting(ctx, m.UserID, m.ID)
	return nil
}

func (s *Service) transitionEvent(ctx context.Context, m *models.Meeting, target models.MeetingStatus) error {
	_, err := s.transition(ctx, m.UserID, m.ID, target)
	return err
}

func (s *Service) ignoreConflict(log *zap.Logger, err error) error {
	if errors.Is(err, ErrConflict) {
		log.Info("webhook transition skipped", zap.Error(err))
		return nil
	}
	return err
}

func (s *Service) setColumn(ctx context.Context, m *models.Meeting, column, value string) error {
	if value == "" {
		return validationError("%s missing from event", column)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, s.timestamp(), m.ID)
	if err != nil {
		return internal("update "+column, err)
	}
	return nil
}

func (s *Service) storeTranscript(ctx context.Context, m *models.Meeting, url string, log *zap.Logger) error {
	if err := s.setColumn(ctx, m, "transcript_url", url); err != nil {
		return err
	}
	// a transcript means the call is over even if session_ended was missed
	status := m.Status
	if status == models.StatusActive {
		err := s.transitionEvent(ctx, m, models.StatusProcessing)
		if err == nil {
			status = models.StatusProcessing
		} else if err = s.ignoreConflict(log, err); err != nil {
			return err
		}
	}
	if status != models.StatusProcessing {
		log.Warn("transcript stored without summary", zap.String("status", string(status)))
		return nil
	}
	if s.queue == nil {
		log.Warn("no summary queue configured; transcript stored without summary")
		return nil
	}
	if err := s.queue.EnqueueSummary(m.UserID, m.ID); err != nil {
		log.Error("enqueue summary failed", zap.Error(err))
		return internal("enqueue summary", err)
	}
	return nil
}

// SummarizeMeeting generates and stores the summary of a processing
// meeting, moving it to completed.
func (s *Service) SummarizeMeeting(ctx context.Context, meetingID string) error {
	if s.summarizer == nil {
		return errors.New("summarizer not configured")
	}
	m, err := s.loadMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if m == nil {
		return notFound("meeting")
	}
	if m.Status != models.StatusProcessing {
		return conflict("meeting is %s, not processing", m.Status)
	}
	if m.TranscriptURL == nil || *m.TranscriptURL == "" {
		return validationError("meeting has no transcript")
	}
	agent, err := s.loadAgent(ctx, m.AgentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return notFound("agent")
	}

	speakers := map[string]string{agent.ID: agent.Name}
	var ownerName string
	if err := s.db.QueryRowContext(ctx, `SELECT name FROM users WHERE id = ?`, m.UserID).Scan(&ownerName); err == nil {
		speakers[m.UserID] = ownerName
	}

	summary, err := s.summarizer.Summarize(ctx, ai.Request{
		MeetingID:         m.ID,
		MeetingName:       m.Name,
		AgentName:         agent.Name,
		AgentInstructions: agent.Instructions,
		TranscriptURL:     *m.TranscriptURL,
		Speakers:          speakers,
	})
	if errors.Is(err, ai.ErrEmptyTranscript) || errors.Is(err, ai.ErrMalformedTranscript) {
		return &Error{Kind: KindValidation, Message: "transcript cannot be summarized", Err: err}
	}
	if err != nil {
		return upstream("summarize transcript", err)
	}
	if _, err := s.transition(ctx, m.UserID, m.ID, models.StatusCompleted, columnChange{"summary", summary}); err != nil {
		return fmt.Errorf("complete meeting: %w", err)
	}
	s.invalidateMeeting(ctx, m.UserID, m.ID)
	s.logger.Info("meeting summarized", zap.String("meeting_id", m.ID))
	return nil
}
