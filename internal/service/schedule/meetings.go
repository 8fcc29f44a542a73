package schedule

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meetdash/internal/cache"
	"meetdash/internal/metrics"
	"meetdash/internal/models"
	"meetdash/internal/video"
)

type CreateMeetingInput struct {
	Name    string `json:"name" validate:"required,max=255"`
	AgentID string `json:"agentId" validate:"required"`
}

// UpdateMeetingInput changes the non-nil fields. A status change must be a
// legal lifecycle transition.
type UpdateMeetingInput struct {
	ID      string  `json:"id" validate:"required"`
	Name    *string `json:"name,omitempty" validate:"omitempty,max=255"`
	AgentID *string `json:"agentId,omitempty"`
	Status  *string `json:"status,omitempty"`
}

type ListMeetingsInput struct {
	PageRequest
	Search string `json:"search,omitempty"`
	// Status filters by equality; "" and "all" disable the filter.
	Status string `json:"status,omitempty"`
}

const meetingColumns = `m.id, m.name, m.user_id, m.agent_id, m.status, m.started_at, m.ended_at,
	m.transcript_url, m.recording_url, m.summary, m.created_at, m.updated_at`

func scanMeetingInto(row rowScanner, m *models.Meeting, extra ...any) error {
	var (
		status             string
		started, ended     sql.NullTime
		transcript, record sql.NullString
		summary            sql.NullString
	)
	dest := []any{&m.ID, &m.Name, &m.UserID, &m.AgentID, &status, &started, &ended,
		&transcript, &record, &summary, &m.CreatedAt, &m.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	m.Status = models.MeetingStatus(status)
	m.StartedAt = nullTime(started)
	m.EndedAt = nullTime(ended)
	m.TranscriptURL = nullString(transcript)
	m.RecordingURL = nullString(record)
	m.Summary = nullString(summary)
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (s *Service) loadMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	var m models.Meeting
	err := scanMeetingInto(s.db.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings m WHERE m.id = ?`, id), &m)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internal("load meeting", err)
	}
	return &m, nil
}

func (s *Service) ownedMeeting(ctx context.Context, userID, id string) (*models.Meeting, error) {
	m, err := s.loadMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	return requireOwner(m, userID, "meeting")
}

// GetMeeting implements meeting.getOne.
func (s *Service) GetMeeting(ctx context.Context, userID, id string) (*models.MeetingView, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationError("id is required")
	}
	key := cache.Key(userID, procMeetingGetOne, idArgs{ID: id})
	return cache.Remember(ctx, s.cache, key, s.opts.CacheTTL, func() (*models.MeetingView, error) {
		var (
			m         models.Meeting
			agentName string
		)
		err := scanMeetingInto(s.db.QueryRowContext(ctx,
			`SELECT `+meetingColumns+`, a.name FROM meetings m JOIN agents a ON a.id = m.agent_id WHERE m.id = ?`, id),
			&m, &agentName)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("meeting")
		}
		if err != nil {
			return nil, internal("load meeting", err)
		}
		if _, err := requireOwner(&m, userID, "meeting"); err != nil {
			return nil, err
		}
		view := models.NewMeetingView(m, agentName)
		return &view, nil
	})
}

// ListMeetings implements meeting.getMany.
func (s *Service) ListMeetings(ctx context.Context, userID string, in ListMeetingsInput) (Page[models.MeetingView], error) {
	b, err := s.resolvePage(in.PageRequest)
	if err != nil {
		return Page[models.MeetingView]{}, err
	}
	var status models.MeetingStatus
	if raw := strings.TrimSpace(in.Status); raw != "" && raw != "all" {
		if status, err = models.ParseMeetingStatus(raw); err != nil {
			return Page[models.MeetingView]{}, validationError("unknown status %q", raw)
		}
	}
	search := strings.TrimSpace(in.Search)
	key := cache.Key(userID, procMeetingGetMany, listArgs{Page: b.page, PageSize: b.size, Search: search, Status: string(status)})
	return cache.Remember(ctx, s.cache, key, s.opts.CacheTTL, func() (Page[models.MeetingView], error) {
		return s.listMeetings(ctx, userID, b, search, status)
	})
}

func (s *Service) listMeetings(ctx context.Context, userID string, b pageBounds, search string, status models.MeetingStatus) (Page[models.MeetingView], error) {
	where := []string{"m.user_id = ?"}
	args := []any{userID}
	if search != "" {
		where = append(where, "LOWER(m.name) LIKE ? ESCAPE '!'")
		args = append(args, likePattern(search))
	}
	if status != "" {
		where = append(where, "m.status = ?")
		args = append(args, string(status))
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings m`+clause, args...).Scan(&total); err != nil {
		return Page[models.MeetingView]{}, internal("count meetings", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+meetingColumns+`, a.name FROM meetings m JOIN agents a ON a.id = m.agent_id`+clause+
			` ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`,
		append(args, b.size, b.offset())...)
	if err != nil {
		return Page[models.MeetingView]{}, internal("list meetings", err)
	}
	defer rows.Close()

	items := make([]models.MeetingView, 0, b.size)
	for rows.Next() {
		var (
			m         models.Meeting
			agentName string
		)
		if err := scanMeetingInto(rows, &m, &agentName); err != nil {
			return Page[models.MeetingView]{}, internal("scan meeting", err)
		}
		items = append(items, models.NewMeetingView(m, agentName))
	}
	if err := rows.Err(); err != nil {
		return Page[models.MeetingView]{}, internal("list meetings", err)
	}
	return Page[models.MeetingView]{Items: items, Total: total, TotalPages: totalPages(total, b.size)}, nil
}

func participant(u *models.User) video.User {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = "User"
	}
	return video.User{ID: u.ID, Name: name, Role: video.RoleUser, Image: video.AvatarURL(u.Image, name)}
}

func agentParticipant(a *models.Agent) video.User {
	return video.User{ID: a.ID, Name: a.Name, Role: video.RoleUser, Image: video.AvatarURL("", a.Name)}
}

// CreateMeeting implements meeting.create. The row, the platform call and
// both participants are created together or not at all.
func (s *Service) CreateMeeting(ctx context.Context, caller *models.User, in CreateMeetingInput) (*models.Meeting, error) {
	if caller == nil || caller.ID == "" {
		return nil, ErrUnauthorized
	}
	in.Name = strings.TrimSpace(in.Name)
	in.AgentID = strings.TrimSpace(in.AgentID)
	if err := s.check(in); err != nil {
		return nil, err
	}
	agent, err := s.ownedAgent(ctx, caller.ID, in.AgentID)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	m := &models.Meeting{
		ID:        uuid.NewString(),
		Name:      in.Name,
		UserID:    caller.ID,
		AgentID:   agent.ID,
		Status:    models.StatusUpcoming,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = newSaga("meeting.create", s.logger.With(zap.String("meeting_id", m.ID))).
		add(sagaStep{
			name: "insert_meeting",
			execute: func(ctx context.Context) error {
				_, err := s.db.ExecContext(ctx,
					`INSERT INTO meetings (id, name, user_id, agent_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
					m.ID, m.Name, m.UserID, m.AgentID, string(m.Status), m.CreatedAt, m.UpdatedAt)
				if err != nil {
					return internal("insert meeting", err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, m.ID)
				return err
			},
		}).
		add(sagaStep{
			name: "upsert_caller",
			execute: func(ctx context.Context) error {
				if err := s.video.UpsertUsers(ctx, participant(caller)); err != nil {
					return upstream("register participant with video platform", err)
				}
				return nil
			},
		}).
		add(sagaStep{
			name: "create_call",
			execute: func(ctx context.Context) error {
				err := s.video.CreateCall(ctx, video.CreateCallRequest{
					Type:                  s.opts.CallType,
					ID:                    m.ID,
					CreatedByID:           caller.ID,
					Custom:                map[string]any{"meetingId": m.ID, "meetingName": m.Name},
					TranscriptionLanguage: s.opts.TranscriptionLanguage,
					RecordingQuality:      s.opts.RecordingQuality,
				})
				if err != nil {
					return upstream("create video call", err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				return s.video.DeleteCall(ctx, s.opts.CallType, m.ID)
			},
		}).
		add(sagaStep{
			name: "upsert_agent",
			execute: func(ctx context.Context) error {
				if err := s.video.UpsertUsers(ctx, agentParticipant(agent)); err != nil {
					return upstream("register agent with video platform", err)
				}
				return nil
			},
		}).
		run(ctx)
	if err != nil {
		return nil, err
	}

	metrics.MeetingsCreated.Inc()
	s.invalidate(ctx, nil, cache.ProcedurePrefix(caller.ID, procMeetingGetMany))
	s.logger.Info("meeting created",
		zap.String("meeting_id", m.ID),
		zap.String("user_id", caller.ID),
		zap.String("agent_id", agent.ID))
	return m, nil
}

// UpdateMeeting implements meeting.update.
func (s *Service) UpdateMeeting(ctx context.Context, userID string, in UpdateMeetingInput) (*models.Meeting, error) {
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		if trimmed == "" {
			return nil, validationError("name is required")
		}
		in.Name = &trimmed
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	m, err := s.ownedMeeting(ctx, userID, in.ID)
	if err != nil {
		return nil, err
	}
	current := m.Status
	now := s.timestamp()

	if in.Name != nil {
		m.Name = *in.Name
	}
	if in.AgentID != nil {
		agent, err := s.ownedAgent(ctx, userID, strings.TrimSpace(*in.AgentID))
		if err != nil {
			return nil, err
		}
		m.AgentID = agent.ID
	}
	if in.Status != nil {
		target, err := models.ParseMeetingStatus(strings.TrimSpace(*in.Status))
		if err != nil {
			return nil, validationError("unknown status %q", *in.Status)
		}
		if target != current {
			if !current.CanTransition(target) {
				return nil, conflict("cannot move meeting from %s to %s", current, target)
			}
			m.Status = target
			stampTransition(m, target, now)
		}
	}
	m.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET name = ?, agent_id = ?, status = ?, started_at = ?, ended_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		m.Name, m.AgentID, string(m.Status), m.StartedAt, m.EndedAt, m.UpdatedAt,
		m.ID, userID, string(current))
	if err != nil {
		return nil, internal("update meeting", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.missOrConflict(ctx, userID, m.ID, "meeting changed while updating")
	}
	if m.Status != current {
		metrics.MeetingTransitions.WithLabelValues(string(m.Status)).Inc()
	}
	s.invalidateMeeting(ctx, userID, m.ID)
	return m, nil
}

func stampTransition(m *models.Meeting, target models.MeetingStatus, now time.Time) {
	switch target {
	case models.StatusActive:
		m.StartedAt = &now
	case models.StatusCancelled, models.StatusProcessing:
		m.EndedAt = &now
	}
}

// StartMeeting implements meeting.startMeeting (upcoming → active).
func (s *Service) StartMeeting(ctx context.Context, userID, id string) (*models.Meeting, error) {
	return s.transitionOwned(ctx, userID, id, models.StatusActive)
}

// CancelMeeting implements meeting.cancelMeeting (upcoming|active → cancelled).
func (s *Service) CancelMeeting(ctx context.Context, userID, id string) (*models.Meeting, error) {
	return s.transitionOwned(ctx, userID, id, models.StatusCancelled)
}

func (s *Service) transitionOwned(ctx context.Context, userID, id string, target models.MeetingStatus) (*models.Meeting, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationError("id is required")
	}
	if userID == "" {
		return nil, notFound("meeting")
	}
	m, err := s.transition(ctx, userID, id, target)
	if err != nil {
		return nil, err
	}
	s.invalidateMeeting(ctx, userID, id)
	return m, nil
}

type columnChange struct {
	column string
	value  any
}

// transition moves meeting id owned by ownerID to target with a single
// conditional UPDATE guarded by the legal source states.
func (s *Service) transition(ctx context.Context, ownerID, id string, target models.MeetingStatus, changes ...columnChange) (*models.Meeting, error) {
	sources := target.Sources()
	if len(sources) == 0 {
		return nil, s.missOrConflict(ctx, ownerID, id, "")
	}

	now := s.timestamp()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(target), now}
	switch target {
	case models.StatusActive:
		sets = append(sets, "started_at = ?")
		args = append(args, now)
	case models.StatusCancelled, models.StatusProcessing:
		sets = append(sets, "ended_at = ?")
		args = append(args, now)
	}
	for _, c := range changes {
		sets = append(sets, c.column+" = ?")
		args = append(args, c.value)
	}

	placeholders := make([]string, len(sources))
	args = append(args, id, ownerID)
	for i, src := range sources {
		placeholders[i] = "?"
		args = append(args, string(src))
	}
	query := `UPDATE meetings SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND user_id = ? AND status IN (` + strings.Join(placeholders, ", ") + `)`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, internal("update meeting status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.missOrConflict(ctx, ownerID, id, "cannot move meeting to "+string(target))
	}
	metrics.MeetingTransitions.WithLabelValues(string(target)).Inc()

	m, err := s.loadMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	return requireOwner(m, ownerID, "meeting")
}

// missOrConflict explains a conditional write that matched nothing.
func (s *Service) missOrConflict(ctx context.Context, ownerID, id, msg string) error {
	m, err := s.ownedMeeting(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return conflict("meeting is already %s", m.Status)
	}
	if msg == "" {
		msg = "invalid status transition"
	}
	return conflict("%s (meeting is %s)", msg, m.Status)
}

// RemoveMeeting implements meeting.remove.
func (s *Service) RemoveMeeting(ctx context.Context, userID, id string) (*models.Meeting, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationError("id is required")
	}
	m, err := s.ownedMeeting(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, internal("delete meeting", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, notFound("meeting")
	}
	s.invalidateMeeting(ctx, userID, id)
	return m, nil
}

// GenerateToken implements meeting.generateToken: it registers the caller
// with the video platform and mints a short-lived join token.
func (s *Service) GenerateToken(ctx context.Context, caller *models.User) (string, error) {
	if caller == nil || caller.ID == "" {
		return "", ErrUnauthorized
	}
	if err := s.video.UpsertUsers(ctx, participant(caller)); err != nil {
		return "", upstream("register participant with video platform", err)
	}
	token, err := s.video.CreateToken(caller.ID)
	if err != nil {
		return "", internal("mint video token", err)
	}
	return token, nil
}
