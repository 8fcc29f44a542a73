package schedule

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meetdash/internal/cache"
	"meetdash/internal/metrics"
	"meetdash/internal/models"
)

type CreateAgentInput struct {
	Name         string `json:"name" validate:"required,max=255"`
	Instructions string `json:"instructions" validate:"required"`
}

// UpdateAgentInput changes the non-nil fields.
type UpdateAgentInput struct {
	ID           string  `json:"id" validate:"required"`
	Name         *string `json:"name,omitempty" validate:"omitempty,max=255"`
	Instructions *string `json:"instructions,omitempty"`
}

type ListAgentsInput struct {
	PageRequest
	Search string `json:"search,omitempty"`
}

const agentColumns = `id, name, user_id, instructions, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	if err := row.Scan(&a.ID, &a.Name, &a.UserID, &a.Instructions, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// loadAgent reads an agent regardless of owner. Callers pass the result
// through requireOwner.
func (s *Service) loadAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internal("load agent", err)
	}
	return a, nil
}

func (s *Service) ownedAgent(ctx context.Context, userID, id string) (*models.Agent, error) {
	a, err := s.loadAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	return requireOwner(a, userID, "agent")
}

// GetAgent implements agent.getOne.
func (s *Service) GetAgent(ctx context.Context, userID, id string) (*models.Agent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationError("id is required")
	}
	key := cache.Key(userID, procAgentGetOne, idArgs{ID: id})
	return cache.Remember(ctx, s.cache, key, s.opts.CacheTTL, func() (*models.Agent, error) {
		return s.ownedAgent(ctx, userID, id)
	})
}

// ListAgents implements agent.getMany.
func (s *Service) ListAgents(ctx context.Context, userID string, in ListAgentsInput) (Page[models.Agent], error) {
	b, err := s.resolvePage(in.PageRequest)
	if err != nil {
		return Page[models.Agent]{}, err
	}
	search := strings.TrimSpace(in.Search)
	load := func() (Page[models.Agent], error) {
		return s.listAgents(ctx, userID, b, search)
	}
	if s.opts.UnscopedAgentList {
		return load()
	}
	key := cache.Key(userID, procAgentGetMany, listArgs{Page: b.page, PageSize: b.size, Search: search})
	return cache.Remember(ctx, s.cache, key, s.opts.CacheTTL, load)
}

func (s *Service) listAgents(ctx context.Context, userID string, b pageBounds, search string) (Page[models.Agent], error) {
	var (
		where []string
		args  []any
	)
	if !s.opts.UnscopedAgentList {
		where = append(where, "user_id = ?")
		args = append(args, userID)
	}
	if search != "" {
		where = append(where, "LOWER(name) LIKE ? ESCAPE '!'")
		args = append(args, likePattern(search))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`+clause, args...).Scan(&total); err != nil {
		return Page[models.Agent]{}, internal("count agents", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, b.size, b.offset())...)
	if err != nil {
		return Page[models.Agent]{}, internal("list agents", err)
	}
	defer rows.Close()

	items := make([]models.Agent, 0, b.size)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return Page[models.Agent]{}, internal("scan agent", err)
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return Page[models.Agent]{}, internal("list agents", err)
	}
	return Page[models.Agent]{Items: items, Total: total, TotalPages: totalPages(total, b.size)}, nil
}

// CreateAgent implements agent.create.
func (s *Service) CreateAgent(ctx context.Context, userID string, in CreateAgentInput) (*models.Agent, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Instructions = strings.TrimSpace(in.Instructions)
	if err := s.check(in); err != nil {
		return nil, err
	}
	now := s.timestamp()
	a := &models.Agent{
		ID:           uuid.NewString(),
		Name:         in.Name,
		UserID:       userID,
		Instructions: in.Instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, user_id, instructions, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.UserID, a.Instructions, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return nil, internal("insert agent", err)
	}
	metrics.AgentsCreated.Inc()
	s.invalidate(ctx, nil, cache.ProcedurePrefix(userID, procAgentGetMany))
	return a, nil
}

// UpdateAgent implements agent.update.
func (s *Service) UpdateAgent(ctx context.Context, userID string, in UpdateAgentInput) (*models.Agent, error) {
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
	a, err := s.ownedAgent(ctx, userID, in.ID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		a.Name = *in.Name
	}
	if in.Instructions != nil {
		a.Instructions = strings.TrimSpace(*in.Instructions)
	}
	a.UpdatedAt = s.timestamp()

	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, instructions = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		a.Name, a.Instructions, a.UpdatedAt, a.ID, userID)
	if err != nil {
		return nil, internal("update agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, notFound("agent")
	}
	s.invalidateAgent(ctx, userID, a.ID, in.Name != nil)
	return a, nil
}

// RemoveAgent implements agent.remove. Agents still referenced by a
// meeting are kept and a Conflict is returned.
func (s *Service) RemoveAgent(ctx context.Context, userID, id string) (*models.Agent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationError("id is required")
	}
	a, err := s.ownedAgent(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings WHERE agent_id = ?`, id).Scan(&refs); err != nil {
		return nil, internal("count agent meetings", err)
	}
	if refs > 0 {
		return nil, conflict("agent is used by %d meeting(s)", refs)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, internal("delete agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, notFound("agent")
	}
	s.logger.Info("agent removed", zap.String("agent_id", id), zap.String("user_id", userID))
	s.invalidateAgent(ctx, userID, id, false)
	return a, nil
}
