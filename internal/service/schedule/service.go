// Package schedule implements the owner-scoped agent and meeting procedures,
// the meeting lifecycle and the video-platform side effects of creating a
// meeting.
package schedule

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"meetdash/internal/cache"
	"meetdash/internal/config"
	"meetdash/internal/logging"
	"meetdash/internal/service/ai"
	"meetdash/internal/storage"
	"meetdash/internal/video"
)

// Summarizer turns a finished meeting's transcript into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, req ai.Request) (string, error)
}

// SummaryQueue schedules summarization off the request path.
type SummaryQueue interface {
	EnqueueSummary(ownerID, meetingID string) error
}

// Options are the tunables of the procedure layer.
type Options struct {
	MinPageSize     int
	MaxPageSize     int
	DefaultPageSize int
	CacheTTL        time.Duration

	CallType              string
	TranscriptionLanguage string
	RecordingQuality      string

	// UnscopedAgentList makes agent.getMany list every user's agents.
	UnscopedAgentList bool
}

// OptionsFromConfig maps the runtime config onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	b := cfg.BasicConfig
	return Options{
		MinPageSize:           b.MinPageSize,
		MaxPageSize:           b.MaxPageSize,
		DefaultPageSize:       b.DefaultPageSize,
		CacheTTL:              time.Duration(b.CacheTTLSeconds) * time.Second,
		CallType:              cfg.Video.CallType,
		TranscriptionLanguage: cfg.Video.Language,
		RecordingQuality:      cfg.Video.RecordQuality,
		UnscopedAgentList:     b.UnscopedAgentList,
	}
}

// Deps are the collaborators of a Service. Cache, Summarizer and Logger
// are optional.
type Deps struct {
	DB         *storage.DB
	Video      video.Client
	Cache      cache.Cache
	Summarizer Summarizer
	Logger     *zap.Logger
}

// Service exposes the agent.* and meeting.* procedures.
type Service struct {
	db         *storage.DB
	video      video.Client
	cache      cache.Cache
	summarizer Summarizer
	queue      SummaryQueue
	validate   *validator.Validate
	logger     *zap.Logger
	opts       Options
	now        func() time.Time
}

// New builds a Service, filling unset Options with defaults.
func New(deps Deps, opts Options) *Service {
	if opts.MinPageSize <= 0 {
		opts.MinPageSize = 1
	}
	if opts.MaxPageSize < opts.MinPageSize {
		opts.MaxPageSize = 100
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 10
	}
	opts.DefaultPageSize = min(max(opts.DefaultPageSize, opts.MinPageSize), opts.MaxPageSize)
	if opts.CallType == "" {
		opts.CallType = "default"
	}
	if opts.TranscriptionLanguage == "" {
		opts.TranscriptionLanguage = "en"
	}
	if opts.RecordingQuality == "" {
		opts.RecordingQuality = "1080p"
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &Service{
		db:         deps.DB,
		video:      deps.Video,
		cache:      deps.Cache,
		summarizer: deps.Summarizer,
		validate:   v,
		logger:     logging.OrNop(deps.Logger).Named("schedule"),
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetSummaryQueue attaches the background queue used once a transcript is
// available. Without one, transcripts are stored but never summarized.
func (s *Service) SetSummaryQueue(q SummaryQueue) {
	s.queue = q
}

// SetClock replaces the time source. Values are normalised to UTC.
func (s *Service) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// timestamp is the current time at the precision every supported database
// stores.
func (s *Service) timestamp() time.Time {
	return s.now().Truncate(time.Microsecond)
}

// Page is one page of a list procedure.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PageRequest selects a page. Nil fields take their defaults.
type PageRequest struct {
	Page     *int `json:"page,omitempty"`
	PageSize *int `json:"pageSize,omitempty"`
}

type pageBounds struct {
	page, size int
}

// offset saturates instead of overflowing so far-off pages come back empty.
func (b pageBounds) offset() int {
	if b.page-1 > math.MaxInt/b.size {
		return math.MaxInt
	}
	return (b.page - 1) * b.size
}

func totalPages(total, size int) int {
	if size <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(size)))
}

func (s *Service) resolvePage(req PageRequest) (pageBounds, error) {
	b := pageBounds{page: 1, size: s.opts.DefaultPageSize}
	if req.Page != nil {
		if *req.Page < 1 {
			return b, validationError("page must be at least 1")
		}
		b.page = *req.Page
	}
	if req.PageSize != nil {
		if *req.PageSize < s.opts.MinPageSize || *req.PageSize > s.opts.MaxPageSize {
			return b, validationError("pageSize must be between %d and %d", s.opts.MinPageSize, s.opts.MaxPageSize)
		}
		b.size = *req.PageSize
	}
	return b, nil
}

// likePattern builds a case-insensitive substring pattern for
// `LOWER(col) LIKE ? ESCAPE '!'`.
func likePattern(search string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(search)) + "%"
}

func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return internal("validate input", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return validationError("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// Cache keys. Arguments are normalised before keying so equivalent calls
// share an entry.

const (
	procAgentGetOne    = "agent.getOne"
	procAgentGetMany   = "agent.getMany"
	procMeetingGetOne  = "meeting.getOne"
	procMeetingGetMany = "meeting.getMany"
)

type idArgs struct {
	ID string `json:"id"`
}

type listArgs struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Search   string `json:"search,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (s *Service) invalidate(ctx context.Context, keys []string, prefixes ...string) {
	if s.cache == nil {
		return
	}
	if len(keys) > 0 {
		if err := s.cache.Delete(ctx, keys...); err != nil {
			s.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
		}
	}
	for _, p := range prefixes {
		if _, err := s.cache.DeletePrefix(ctx, p); err != nil {
			s.logger.Warn("cache prefix invalidation failed", zap.String("prefix", p), zap.Error(err))
		}
	}
}

func (s *Service) invalidateMeeting(ctx context.Context, ownerID, meetingID string) {
	s.invalidate(ctx,
		[]string{cache.Key(ownerID, procMeetingGetOne, idArgs{ID: meetingID})},
		cache.ProcedurePrefix(ownerID, procMeetingGetMany))
}

func (s *Service) invalidateAgent(ctx context.Context, ownerID, agentID string, withMeetings bool) {
	prefixes := []string{cache.ProcedurePrefix(ownerID, procAgentGetMany)}
	if withMeetings {
		prefixes = append(prefixes,
			cache.ProcedurePrefix(ownerID, procMeetingGetOne),
			cache.ProcedurePrefix(ownerID, procMeetingGetMany))
	}
	s.invalidate(ctx, []string{cache.Key(ownerID, procAgentGetOne, idArgs{ID: agentID})}, prefixes...)
}
