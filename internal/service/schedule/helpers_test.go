package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"meetdash/internal/cache"
	"meetdash/internal/config"
	"meetdash/internal/models"
	"meetdash/internal/service/ai"
	"meetdash/internal/storage"
	"meetdash/internal/video"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSummarizer struct {
	mu       sync.Mutex
	summary  string
	err      error
	requests []ai.Request
}

func (f *fakeSummarizer) Summarize(_ context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.summary, f.err
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs [][2]string
}

func (q *recordingQueue) EnqueueSummary(ownerID, meetingID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, [2]string{ownerID, meetingID})
	return nil
}

type testEnv struct {
	svc        *Service
	db         *storage.DB
	video      *video.Fake
	clock      *testClock
	summarizer *fakeSummarizer
	queue      *recordingQueue
	alice      *models.User
	bob        *models.User
}

func newTestEnv(t *testing.T, mutate ...func(*Options, *Deps)) *testEnv {
	t.Helper()
	db, err := storage.Open("sqlite3", config.Default())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{
		db:         db,
		video:      video.NewFake(),
		clock:      &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		summarizer: &fakeSummarizer{summary: "### Overview\nAll good."},
		queue:      &recordingQueue{},
	}
	opts := OptionsFromConfig(config.Default())
	deps := Deps{DB: db, Video: env.video, Summarizer: env.summarizer}
	for _, m := range mutate {
		m(&opts, &deps)
	}
	env.svc = New(deps, opts)
	env.svc.SetClock(env.clock.Now)
	env.svc.SetSummaryQueue(env.queue)

	env.alice = insertUser(t, db, "alice", "Alice Doe", "")
	env.bob = insertUser(t, db, "bob", "Bob", "https://img.example/bob.png")
	return env
}

func withMemoryCache(o *Options, d *Deps) {
	d.Cache = cache.NewMemory(0)
	o.CacheTTL = time.Minute
}

func insertUser(t *testing.T, db *storage.DB, id, name, image string) *models.User {
	t.Helper()
	u := &models.User{ID: id, Name: name, Email: id + "@example.com", Image: image, CreatedAt: time.Now().UTC()}
	if _, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, image, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, "x", u.Image, u.CreatedAt); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return u
}

func (e *testEnv) agent(t *testing.T, owner *models.User, name string) *models.Agent {
	t.Helper()
	a, err := e.svc.CreateAgent(context.Background(), owner.ID, CreateAgentInput{Name: name, Instructions: "Take notes"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func (e *testEnv) meeting(t *testing.T, owner *models.User, agent *models.Agent, name string) *models.Meeting {
	t.Helper()
	m, err := e.svc.CreateMeeting(context.Background(), owner, CreateMeetingInput{Name: name, AgentID: agent.ID})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	return m
}

func (e *testEnv) setStatus(t *testing.T, id string, status models.MeetingStatus) {
	t.Helper()
	if _, err := e.db.ExecContext(context.Background(), `UPDATE meetings SET status = ? WHERE id = ?`, string(status), id); err != nil {
		t.Fatalf("set status: %v", err)
	}
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := e.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
