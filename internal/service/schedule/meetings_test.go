package schedule

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"meetdash/internal/models"
	"meetdash/internal/video"
)

func TestCreateMeetingRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.agent(t, env.alice, "Scribe")

	m := env.meeting(t, env.alice, a, "Standup")
	got, err := env.svc.GetMeeting(ctx, env.alice.ID, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if got.Status != models.StatusUpcoming || got.StartedAt != nil || got.EndedAt != nil {
		t.Fatalf("unexpected initial state %+v", got)
	}
	if got.AgentName != "Scribe" || got.Duration != nil {
		t.Fatalf("unexpected view fields agentName=%q duration=%v", got.AgentName, got.Duration)
	}

	call, ok := env.video.Calls[video.CallCID("default", m.ID)]
	if !ok {
		t.Fatalf("video call not created")
	}
	if call.CreatedByID != env.alice.ID || call.Custom["meetingName"] != "Standup" || call.Custom["meetingId"] != m.ID {
		t.Fatalf("unexpected call request %+v", call)
	}
	if call.TranscriptionLanguage != "en" || call.RecordingQuality != "1080p" {
		t.Fatalf("unexpected call settings %+v", call)
	}

	caller, ok := env.video.User(env.alice.ID)
	if !ok || caller.Image != "https://ui-avatars.com/api/?name=Alice%20Doe&background=random" {
		t.Fatalf("caller not upserted with generated avatar: %+v", caller)
	}
	if _, ok := env.video.User(a.ID); !ok {
		t.Fatalf("agent not upserted")
	}

	if _, err := env.svc.GetMeeting(ctx, env.bob.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign getOne should be NotFound, got %v", err)
	}
}

func TestCreateMeetingRejectsUnknownAgentBeforeSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	foreign := env.agent(t, env.bob, "Bob's agent")

	for _, agentID := range []string{"missing", foreign.ID} {
		_, err := env.svc.CreateMeeting(ctx, env.alice, CreateMeetingInput{Name: "Sync", AgentID: agentID})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("agent %s: expected NotFound, got %v", agentID, err)
		}
	}
	if _, err := env.svc.CreateMeeting(ctx, env.alice, CreateMeetingInput{Name: "", AgentID: foreign.ID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty name should fail validation, got %v", err)
	}
	if n := env.count(t, "meetings"); n != 0 {
		t.Fatalf("rejected creation left %d meetings", n)
	}
	if len(env.video.Calls) != 0 || len(env.video.Users) != 0 {
		t.Fatalf("rejected creation touched the video platform")
	}
}

func TestCreateMeetingCompensatesOnAgentUpsertFailure(t *testing.T) {
	env := newTestEnv(t)
	a := env.agent(t, env.alice, "Flaky")
	env.video.FailUpsertFor[a.ID] = true

	_, err := env.svc.CreateMeeting(context.Background(), env.alice, CreateMeetingInput{Name: "Doomed", AgentID: a.ID})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if n := env.count(t, "meetings"); n != 0 {
		t.Fatalf("meeting row not compensated, %d rows", n)
	}
	if len(env.video.Calls) != 0 || len(env.video.Deleted) != 1 {
		t.Fatalf("call not compensated: calls=%v deleted=%v", env.video.Calls, env.video.Deleted)
	}
}

func TestCreateMeetingCompensatesOnCallFailure(t *testing.T) {
	env := newTestEnv(t)
	a := env.agent(t, env.alice, "Scribe")
	env.video.FailCreate = true

	_, err := env.svc.CreateMeeting(context.Background(), env.alice, CreateMeetingInput{Name: "Doomed", AgentID: a.ID})
	if KindOf(err) != KindUpstream {
		t.Fatalf("expected upstream kind, got %v", err)
	}
	if n := env.count(t, "meetings"); n != 0 {
		t.Fatalf("meeting row not compensated, %d rows", n)
	}
	if len(env.video.Deleted) != 0 {
		t.Fatalf("call that was never created should not be deleted")
	}
}

func TestStartMeetingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.meeting(t, env.alice, env.agent(t, env.alice, "Scribe"), "Standup")

	started, err := env.svc.StartMeeting(ctx, env.alice.ID, m.ID)
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	if started.Status != models.StatusActive || started.StartedAt == nil {
		t.Fatalf("unexpected started meeting %+v", started)
	}
	if _, err := env.svc.StartMeeting(ctx, env.alice.ID, m.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second start should conflict, got %v", err)
	}
	if _, err := env.svc.StartMeeting(ctx, env.bob.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign start should be NotFound, got %v", err)
	}

	env.clock.Advance(90 * time.Second)
	cancelled, err := env.svc.CancelMeeting(ctx, env.alice.ID, m.ID)
	if err != nil {
		t.Fatalf("CancelMeeting from active: %v", err)
	}
	if cancelled.Status != models.StatusCancelled || cancelled.EndedAt == nil {
		t.Fatalf("unexpected cancelled meeting %+v", cancelled)
	}
	view, err := env.svc.GetMeeting(ctx, env.alice.ID, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if view.Duration == nil || *view.Duration != 90 {
		t.Fatalf("duration = %v, want 90", view.Duration)
	}
	if _, err := env.svc.CancelMeeting(ctx, env.alice.ID, m.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancel of cancelled should conflict, got %v", err)
	}
}

func TestCancelMeetingRejectedFromTerminalStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.agent(t, env.alice, "Scribe")

	for _, st := range []models.MeetingStatus{models.StatusCompleted, models.StatusProcessing} {
		m := env.meeting(t, env.alice, a, "Review "+string(st))
		env.setStatus(t, m.ID, st)
		if _, err := env.svc.CancelMeeting(ctx, env.alice.ID, m.ID); !errors.Is(err, ErrConflict) {
			t.Fatalf("cancel from %s should conflict, got %v", st, err)
		}
		got, err := env.svc.GetMeeting(ctx, env.alice.ID, m.ID)
		if err != nil || got.Status != st || got.EndedAt != nil {
			t.Fatalf("rejected cancel modified meeting: %+v, %v", got, err)
		}
	}

	upcoming := env.meeting(t, env.alice, a, "Planning")
	if got, err := env.svc.CancelMeeting(ctx, env.alice.ID, upcoming.ID); err != nil || got.Status != models.StatusCancelled {
		t.Fatalf("cancel from upcoming: %+v, %v", got, err)
	}
}

func TestListMeetingsOrderingTieBreak(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.agent(t, env.alice, "Scribe")

	old := env.meeting(t, env.alice, a, "Old")
	env.clock.Advance(time.Hour)
	var tied []string
	for i := 0; i < 3; i++ {
		tied = append(tied, env.meeting(t, env.alice, a, "Tied").ID)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(tied)))

	page, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{})
	if err != nil {
		t.Fatalf("ListMeetings: %v", err)
	}
	if len(page.Items) != 4 {
		t.Fatalf("expected 4 meetings, got %d", len(page.Items))
	}
	for i, id := range tied {
		if page.Items[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, page.Items[i].ID, id)
		}
	}
	if page.Items[3].ID != old.ID {
		t.Fatalf("oldest meeting should be last")
	}
	if page.Items[0].AgentName != "Scribe" {
		t.Fatalf("list items should carry agent name")
	}

	again, _ := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{})
	for i := range page.Items {
		if page.Items[i].ID != again.Items[i].ID {
			t.Fatalf("ordering not deterministic")
		}
	}

	other, err := env.svc.ListMeetings(ctx, env.bob.ID, ListMeetingsInput{})
	if err != nil || other.Total != 0 {
		t.Fatalf("bob should see no meetings: %+v, %v", other, err)
	}
}

func TestListMeetingsSearchAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.agent(t, env.alice, "Scribe")
	names := []string{"Standup", "daily STANDUP", "Retro", "100% stand_ins", "Planning", "Émile sync"}
	ids := map[string]string{}
	for _, n := range names {
		ids[n] = env.meeting(t, env.alice, a, n).ID
		env.clock.Advance(time.Second)
	}
	env.meeting(t, env.bob, env.agent(t, env.bob, "B"), "Bob Standup")

	page, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{Search: "Stand"})
	if err != nil {
		t.Fatalf("ListMeetings: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("search Stand matched %d rows", page.Total)
	}
	for _, it := range page.Items {
		if !strings.Contains(strings.ToLower(it.Name), "stand") {
			t.Fatalf("unexpected match %q", it.Name)
		}
	}

	for search, want := range map[string]int{"%": 1, "_": 1, "d_i": 1} {
		p, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{Search: search})
		if err != nil || p.Total != want {
			t.Fatalf("search %q: total=%d err=%v, want %d", search, p.Total, err, want)
		}
	}

	folded, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{Search: "ÉMILE"})
	if err != nil || folded.Total != 1 || folded.Items[0].ID != ids["Émile sync"] {
		t.Fatalf("non-ascii search: %+v, %v", folded, err)
	}

	env.setStatus(t, ids["Retro"], models.StatusCompleted)
	done, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{Status: "completed"})
	if err != nil || done.Total != 1 || done.Items[0].ID != ids["Retro"] {
		t.Fatalf("status filter: %+v, %v", done, err)
	}
	all, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{Status: "all"})
	if err != nil || all.Total != len(names) {
		t.Fatalf("status all: %+v, %v", all, err)
	}
	if _, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{Status: "bogus"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status should fail validation, got %v", err)
	}

	paged, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{PageRequest: PageRequest{PageSize: intPtr(2)}})
	if err != nil || paged.TotalPages != 3 || len(paged.Items) != 2 {
		t.Fatalf("paging: %+v, %v", paged, err)
	}
	for _, page := range []int{4, 922337203685477582} {
		past, err := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{PageRequest: PageRequest{Page: intPtr(page), PageSize: intPtr(2)}})
		if err != nil || len(past.Items) != 0 || past.Total != len(names) {
			t.Fatalf("page %d past the end: %+v, %v", page, past, err)
		}
	}
}

func TestUpdateMeeting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.agent(t, env.alice, "Scribe")
	b := env.agent(t, env.alice, "Coach")
	m := env.meeting(t, env.alice, a, "Standup")

	got, err := env.svc.UpdateMeeting(ctx, env.alice.ID, UpdateMeetingInput{ID: m.ID, Name: strPtr("Daily"), AgentID: &b.ID})
	if err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}
	if got.Name != "Daily" || got.AgentID != b.ID || got.Status != models.StatusUpcoming {
		t.Fatalf("unexpected update result %+v", got)
	}

	if _, err := env.svc.UpdateMeeting(ctx, env.alice.ID, UpdateMeetingInput{ID: m.ID, Status: strPtr("completed")}); !errors.Is(err, ErrConflict) {
		t.Fatalf("upcoming→completed should conflict, got %v", err)
	}
	same, err := env.svc.UpdateMeeting(ctx, env.alice.ID, UpdateMeetingInput{ID: m.ID, Status: strPtr("upcoming")})
	if err != nil || same.Status != models.StatusUpcoming {
		t.Fatalf("unchanged status should be accepted: %+v, %v", same, err)
	}
	active, err := env.svc.UpdateMeeting(ctx, env.alice.ID, UpdateMeetingInput{ID: m.ID, Status: strPtr("active")})
	if err != nil || active.Status != models.StatusActive || active.StartedAt == nil {
		t.Fatalf("upcoming→active via update: %+v, %v", active, err)
	}

	foreign := env.agent(t, env.bob, "Bob's")
	if _, err := env.svc.UpdateMeeting(ctx, env.alice.ID, UpdateMeetingInput{ID: m.ID, AgentID: &foreign.ID}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign agent should be NotFound, got %v", err)
	}
	if _, err := env.svc.UpdateMeeting(ctx, env.bob.ID, UpdateMeetingInput{ID: m.ID, Name: strPtr("x")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign update should be NotFound, got %v", err)
	}
	if _, err := env.svc.UpdateMeeting(ctx, env.alice.ID, UpdateMeetingInput{ID: m.ID, Status: strPtr("later")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status should fail validation, got %v", err)
	}
}

func TestRemoveMeeting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.meeting(t, env.alice, env.agent(t, env.alice, "Scribe"), "Standup")

	if _, err := env.svc.RemoveMeeting(ctx, env.bob.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign remove should be NotFound, got %v", err)
	}
	removed, err := env.svc.RemoveMeeting(ctx, env.alice.ID, m.ID)
	if err != nil || removed.ID != m.ID {
		t.Fatalf("RemoveMeeting: %+v, %v", removed, err)
	}
	if _, err := env.svc.RemoveMeeting(ctx, env.alice.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove should be NotFound, got %v", err)
	}
}

func TestGenerateToken(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.svc.GenerateToken(context.Background(), env.bob)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if token != "token-bob" {
		t.Fatalf("unexpected token %q", token)
	}
	u, ok := env.video.User(env.bob.ID)
	if !ok || u.Image != env.bob.Image {
		t.Fatalf("caller not upserted with own avatar: %+v", u)
	}

	env.video.FailUpsertFor[env.alice.ID] = true
	if _, err := env.svc.GenerateToken(context.Background(), env.alice); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if _, err := env.svc.GenerateToken(context.Background(), nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCachedQueriesInvalidatedByMutations(t *testing.T) {
	env := newTestEnv(t, withMemoryCache)
	ctx := context.Background()
	a := env.agent(t, env.alice, "Scribe")
	m := env.meeting(t, env.alice, a, "Standup")

	if _, err := env.svc.GetMeeting(ctx, env.alice.ID, m.ID); err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	first, _ := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{})

	// a write that bypasses the service is hidden by the cache
	if _, err := env.db.ExecContext(ctx, `UPDATE meetings SET name = 'Sneaky' WHERE id = ?`, m.ID); err != nil {
		t.Fatalf("direct update: %v", err)
	}
	cached, _ := env.svc.GetMeeting(ctx, env.alice.ID, m.ID)
	if cached.Name != "Standup" {
		t.Fatalf("expected cached value, got %q", cached.Name)
	}

	if _, err := env.svc.StartMeeting(ctx, env.alice.ID, m.ID); err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	fresh, _ := env.svc.GetMeeting(ctx, env.alice.ID, m.ID)
	if fresh.Status != models.StatusActive || fresh.Name != "Sneaky" {
		t.Fatalf("getOne not invalidated: %+v", fresh)
	}
	list, _ := env.svc.ListMeetings(ctx, env.alice.ID, ListMeetingsInput{})
	if list.Items[0].Status != models.StatusActive || first.Items[0].Status != models.StatusUpcoming {
		t.Fatalf("getMany not invalidated")
	}

	if _, err := env.svc.UpdateAgent(ctx, env.alice.ID, UpdateAgentInput{ID: a.ID, Name: strPtr("Renamed")}); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	renamed, _ := env.svc.GetMeeting(ctx, env.alice.ID, m.ID)
	if renamed.AgentName != "Renamed" {
		t.Fatalf("agent rename did not invalidate meeting views: %q", renamed.AgentName)
	}
}
