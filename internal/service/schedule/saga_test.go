package schedule

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func TestSagaCompensatesInReverse(t *testing.T) {
	var trail []string
	step := func(name string, fail bool) sagaStep {
		return sagaStep{
			name: name,
			execute: func(context.Context) error {
				trail = append(trail, "do:"+name)
				if fail {
					return errors.New(name + " failed")
				}
				return nil
			},
			compensate: func(context.Context) error {
				trail = append(trail, "undo:"+name)
				return nil
			},
		}
	}

	err := newSaga("test", zap.NewNop()).
		add(step("a", false)).
		add(sagaStep{name: "b", execute: func(context.Context) error { trail = append(trail, "do:b"); return nil }}).
		add(step("c", false)).
		add(step("d", true)).
		add(step("e", false)).
		run(context.Background())
	if err == nil || err.Error() != "d failed" {
		t.Fatalf("unexpected saga error %v", err)
	}
	want := []string{"do:a", "do:b", "do:c", "do:d", "undo:c", "undo:a"}
	if !reflect.DeepEqual(trail, want) {
		t.Fatalf("trail = %v, want %v", trail, want)
	}
}

func TestSagaJoinsCompensationErrors(t *testing.T) {
	stepErr := upstream("create call", errors.New("boom"))
	undoErr := errors.New("delete failed")

	ctx, cancel := context.WithCancel(context.Background())
	err := newSaga("test", zap.NewNop()).
		add(sagaStep{
			name:    "insert",
			execute: func(context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				if ctx.Err() != nil {
					t.Errorf("compensation ran with a cancelled context")
				}
				return undoErr
			},
		}).
		add(sagaStep{
			name: "call",
			execute: func(context.Context) error {
				cancel()
				return stepErr
			},
		}).
		run(ctx)

	if !errors.Is(err, undoErr) || !errors.Is(err, ErrUpstream) {
		t.Fatalf("saga error should wrap both failures, got %v", err)
	}
	if KindOf(err) != KindUpstream {
		t.Fatalf("kind should come from the failing step, got %v", KindOf(err))
	}
}

func TestErrorKinds(t *testing.T) {
	err := notFound("meeting")
	if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		t.Fatalf("kind matching broken")
	}
	if PublicMessage(err) != "meeting not found" {
		t.Fatalf("unexpected message %q", PublicMessage(err))
	}
	if PublicMessage(internal("db", errors.New("secret dsn"))) != "internal server error" {
		t.Fatalf("internal details leaked")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("foreign errors should be internal")
	}
}
