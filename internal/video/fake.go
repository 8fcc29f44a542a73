package video

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests. Fail* values make the matching
// operation return an upstream error.
type Fake struct {
	mu sync.Mutex

	Users   map[string]User
	Calls   map[string]CreateCallRequest
	Deleted []string
	Tokens  []string

	FailUpsertFor map[string]bool
	FailCreate    bool
	FailDelete    bool
}

func NewFake() *Fake {
	return &Fake{
		Users:         map[string]User{},
		Calls:         map[string]CreateCallRequest{},
		FailUpsertFor: map[string]bool{},
	}
}

func (f *Fake) UpsertUsers(_ context.Context, users ...User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range users {
		if f.FailUpsertFor[u.ID] {
			return fmt.Errorf("%w: upsert %s", ErrUpstream, u.ID)
		}
	}
	for _, u := range users {
		f.Users[u.ID] = u
	}
	return nil
}

func (f *Fake) CreateCall(_ context.Context, req CreateCallRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate {
		return fmt.Errorf("%w: create call", ErrUpstream)
	}
	f.Calls[CallCID(req.Type, req.ID)] = req
	return nil
}

func (f *Fake) DeleteCall(_ context.Context, callType, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDelete {
		return fmt.Errorf("%w: delete call", ErrUpstream)
	}
	cid := CallCID(callType, callID)
	delete(f.Calls, cid)
	f.Deleted = append(f.Deleted, cid)
	return nil
}

func (f *Fake) CreateToken(userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := "token-" + userID
	f.Tokens = append(f.Tokens, token)
	return token, nil
}

// HasCall reports whether a call with cid exists.
func (f *Fake) HasCall(cid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Calls[cid]
	return ok
}

// User returns the upserted user with id.
func (f *Fake) User(id string) (User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	return u, ok
}
