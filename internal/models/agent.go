package models

import "time"

// Agent is a reusable instruction profile that can be attached to meetings.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	UserID       string    `json:"userId"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// OwnerID implements Owned.
func (a *Agent) OwnerID() string {
	if a == nil {
		return ""
	}
	return a.UserID
}
