package schedule

import "meetdash/internal/models"

// requireOwner fails with NotFound unless row is owned by userID. Nil rows
// report an empty owner, so a missing row and a foreign row look the same.
func requireOwner[T models.Owned](row T, userID, what string) (T, error) {
	if userID == "" || row.OwnerID() != userID {
		var zero T
		return zero, notFound(what)
	}
	return row, nil
}
