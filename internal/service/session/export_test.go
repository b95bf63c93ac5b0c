package session

import "time"

func (r *Registry) RemoveIfIdle(id string, cutoff time.Time) bool {
	return r.removeIfIdle(id, cutoff)
}
