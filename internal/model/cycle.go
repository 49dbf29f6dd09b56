package model

import "time"

// NextResetDate returns the first day of the month following t, at
// midnight UTC. The free allowance refills once this boundary passes.
func NextResetDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
