package models

import "time"

// LoginAttempt represents a single login attempt recorded for throttling.
// Every failed attempt is its own row; rate-limit decisions are windowed
// counts over these rows, so concurrent failures are never lost.
type LoginAttempt struct {
	ID          string    `db:"id"`
	Username    string    `db:"username"`
	IPAddress   string    `db:"ip_address"`
	DeviceID    string    `db:"device_id"`
	Success     bool      `db:"success"`
	AttemptTime time.Time `db:"attempt_time"`
	ExpiresAt   time.Time `db:"expires_at"`
}
