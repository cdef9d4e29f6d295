package identity

import "time"

// Status gates whether an owner may mutate wallet state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusClosed    Status = "CLOSED"
)

// User represents a registered wallet owner.
type User struct {
	ID        string
	Phone     string
	Name      string
	Status    Status
	PINHash   []byte
	CreatedAt time.Time
}

// Credentials carries a login attempt.
type Credentials struct {
	Phone string
	PIN   string
}
