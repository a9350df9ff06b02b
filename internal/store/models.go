package store

import (
	"time"

	"peerlearn/api/internal/lifecycle"
)

type MeetingRef struct {
	MeetingID string `json:"meetingId"`
	JoinURL   string `json:"joinUrl"`
	Status    string `json:"meetingStatus"`
}

type Request struct {
	ID              string
	OwnerID         string
	Kind            lifecycle.Kind
	Status          lifecycle.Status
	Title           string
	Description     string
	MaxParticipants int
	AcceptedBy      string
	AcceptedAt      *time.Time
	Meeting         *MeetingRef
	Participants    []string
	ResponseCount   int
	ViewCount       int
	Version         int64
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	ArchivedAt      *time.Time
}

// Snapshot returns the fields arbitration needs.
func (r Request) Snapshot() lifecycle.Snapshot {
	return lifecycle.Snapshot{
		Kind:            r.Kind,
		Status:          r.Status,
		OwnerID:         r.OwnerID,
		AcceptedBy:      r.AcceptedBy,
		Participants:    r.Participants,
		MaxParticipants: r.MaxParticipants,
	}
}

// Expectation is the precondition of a conditional write: the lifecycle
// fields exactly as they were last read.
func (r Request) Expectation() Expectation {
	return Expectation{Status: r.Status, AcceptedBy: r.AcceptedBy, Version: r.Version}
}

type Response struct {
	ID          string
	RequestID   string
	ResponderID string
	Decision    lifecycle.Decision
	Message     string
	Meeting     *MeetingRef
	CreatedAt   time.Time
}

type HiddenMark struct {
	ViewerID  string
	RequestID string
	CreatedAt time.Time
}

type Expectation struct {
	Status     lifecycle.Status
	AcceptedBy string
	Version    int64
}

// Transition is one logical lifecycle write: the request's lifecycle fields
// replaced by Next under the Expect precondition, optionally together with
// an appended response.
type Transition struct {
	RequestID string
	Expect    Expectation
	Next      Request
	// CountResponse bumps responseCount together with the write.
	CountResponse bool
	Response      *Response
}

// AvailableCursor is the keyset position of the last request yielded by an
// availability listing.
type AvailableCursor struct {
	CreatedAt time.Time
	ID        string
}

// ExpiryCursor is the keyset position of the last request yielded by an
// expiry sweep page.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}
