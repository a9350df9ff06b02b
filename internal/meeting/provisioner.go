// Package meeting allocates the meeting rooms that accepted requests run in.
package meeting

import (
	"context"
	"errors"
)

var ErrMeetingNotFound = errors.New("meeting not found")

// Request describes the room to allocate. RequestID is the idempotency key:
// provisioning twice for the same request returns the same room.
type Request struct {
	RequestID      string   `json:"requestId"`
	OwnerID        string   `json:"ownerId"`
	ParticipantIDs []string `json:"participantIds"`
}

type Room struct {
	MeetingID string `json:"meetingId"`
	JoinURL   string `json:"joinUrl"`
	Status    string `json:"status"`
}

// Provisioner is the meeting service contract.
type Provisioner interface {
	Provision(ctx context.Context, req Request) (Room, error)
	End(ctx context.Context, meetingID string) error
}
