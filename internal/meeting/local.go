package meeting

import (
	"context"
	"strings"
	"sync"

	"peerlearn/api/internal/util"
)

const (
	StatusScheduled = "scheduled"
	StatusEnded     = "ended"
)

// Local is an in-process provisioner for development and tests. Rooms are
// keyed by request id, so repeated provisioning returns the same room.
type Local struct {
	joinBase string

	mu        sync.Mutex
	byRequest map[string]Room
	byID      map[string]string
}

func NewLocal(joinBaseURL string) *Local {
	return &Local{
		joinBase:  strings.TrimRight(joinBaseURL, "/"),
		byRequest: map[string]Room{},
		byID:      map[string]string{},
	}
}

func (l *Local) Provision(ctx context.Context, req Request) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if room, ok := l.byRequest[req.RequestID]; ok {
		return room, nil
	}
	id := util.NewID("mtg")
	room := Room{MeetingID: id, JoinURL: l.joinBase + "/" + id, Status: StatusScheduled}
	l.byRequest[req.RequestID] = room
	l.byID[id] = req.RequestID
	return room, nil
}

func (l *Local) End(ctx context.Context, meetingID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	requestID, ok := l.byID[meetingID]
	if !ok {
		return ErrMeetingNotFound
	}
	room := l.byRequest[requestID]
	room.Status = StatusEnded
	l.byRequest[requestID] = room
	return nil
}

// Room reports the room provisioned for requestID, if any.
func (l *Local) Room(requestID string) (Room, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	room, ok := l.byRequest[requestID]
	return room, ok
}
