package lifecycle

import "slices"

// Snapshot is the part of a stored request arbitration looks at.
type Snapshot struct {
	Kind            Kind
	Status          Status
	OwnerID         string
	AcceptedBy      string
	Participants    []string
	MaxParticipants int
}

// Verdict is the outcome of arbitrating one candidate acceptance.
type Verdict struct {
	Proceed bool
	// Event is the transition the acceptance performs when Proceed is set:
	// EventAccept for one-to-one, EventJoin or EventFill for groups.
	Event  Event
	Reason *Error
}

// Err returns the rejection reason, or nil when the verdict proceeds.
func (v Verdict) Err() error {
	if v.Proceed || v.Reason == nil {
		return nil
	}
	return v.Reason
}

// ProvisionsMeeting reports whether carrying out the verdict needs a meeting room.
func (v Verdict) ProvisionsMeeting() bool {
	return v.Proceed && (v.Event == EventAccept || v.Event == EventFill)
}

// Arbitrate decides whether responderID may accept the request as read in s.
//
// It is called twice per acceptance: once before provisioning, so a doomed
// acceptance does not allocate a room, and once against the state re-read
// right before the conditional write. The second call is authoritative.
func Arbitrate(s Snapshot, responderID string) Verdict {
	if responderID == s.OwnerID {
		return reject(CodeSelfResponseForbidden, "owners cannot respond to their own request")
	}
	if s.AcceptedBy != "" {
		return reject(CodeAlreadyAccepted, "request was already accepted")
	}
	if !s.Status.AcceptsResponses(s.Kind) {
		return reject(CodeRequestNotAvailable, "request is %s", s.Status)
	}

	if s.Kind != KindGroup {
		return Verdict{Proceed: true, Event: EventAccept}
	}

	if slices.Contains(s.Participants, responderID) {
		return reject(CodeAlreadyParticipant, "responder already joined this request")
	}
	capacity := s.MaxParticipants
	if capacity < 1 {
		capacity = 1
	}
	if len(s.Participants) >= capacity {
		return reject(CodeCapacityExceeded, "request already has %d of %d participants", len(s.Participants), capacity)
	}
	if len(s.Participants)+1 == capacity {
		return Verdict{Proceed: true, Event: EventFill}
	}
	return Verdict{Proceed: true, Event: EventJoin}
}

func reject(code Code, format string, args ...any) Verdict {
	return Verdict{Reason: Errorf(code, format, args...)}
}
