// Package lifecycle holds the closed vocabulary of the request state machine:
// kinds, statuses, response decisions, the transition table and the
// arbitration rule that decides whether an acceptance may proceed.
//
// Everything here is pure. Storage, provisioning and authorization live in
// the callers; this package only answers "is this move legal".
package lifecycle

import "strings"

// Kind distinguishes one-to-one requests from group requests.
type Kind string

const (
	KindOneToOne Kind = "one_to_one"
	KindGroup    Kind = "group"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusOpen       Status = "open"
	StatusActive     Status = "active"
	StatusVotingOpen Status = "voting_open"
	StatusAccepted   Status = "accepted"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusArchived   Status = "archived"
	StatusExpired    Status = "expired"
)

// Decision is what a responder said about a request.
type Decision string

const (
	DecisionPending       Decision = "pending"
	DecisionAccepted      Decision = "accepted"
	DecisionDeclined      Decision = "declined"
	DecisionNotInterested Decision = "not_interested"
)

// Event names a lifecycle move. Transitions are looked up by (kind, status, event).
type Event string

const (
	EventPublish  Event = "publish"
	EventAccept   Event = "accept"
	EventJoin     Event = "join"
	EventFill     Event = "fill"
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventArchive  Event = "archive"
	EventCancel   Event = "cancel"
	EventExpire   Event = "expire"
)

type edge struct {
	from  Status
	event Event
}

var oneToOneTransitions = map[edge]Status{
	{StatusDraft, EventPublish}: StatusOpen,
	{StatusDraft, EventArchive}: StatusArchived,

	{StatusOpen, EventAccept}:  StatusActive,
	{StatusOpen, EventCancel}:  StatusCancelled,
	{StatusOpen, EventExpire}:  StatusExpired,
	{StatusOpen, EventArchive}: StatusArchived,

	{StatusActive, EventComplete}: StatusCompleted,
	{StatusActive, EventArchive}:  StatusArchived,

	{StatusCompleted, EventArchive}: StatusArchived,
}

var groupTransitions = map[edge]Status{
	{StatusDraft, EventPublish}: StatusOpen,
	{StatusDraft, EventArchive}: StatusArchived,

	{StatusOpen, EventJoin}:    StatusVotingOpen,
	{StatusOpen, EventFill}:    StatusAccepted,
	{StatusOpen, EventCancel}:  StatusCancelled,
	{StatusOpen, EventExpire}:  StatusExpired,
	{StatusOpen, EventArchive}: StatusArchived,

	{StatusVotingOpen, EventJoin}:    StatusVotingOpen,
	{StatusVotingOpen, EventFill}:    StatusAccepted,
	{StatusVotingOpen, EventCancel}:  StatusCancelled,
	{StatusVotingOpen, EventExpire}:  StatusExpired,
	{StatusVotingOpen, EventArchive}: StatusArchived,

	{StatusAccepted, EventStart}:    StatusActive,
	{StatusAccepted, EventComplete}: StatusCompleted,
	{StatusAccepted, EventArchive}:  StatusArchived,

	{StatusActive, EventComplete}: StatusCompleted,
	{StatusActive, EventArchive}:  StatusArchived,

	{StatusCompleted, EventArchive}: StatusArchived,
}

// Next returns the status reached by applying event to a request of the given
// kind sitting in from. It fails with InvalidState when the table has no edge.
func Next(kind Kind, from Status, event Event) (Status, error) {
	table := oneToOneTransitions
	if kind == KindGroup {
		table = groupTransitions
	}
	to, ok := table[edge{from: from, event: event}]
	if !ok {
		return "", Errorf(CodeInvalidState, "cannot %s a request that is %s", event, from)
	}
	return to, nil
}

// CanApply reports whether event is legal from the given status.
func CanApply(kind Kind, from Status, event Event) bool {
	_, err := Next(kind, from, event)
	return err == nil
}

// IsTerminal reports whether no further responses or lifecycle moves (other
// than archiving a completed request) are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusArchived, StatusExpired:
		return true
	default:
		return false
	}
}

// AcceptsResponses reports whether the status is one a responder may answer.
func (s Status) AcceptsResponses(kind Kind) bool {
	if s == StatusOpen {
		return true
	}
	return kind == KindGroup && s == StatusVotingOpen
}

// IsAcceptedState reports whether acceptedBy must be set for a one-to-one request in this status.
func (s Status) IsAcceptedState() bool {
	switch s {
	case StatusActive, StatusAccepted, StatusCompleted:
		return true
	default:
		return false
	}
}

func (k Kind) Valid() bool {
	return k == KindOneToOne || k == KindGroup
}

func (d Decision) Valid() bool {
	switch d {
	case DecisionPending, DecisionAccepted, DecisionDeclined, DecisionNotInterested:
		return true
	default:
		return false
	}
}

func ParseKind(value string) (Kind, error) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case "", "one-to-one", KindOneToOne:
		return KindOneToOne, nil
	case KindGroup:
		return KindGroup, nil
	}
	return "", Errorf(CodeInvalidInput, "kind must be one_to_one or group")
}

func ParseDecision(value string) (Decision, error) {
	normalized := Decision(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(value, "-", "_"))))
	if !normalized.Valid() {
		return "", Errorf(CodeInvalidInput, "decision must be one of accepted, declined, not_interested")
	}
	return normalized, nil
}
