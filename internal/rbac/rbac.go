package rbac

import "slices"

// Role is a caller's relationship to one request.
type Role string
type Action string

const (
	RoleOutsider    Role = "outsider"
	RoleParticipant Role = "participant"
	RoleAcceptor    Role = "acceptor"
	RoleOwner       Role = "owner"
)

const (
	ActionRead     Action = "read"
	ActionRespond  Action = "respond"
	ActionPublish  Action = "publish"
	ActionCancel   Action = "cancel"
	ActionExpire   Action = "expire"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionArchive  Action = "archive"
	ActionRetract  Action = "retract"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return action != ActionRespond
	case RoleAcceptor, RoleParticipant:
		return action == ActionRead || action == ActionStart || action == ActionComplete || action == ActionArchive
	case RoleOutsider:
		return action == ActionRead || action == ActionRespond
	default:
		return false
	}
}

// CanAt is Can for a request in a given acceptance state. Until a request
// has been accepted, joiners hold no more than read access.
func CanAt(role Role, action Action, accepted bool) bool {
	if !Can(role, action) {
		return false
	}
	if accepted || role == RoleOwner || role == RoleOutsider {
		return true
	}
	return action == ActionRead
}

// RoleFor derives the caller's role from the request's ownership fields.
// The owner wins over every other relation.
func RoleFor(callerID, ownerID, acceptedBy string, participants []string) Role {
	switch {
	case callerID == "":
		return RoleOutsider
	case callerID == ownerID:
		return RoleOwner
	case acceptedBy != "" && callerID == acceptedBy:
		return RoleAcceptor
	case slices.Contains(participants, callerID):
		return RoleParticipant
	default:
		return RoleOutsider
	}
}

// OwnerOnly reports whether only the owner may perform action.
func OwnerOnly(action Action) bool {
	return Can(RoleOwner, action) && !Can(RoleAcceptor, action) && !Can(RoleOutsider, action)
}
