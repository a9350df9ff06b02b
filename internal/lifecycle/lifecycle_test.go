package lifecycle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOneToOne(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
		want  Status
	}{
		{StatusDraft, EventPublish, StatusOpen},
		{StatusOpen, EventAccept, StatusActive},
		{StatusOpen, EventCancel, StatusCancelled},
		{StatusOpen, EventExpire, StatusExpired},
		{StatusActive, EventComplete, StatusCompleted},
		{StatusActive, EventArchive, StatusArchived},
		{StatusCompleted, EventArchive, StatusArchived},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.from, tc.event), func(t *testing.T) {
			got, err := Next(KindOneToOne, tc.from, tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		kind  Kind
		from  Status
		event Event
	}{
		{KindOneToOne, StatusOpen, EventPublish},
		{KindOneToOne, StatusActive, EventCancel},
		{KindOneToOne, StatusOpen, EventJoin},
		{KindOneToOne, StatusOpen, EventComplete},
		{KindGroup, StatusOpen, EventAccept},
		{KindGroup, StatusVotingOpen, EventStart},
		{KindGroup, StatusActive, EventStart},
	}
	for _, tc := range cases {
		_, err := Next(tc.kind, tc.from, tc.event)
		require.Error(t, err, "%s %s/%s", tc.kind, tc.from, tc.event)
		assert.True(t, errors.Is(err, ErrInvalidState))
	}
}

func TestTerminalStatusesOnlyAllowArchivingCompleted(t *testing.T) {
	events := []Event{EventPublish, EventAccept, EventJoin, EventFill, EventStart, EventComplete, EventArchive, EventCancel, EventExpire}
	for _, kind := range []Kind{KindOneToOne, KindGroup} {
		for _, status := range []Status{StatusCompleted, StatusCancelled, StatusArchived, StatusExpired} {
			require.True(t, status.IsTerminal())
			for _, event := range events {
				allowed := CanApply(kind, status, event)
				if status == StatusCompleted && event == EventArchive {
					assert.True(t, allowed)
					continue
				}
				assert.False(t, allowed, "%s %s/%s", kind, status, event)
			}
		}
	}
}

func TestGroupPath(t *testing.T) {
	status := StatusOpen
	for _, event := range []Event{EventJoin, EventJoin, EventFill, EventStart, EventComplete} {
		next, err := Next(KindGroup, status, event)
		require.NoError(t, err)
		status = next
	}
	assert.Equal(t, StatusCompleted, status)
}

func TestArbitrateOneToOne(t *testing.T) {
	open := Snapshot{Kind: KindOneToOne, Status: StatusOpen, OwnerID: "u1", MaxParticipants: 1}

	v := Arbitrate(open, "u2")
	require.True(t, v.Proceed)
	assert.Equal(t, EventAccept, v.Event)
	assert.True(t, v.ProvisionsMeeting())
	assert.NoError(t, v.Err())

	self := Arbitrate(open, "u1")
	assert.ErrorIs(t, self.Err(), ErrSelfResponseForbidden)

	taken := open
	taken.Status = StatusActive
	taken.AcceptedBy = "u2"
	assert.ErrorIs(t, Arbitrate(taken, "u3").Err(), ErrAlreadyAccepted)

	draft := open
	draft.Status = StatusDraft
	assert.ErrorIs(t, Arbitrate(draft, "u3").Err(), ErrRequestNotAvailable)
}

func TestArbitrateGroup(t *testing.T) {
	group := Snapshot{Kind: KindGroup, Status: StatusOpen, OwnerID: "owner", MaxParticipants: 3}

	v := Arbitrate(group, "a")
	require.True(t, v.Proceed)
	assert.Equal(t, EventJoin, v.Event)
	assert.False(t, v.ProvisionsMeeting())

	group.Status = StatusVotingOpen
	group.Participants = []string{"a", "b"}
	v = Arbitrate(group, "c")
	require.True(t, v.Proceed)
	assert.Equal(t, EventFill, v.Event)
	assert.True(t, v.ProvisionsMeeting())

	assert.ErrorIs(t, Arbitrate(group, "a").Err(), ErrAlreadyParticipant)

	group.Participants = []string{"a", "b", "c"}
	assert.ErrorIs(t, Arbitrate(group, "d").Err(), ErrCapacityExceeded)
}

func TestErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", Errorf(CodeAlreadyAccepted, "taken by %s", "u2"))
	assert.ErrorIs(t, err, ErrAlreadyAccepted)
	assert.NotErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, CodeAlreadyAccepted, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.True(t, CodeMeetingProvisioningFailed.Retryable())
	assert.False(t, CodeAlreadyAccepted.Retryable())
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("Not-Interested")
	require.NoError(t, err)
	assert.Equal(t, DecisionNotInterested, d)

	_, err = ParseDecision("maybe")
	assert.ErrorIs(t, err, ErrInvalidInput)

	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindOneToOne, k)
}
