package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"peerlearn/api/internal/config"
	"peerlearn/api/internal/lifecycle"
	"peerlearn/api/internal/meeting"
	"peerlearn/api/internal/rbac"
	"peerlearn/api/internal/store"
	"peerlearn/api/internal/util"
	"peerlearn/api/internal/visibility"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 4000
	maxMessageLength     = 2000
	expireSweepPageSize  = 100
)

type CreateRequestInput struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Kind            string     `json:"kind"`
	MaxParticipants int        `json:"maxParticipants"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	Publish         bool       `json:"publish"`
}

type SubmitResponseInput struct {
	Decision string `json:"decision"`
	Message  string `json:"message"`
}

// ResponseResult is the state after a recorded response.
type ResponseResult struct {
	Request  store.Request
	Response store.Response
}

type requestStore interface {
	InsertRequest(context.Context, store.Request) error
	GetRequest(context.Context, string) (store.Request, error)
	ApplyTransition(context.Context, store.Transition) (store.Request, error)
	AppendResponse(context.Context, store.Response, *store.HiddenMark) (store.Request, error)
	IncrementViewCount(context.Context, string) error
	ListResponses(context.Context, string) ([]store.Response, error)
	DeleteResponses(context.Context, string) (int64, error)
	DeleteRequest(context.Context, string) error
	DeleteHiddenMark(context.Context, string, string) (bool, error)
	ListExpired(context.Context, time.Time, *store.ExpiryCursor, int) ([]store.Request, error)
	Ping(ctx context.Context) error
}

type visibilityIndex interface {
	AvailableFor(context.Context, string) iter.Seq2[store.Request, error]
	HiddenFor(context.Context, string) ([]string, error)
	Invalidate(context.Context, string)
}

// Service is the request lifecycle coordinator. Every status or acceptedBy
// change goes through one conditional store write; losing writers are told
// why from a fresh read rather than retried.
type Service struct {
	cfg      config.Config
	store    requestStore
	index    visibilityIndex
	meetings meeting.Provisioner
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.SQLStore, index *visibility.Index, meetings meeting.Provisioner, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		index:    index,
		meetings: meetings,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateRequest(ctx context.Context, ownerID string, input CreateRequestInput) (item store.Request, err error) {
	ctx, done := s.begin(ctx, "create", "", ownerID)
	defer func() { done(item.ID, item.Status, err) }()

	if strings.TrimSpace(ownerID) == "" {
		return store.Request{}, lifecycle.Errorf(lifecycle.CodeUnauthorized, "caller identity is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Request{}, lifecycle.Errorf(lifecycle.CodeInvalidInput, "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return store.Request{}, lifecycle.Errorf(lifecycle.CodeInvalidInput, "title must be at most %d characters", maxTitleLength)
	}
	description := strings.TrimSpace(input.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return store.Request{}, lifecycle.Errorf(lifecycle.CodeInvalidInput, "description must be at most %d characters", maxDescriptionLength)
	}
	kind, err := lifecycle.ParseKind(input.Kind)
	if err != nil {
		return store.Request{}, err
	}
	capacity, err := s.capacityFor(kind, input.MaxParticipants)
	if err != nil {
		return store.Request{}, err
	}
	now := s.clock()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return store.Request{}, lifecycle.Errorf(lifecycle.CodeInvalidInput, "expiresAt must be in the future")
	}

	status := lifecycle.StatusDraft
	if input.Publish {
		if status, err = lifecycle.Next(kind, status, lifecycle.EventPublish); err != nil {
			return store.Request{}, err
		}
	}

	item = store.Request{
		ID:              util.NewID("req"),
		OwnerID:         ownerID,
		Kind:            kind,
		Status:          status,
		Title:           title,
		Description:     description,
		MaxParticipants: capacity,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.ExpiresAt != nil {
		expires := input.ExpiresAt.UTC()
		item.ExpiresAt = &expires
	}
	if err := s.store.InsertRequest(ctx, item); err != nil {
		return store.Request{}, s.storeError(err, "create request")
	}
	return item, nil
}

func (s *Service) capacityFor(kind lifecycle.Kind, requested int) (int, error) {
	if kind != lifecycle.KindGroup {
		if requested > 1 {
			return 0, lifecycle.Errorf(lifecycle.CodeInvalidInput, "one-to-one requests take exactly one responder")
		}
		return 1, nil
	}
	if requested == 0 {
		return s.cfg.DefaultGroupSize, nil
	}
	if requested < 2 || requested > s.cfg.MaxGroupSize {
		return 0, lifecycle.Errorf(lifecycle.CodeInvalidInput, "maxParticipants must be between 2 and %d", s.cfg.MaxGroupSize)
	}
	return requested, nil
}

func (s *Service) GetRequest(ctx context.Context, requestID string) (store.Request, error) {
	return s.load(ctx, requestID)
}

// RecordView bumps the advisory view counter. Owners looking at their own
// request are not counted.
func (s *Service) RecordView(ctx context.Context, requestID, viewerID string) error {
	item, err := s.load(ctx, requestID)
	if err != nil {
		return err
	}
	if viewerID == "" || viewerID == item.OwnerID {
		return nil
	}
	if err := s.store.IncrementViewCount(ctx, requestID); err != nil {
		return s.storeError(err, "record view")
	}
	return nil
}

func (s *Service) Publish(ctx context.Context, requestID, callerID string) (item store.Request, err error) {
	ctx, done := s.begin(ctx, "publish", requestID, callerID)
	defer func() { done(requestID, item.Status, err) }()

	item, _, err = s.move(ctx, requestID, callerID, rbac.ActionPublish, lifecycle.EventPublish, nil)
	return item, err
}

func (s *Service) Cancel(ctx context.Context, requestID, callerID string) (item store.Request, err error) {
	ctx, done := s.begin(ctx, "cancel", requestID, callerID)
	defer func() { done(requestID, item.Status, err) }()

	item, _, err = s.move(ctx, requestID, callerID, rbac.ActionCancel, lifecycle.EventCancel, nil)
	return item, err
}

// Expire closes an unanswered request on behalf of its owner or an
// external clock.
func (s *Service) Expire(ctx context.Context, requestID, callerID string) (item store.Request, err error) {
	ctx, done := s.begin(ctx, "expire", requestID, callerID)
	defer func() { done(requestID, item.Status, err) }()

	item, _, err = s.move(ctx, requestID, callerID, rbac.ActionExpire, lifecycle.EventExpire, nil)
	return item, err
}

// Start moves a filled group request into its running session.
func (s *Service) Start(ctx context.Context, requestID, callerID string) (item store.Request, err error) {
	ctx, done := s.begin(ctx, "start", requestID, callerID)
	defer func() { done(requestID, item.Status, err) }()

	item, _, err = s.move(ctx, requestID, callerID, rbac.ActionStart, lifecycle.EventStart, nil)
	return item, err
}

func (s *Service) Complete(ctx context.Context, requestID, callerID string) (item store.Request, err error) {
	ctx, done := s.begin(ctx, "complete", requestID, callerID)
	defer func() { done(requestID, item.Status, err) }()

	var before store.Request
	item, before, err = s.move(ctx, requestID, callerID, rbac.ActionComplete, lifecycle.EventComplete, func(next *store.Request, now time.Time) {
		next.CompletedAt = &now
	})
	if err != nil {
		return item, err
	}
	s.endMeeting(ctx, before)
	return item, nil
}

func (s *Service) Archive(ctx context.Context, requestID, callerID string) (item store.Request, err error) {
	ctx, done := s.begin(ctx, "archive", requestID, callerID)
	defer func() { done(requestID, item.Status, err) }()

	var before store.Request
	item, before, err = s.move(ctx, requestID, callerID, rbac.ActionArchive, lifecycle.EventArchive, func(next *store.Request, now time.Time) {
		next.ArchivedAt = &now
	})
	if err != nil {
		return item, err
	}
	if before.Status != lifecycle.StatusCompleted {
		s.endMeeting(ctx, before)
	}
	return item, nil
}

// move applies one caller-initiated lifecycle event under the CAS guard and
// returns the request after and before the write.
func (s *Service) move(ctx context.Context, requestID, callerID string, action rbac.Action, event lifecycle.Event, apply func(*store.Request, time.Time)) (store.Request, store.Request, error) {
	current, err := s.load(ctx, requestID)
	if err != nil {
		return store.Request{}, store.Request{}, err
	}
	if err := authorize(current, callerID, action); err != nil {
		return current, current, err
	}
	updated, err := s.applyEvent(ctx, current, event, apply)
	if err != nil {
		return current, current, err
	}
	return updated, current, nil
}

func (s *Service) applyEvent(ctx context.Context, current store.Request, event lifecycle.Event, apply func(*store.Request, time.Time)) (store.Request, error) {
	status, err := lifecycle.Next(current.Kind, current.Status, event)
	if err != nil {
		return current, err
	}

	now := s.clock()
	next := current
	next.Status = status
	next.UpdatedAt = now
	if apply != nil {
		apply(&next, now)
	}

	updated, err := s.store.ApplyTransition(ctx, store.Transition{
		RequestID: current.ID,
		Expect:    current.Expectation(),
		Next:      next,
	})
	if errors.Is(err, store.ErrConflict) {
		return current, s.explainLostMove(ctx, current, event)
	}
	if err != nil {
		return current, s.storeError(err, string(event))
	}
	return updated, nil
}

// explainLostMove reports why a conditional write for event lost: an
// acceptance slipped in, the event is no longer legal, or the request just
// changed underneath the caller.
func (s *Service) explainLostMove(ctx context.Context, read store.Request, event lifecycle.Event) error {
	latest, err := s.load(ctx, read.ID)
	if err != nil {
		return err
	}
	if read.AcceptedBy == "" && latest.AcceptedBy != "" && !lifecycle.CanApply(latest.Kind, latest.Status, event) {
		return lifecycle.Errorf(lifecycle.CodeAlreadyAccepted, "request was accepted by another responder")
	}
	if !lifecycle.CanApply(latest.Kind, latest.Status, event) {
		return lifecycle.Errorf(lifecycle.CodeInvalidState, "cannot %s a request that is %s", event, latest.Status)
	}
	return lifecycle.Errorf(lifecycle.CodeRequestNotAvailable, "request changed concurrently; reload and try again")
}

// ExpireDue expires every request still taking responses whose deadline has
// passed. Requests that change while the sweep runs are skipped.
func (s *Service) ExpireDue(ctx context.Context) (expired int, err error) {
	ctx, done := s.begin(ctx, "expire_due", "", "system")
	defer func() { done("", "", err) }()

	now := s.clock()
	var after *store.ExpiryCursor
	for {
		due, err := s.store.ListExpired(ctx, now, after, expireSweepPageSize)
		if err != nil {
			return expired, s.storeError(err, "list expired")
		}
		for _, item := range due {
			_, err := s.applyEvent(ctx, item, lifecycle.EventExpire, nil)
			switch {
			case err == nil:
				expired++
			case lifecycle.CodeOf(err) == lifecycle.CodeStoreUnavailable:
				return expired, err
			default:
				s.logger.Info("expiry skipped", "request_id", item.ID, "error", err)
			}
		}
		if len(due) < expireSweepPageSize {
			return expired, nil
		}
		last := due[len(due)-1]
		after = &store.ExpiryCursor{ID: last.ID}
		if last.ExpiresAt != nil {
			after.ExpiresAt = *last.ExpiresAt
		}
	}
}

// SubmitResponse records one responder's decision. Accepting runs the
// arbiter, provisions a meeting room and commits the acceptance with a
// single conditional write; when provisioning fails the response is still
// recorded and the request stays open.
func (s *Service) SubmitResponse(ctx context.Context, requestID, responderID string, input SubmitResponseInput) (result ResponseResult, err error) {
	ctx, done := s.begin(ctx, "respond", requestID, responderID)
	defer func() { done(requestID, result.Request.Status, err) }()

	if strings.TrimSpace(responderID) == "" {
		return ResponseResult{}, lifecycle.Errorf(lifecycle.CodeUnauthorized, "caller identity is required")
	}
	decision, err := lifecycle.ParseDecision(input.Decision)
	if err != nil {
		return ResponseResult{}, err
	}
	message := strings.TrimSpace(input.Message)
	if utf8.RuneCountInString(message) > maxMessageLength {
		return ResponseResult{}, lifecycle.Errorf(lifecycle.CodeInvalidInput, "message must be at most %d characters", maxMessageLength)
	}

	current, err := s.load(ctx, requestID)
	if err != nil {
		return ResponseResult{}, err
	}
	if responderID == current.OwnerID {
		return ResponseResult{Request: current}, lifecycle.Errorf(lifecycle.CodeSelfResponseForbidden, "owners cannot respond to their own request")
	}
	if current.Status.IsTerminal() {
		return ResponseResult{Request: current}, lifecycle.Errorf(lifecycle.CodeInvalidState, "request is %s", current.Status)
	}

	response := store.Response{
		ID:          util.NewID("resp"),
		RequestID:   requestID,
		ResponderID: responderID,
		Decision:    decision,
		Message:     message,
		CreatedAt:   s.clock(),
	}

	if decision != lifecycle.DecisionAccepted {
		if !current.Status.AcceptsResponses(current.Kind) {
			return ResponseResult{Request: current}, lifecycle.Errorf(lifecycle.CodeRequestNotAvailable, "request is %s", current.Status)
		}
		return s.recordResponse(ctx, current, response)
	}
	return s.accept(ctx, current, response)
}

func (s *Service) recordResponse(ctx context.Context, current store.Request, response store.Response) (ResponseResult, error) {
	var hidden *store.HiddenMark
	if response.Decision == lifecycle.DecisionNotInterested {
		hidden = &store.HiddenMark{ViewerID: response.ResponderID, RequestID: current.ID, CreatedAt: response.CreatedAt}
	}
	updated, err := s.store.AppendResponse(ctx, response, hidden)
	if errors.Is(err, store.ErrConflict) {
		return ResponseResult{Request: current}, s.explainRejectedResponse(ctx, current.ID, response)
	}
	if err != nil {
		return ResponseResult{Request: current}, s.storeError(err, "record response")
	}
	if hidden != nil {
		s.index.Invalidate(ctx, response.ResponderID)
	}
	return ResponseResult{Request: updated, Response: response}, nil
}

func (s *Service) accept(ctx context.Context, current store.Request, response store.Response) (ResponseResult, error) {
	responderID := response.ResponderID

	verdict := lifecycle.Arbitrate(current.Snapshot(), responderID)
	if !verdict.Proceed {
		return ResponseResult{Request: current}, verdict.Err()
	}

	if !verdict.ProvisionsMeeting() {
		return s.commitAcceptance(ctx, current, response, verdict, nil)
	}

	room, err := s.provision(ctx, current, responderID)
	if err != nil {
		s.logger.Warn("meeting provisioning failed",
			"request_id", current.ID,
			"responder_id", responderID,
			"error", err,
		)
		recorded, recordErr := s.store.AppendResponse(ctx, response, nil)
		if errors.Is(recordErr, store.ErrConflict) {
			return ResponseResult{Request: current}, s.explainRejectedResponse(ctx, current.ID, response)
		}
		if recordErr != nil {
			return ResponseResult{Request: current}, s.storeError(recordErr, "record response")
		}
		return ResponseResult{Request: recorded, Response: response},
			lifecycle.Wrap(lifecycle.CodeMeetingProvisioningFailed, "meeting could not be provisioned; the acceptance can be retried", err)
	}

	// Authoritative arbitration against the state as it is now.
	latest, err := s.load(ctx, current.ID)
	if err != nil {
		return ResponseResult{Request: current}, err
	}
	verdict = lifecycle.Arbitrate(latest.Snapshot(), responderID)
	if !verdict.Proceed {
		return ResponseResult{Request: latest}, verdict.Err()
	}
	if !verdict.ProvisionsMeeting() {
		room = nil
	}
	return s.commitAcceptance(ctx, latest, response, verdict, room)
}

func (s *Service) provision(ctx context.Context, current store.Request, responderID string) (*store.MeetingRef, error) {
	if s.meetings == nil {
		return nil, errors.New("no meeting provisioner configured")
	}
	timeout := s.cfg.MeetingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	provisionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	room, err := s.meetings.Provision(provisionCtx, meeting.Request{
		RequestID:      current.ID,
		OwnerID:        current.OwnerID,
		ParticipantIDs: withParticipant(current.Participants, responderID),
	})
	if err != nil {
		return nil, err
	}
	status := room.Status
	if status == "" {
		status = meeting.StatusScheduled
	}
	return &store.MeetingRef{MeetingID: room.MeetingID, JoinURL: room.JoinURL, Status: status}, nil
}

// commitAcceptance performs the acceptance (or group join) write against
// the request as read in current.
func (s *Service) commitAcceptance(ctx context.Context, current store.Request, response store.Response, verdict lifecycle.Verdict, room *store.MeetingRef) (ResponseResult, error) {
	status, err := lifecycle.Next(current.Kind, current.Status, verdict.Event)
	if err != nil {
		return ResponseResult{Request: current}, err
	}

	now := s.clock()
	next := current
	next.Status = status
	next.UpdatedAt = now
	next.Participants = withParticipant(current.Participants, response.ResponderID)
	if verdict.ProvisionsMeeting() {
		next.AcceptedBy = response.ResponderID
		next.AcceptedAt = &now
		next.Meeting = room
		response.Meeting = room
	}

	updated, err := s.store.ApplyTransition(ctx, store.Transition{
		RequestID:     current.ID,
		Expect:        current.Expectation(),
		Next:          next,
		CountResponse: true,
		Response:      &response,
	})
	if errors.Is(err, store.ErrConflict) {
		return ResponseResult{Request: current}, s.explainLostAcceptance(ctx, current.ID, response.ResponderID)
	}
	if err != nil {
		return ResponseResult{Request: current}, s.storeError(err, "commit acceptance")
	}
	return ResponseResult{Request: updated, Response: response}, nil
}

// explainRejectedResponse reports why a request stopped taking responses
// between the read and the response write.
func (s *Service) explainRejectedResponse(ctx context.Context, requestID string, response store.Response) error {
	latest, err := s.load(ctx, requestID)
	if err != nil {
		return err
	}
	if latest.Status.IsTerminal() {
		return lifecycle.Errorf(lifecycle.CodeInvalidState, "request is %s", latest.Status)
	}
	if response.Decision == lifecycle.DecisionAccepted {
		if verdict := lifecycle.Arbitrate(latest.Snapshot(), response.ResponderID); !verdict.Proceed {
			return verdict.Err()
		}
	}
	return lifecycle.Errorf(lifecycle.CodeRequestNotAvailable, "request is %s", latest.Status)
}

// explainLostAcceptance re-arbitrates against the winner's state so the
// loser gets AlreadyAccepted, CapacityExceeded and so on rather than a raw
// storage conflict.
func (s *Service) explainLostAcceptance(ctx context.Context, requestID, responderID string) error {
	latest, err := s.load(ctx, requestID)
	if err != nil {
		return err
	}
	if verdict := lifecycle.Arbitrate(latest.Snapshot(), responderID); !verdict.Proceed {
		return verdict.Err()
	}
	return lifecycle.Errorf(lifecycle.CodeRequestNotAvailable, "request changed concurrently; reload and try again")
}

// Retract deletes a request: best-effort meeting teardown, then its
// responses, then the request itself together with its hidden marks.
func (s *Service) Retract(ctx context.Context, requestID, callerID string) (err error) {
	ctx, done := s.begin(ctx, "retract", requestID, callerID)
	defer func() { done(requestID, "", err) }()

	current, err := s.load(ctx, requestID)
	if err != nil {
		return err
	}
	if err := authorize(current, callerID, rbac.ActionRetract); err != nil {
		return err
	}

	if current.Status != lifecycle.StatusCompleted && current.Status != lifecycle.StatusArchived {
		s.endMeeting(ctx, current)
	}
	if _, err := s.store.DeleteResponses(ctx, requestID); err != nil {
		return s.storeError(err, "delete responses")
	}
	if err := s.store.DeleteRequest(ctx, requestID); err != nil {
		return s.storeError(err, "delete request")
	}
	return nil
}

// ListResponses shows the owner every response and anyone else only their own.
func (s *Service) ListResponses(ctx context.Context, requestID, callerID string) ([]store.Response, error) {
	current, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListResponses(ctx, requestID)
	if err != nil {
		return nil, s.storeError(err, "list responses")
	}
	if callerID == current.OwnerID {
		return responses, nil
	}
	own := make([]store.Response, 0)
	for _, response := range responses {
		if response.ResponderID == callerID {
			own = append(own, response)
		}
	}
	return own, nil
}

// Unhide removes the viewer's hidden mark so the request shows up again.
func (s *Service) Unhide(ctx context.Context, requestID, viewerID string) (bool, error) {
	if strings.TrimSpace(viewerID) == "" {
		return false, lifecycle.Errorf(lifecycle.CodeUnauthorized, "caller identity is required")
	}
	removed, err := s.store.DeleteHiddenMark(ctx, viewerID, requestID)
	if err != nil {
		return false, s.storeError(err, "unhide")
	}
	if removed {
		s.index.Invalidate(ctx, viewerID)
	}
	return removed, nil
}

func (s *Service) AvailableFor(ctx context.Context, viewerID string) iter.Seq2[store.Request, error] {
	return s.index.AvailableFor(ctx, viewerID)
}

func (s *Service) HiddenFor(ctx context.Context, viewerID string) ([]string, error) {
	ids, err := s.index.HiddenFor(ctx, viewerID)
	if err != nil {
		return nil, s.storeError(err, "hidden for")
	}
	return ids, nil
}

func (s *Service) endMeeting(ctx context.Context, item store.Request) {
	if item.Meeting == nil || item.Meeting.MeetingID == "" || s.meetings == nil {
		return
	}
	timeout := s.cfg.MeetingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.meetings.End(endCtx, item.Meeting.MeetingID); err != nil && !errors.Is(err, meeting.ErrMeetingNotFound) {
		s.logger.Warn("meeting end failed",
			"request_id", item.ID,
			"meeting_id", item.Meeting.MeetingID,
			"error", err,
		)
	}
}

func (s *Service) load(ctx context.Context, requestID string) (store.Request, error) {
	if strings.TrimSpace(requestID) == "" {
		return store.Request{}, lifecycle.Errorf(lifecycle.CodeNotFound, "request not found")
	}
	item, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, s.storeError(err, "load request")
	}
	return item, nil
}

// storeError maps store failures onto the lifecycle taxonomy. Unavailable
// means the write is treated as not applied.
func (s *Service) storeError(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return lifecycle.Errorf(lifecycle.CodeNotFound, "request not found")
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return lifecycle.Wrap(lifecycle.CodeStoreUnavailable, "storage is temporarily unavailable; try again", err)
	case errors.Is(err, store.ErrConflict):
		return lifecycle.Errorf(lifecycle.CodeRequestNotAvailable, "request changed concurrently; reload and try again")
	}
	var lerr *lifecycle.Error
	if errors.As(err, &lerr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func authorize(item store.Request, callerID string, action rbac.Action) error {
	role := rbac.RoleFor(callerID, item.OwnerID, item.AcceptedBy, item.Participants)
	if rbac.CanAt(role, action, item.AcceptedBy != "") {
		return nil
	}
	if rbac.OwnerOnly(action) {
		return lifecycle.Errorf(lifecycle.CodeNotOwner, "only the owner may %s this request", action)
	}
	return lifecycle.Errorf(lifecycle.CodeUnauthorized, "caller may not %s this request", action)
}

func withParticipant(participants []string, id string) []string {
	out := slices.Clone(participants)
	if !slices.Contains(out, id) {
		out = append(out, id)
	}
	return out
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
