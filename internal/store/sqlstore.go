package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"peerlearn/api/internal/lifecycle"
)

// SQLStore is the RequestStore over Postgres or SQLite. Lifecycle writes go
// through ApplyTransition, a compare-and-set on (status, accepted_by, version)
// executed as a single UPDATE so the database row lock linearizes competing
// writers.
type SQLStore struct {
	db            *sql.DB
	dialect       Dialect
	maxTries      uint
	retryInterval time.Duration
}

func NewSQLStore(db *sql.DB, dialect Dialect, maxTries uint) *SQLStore {
	if maxTries == 0 {
		maxTries = defaultMaxTries
	}
	return &SQLStore{
		db:            db,
		dialect:       dialect,
		maxTries:      maxTries,
		retryInterval: 50 * time.Millisecond,
	}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

const requestColumns = `r.id, r.owner_id, r.kind, r.status, r.title, r.description, r.max_participants,
	COALESCE(r.accepted_by, ''), r.accepted_at,
	COALESCE(r.meeting_id, ''), COALESCE(r.meeting_join_url, ''), COALESCE(r.meeting_status, ''),
	r.participants, r.response_count, r.view_count, r.version, r.expires_at,
	r.created_at, r.updated_at, r.completed_at, r.archived_at`

const responseColumns = `id, request_id, responder_id, decision, message,
	COALESCE(meeting_id, ''), COALESCE(meeting_join_url, ''), COALESCE(meeting_status, ''), created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) InsertRequest(ctx context.Context, item Request) error {
	participants, err := encodeParticipants(item.Participants)
	if err != nil {
		return err
	}
	meetingID, joinURL, meetingStatus := meetingColumns(item.Meeting)
	return s.retry(ctx, "insert request", func() error {
		_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO requests (
				id, owner_id, kind, status, title, description, max_participants,
				accepted_by, accepted_at, meeting_id, meeting_join_url, meeting_status,
				participants, response_count, view_count, version, expires_at,
				created_at, updated_at, completed_at, archived_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		`),
			item.ID, item.OwnerID, string(item.Kind), string(item.Status), item.Title, item.Description, item.MaxParticipants,
			nilIfEmpty(item.AcceptedBy), nullMillis(item.AcceptedAt), meetingID, joinURL, meetingStatus,
			participants, item.ResponseCount, item.ViewCount, max(item.Version, 1), nullMillis(item.ExpiresAt),
			toMillis(item.CreatedAt), toMillis(item.UpdatedAt), nullMillis(item.CompletedAt), nullMillis(item.ArchivedAt),
		)
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetRequest(ctx context.Context, requestID string) (Request, error) {
	var item Request
	err := s.retry(ctx, "get request", func() error {
		var err error
		item, err = s.getRequest(ctx, s.db, requestID)
		return err
	})
	return item, err
}

func (s *SQLStore) getRequest(ctx context.Context, q queryer, requestID string) (Request, error) {
	row := q.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+requestColumns+` FROM requests r WHERE r.id=$1`), requestID)
	item, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request: %w", err)
	}
	return item, nil
}

// ApplyTransition performs one conditional lifecycle write. It returns
// ErrConflict when the stored status, accepted_by or version differ from
// t.Expect, and ErrNotFound when the request is gone. The appended response,
// if any, is written in the same transaction.
func (s *SQLStore) ApplyTransition(ctx context.Context, t Transition) (Request, error) {
	participants, err := encodeParticipants(t.Next.Participants)
	if err != nil {
		return Request{}, err
	}
	meetingID, joinURL, meetingStatus := meetingColumns(t.Next.Meeting)
	countDelta := 0
	if t.CountResponse {
		countDelta = 1
	}
	updatedAt := t.Next.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	var updated Request
	err = s.retry(ctx, "apply transition", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx, s.dialect.Rebind(`
			UPDATE requests
			SET status=$1,
				accepted_by=COALESCE(accepted_by, $2),
				accepted_at=COALESCE(accepted_at, $3),
				meeting_id=$4, meeting_join_url=$5, meeting_status=$6,
				participants=$7,
				completed_at=COALESCE(completed_at, $8),
				archived_at=COALESCE(archived_at, $9),
				response_count=response_count + $10,
				version=version + 1,
				updated_at=$11
			WHERE id=$12 AND status=$13 AND COALESCE(accepted_by, '')=$14 AND version=$15
		`),
			string(t.Next.Status), nilIfEmpty(t.Next.AcceptedBy), nullMillis(t.Next.AcceptedAt),
			meetingID, joinURL, meetingStatus,
			participants,
			nullMillis(t.Next.CompletedAt), nullMillis(t.Next.ArchivedAt),
			countDelta, toMillis(updatedAt),
			t.RequestID, string(t.Expect.Status), t.Expect.AcceptedBy, t.Expect.Version,
		)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update request rows: %w", err)
		}
		if affected == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT 1 FROM requests WHERE id=$1`), t.RequestID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check request: %w", err)
			}
			return ErrConflict
		}

		if t.Response != nil {
			if err := s.insertResponse(ctx, tx, *t.Response); err != nil {
				return err
			}
		}

		updated, err = s.getRequest(ctx, tx, t.RequestID)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return updated, nil
}

// AppendResponse records a response that does not move the lifecycle: it
// bumps the advisory response counter and, for not-interested answers,
// records the viewer's hidden mark. The request must still be taking
// responses; otherwise ErrConflict.
func (s *SQLStore) AppendResponse(ctx context.Context, response Response, hidden *HiddenMark) (Request, error) {
	var updated Request
	err := s.retry(ctx, "append response", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append response: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx, s.dialect.Rebind(`
			UPDATE requests SET response_count=response_count + 1
			WHERE id=$1 AND status IN ('open', 'voting_open')
		`), response.RequestID)
		if err != nil {
			return fmt.Errorf("count response: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("count response rows: %w", err)
		}
		if affected == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT 1 FROM requests WHERE id=$1`), response.RequestID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check request: %w", err)
			}
			return ErrConflict
		}

		if err := s.insertResponse(ctx, tx, response); err != nil {
			return err
		}
		if hidden != nil {
			if err := s.insertHiddenMark(ctx, tx, *hidden); err != nil {
				return err
			}
		}

		updated, err = s.getRequest(ctx, tx, response.RequestID)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append response: %w", err)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return updated, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) insertResponse(ctx context.Context, q execer, item Response) error {
	meetingID, joinURL, meetingStatus := meetingColumns(item.Meeting)
	_, err := q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO responses (id, request_id, responder_id, decision, message, meeting_id, meeting_join_url, meeting_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`),
		item.ID, item.RequestID, item.ResponderID, string(item.Decision), item.Message,
		meetingID, joinURL, meetingStatus, toMillis(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *SQLStore) insertHiddenMark(ctx context.Context, q execer, mark HiddenMark) error {
	_, err := q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO hidden_marks (viewer_id, request_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (viewer_id, request_id) DO NOTHING
	`), mark.ViewerID, mark.RequestID, toMillis(mark.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert hidden mark: %w", err)
	}
	return nil
}

// InsertHiddenMark is idempotent: marking twice leaves one row.
func (s *SQLStore) InsertHiddenMark(ctx context.Context, mark HiddenMark) error {
	return s.retry(ctx, "insert hidden mark", func() error {
		return s.insertHiddenMark(ctx, s.db, mark)
	})
}

func (s *SQLStore) DeleteHiddenMark(ctx context.Context, viewerID, requestID string) (bool, error) {
	var removed bool
	err := s.retry(ctx, "delete hidden mark", func() error {
		result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM hidden_marks WHERE viewer_id=$1 AND request_id=$2`), viewerID, requestID)
		if err != nil {
			return fmt.Errorf("delete hidden mark: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete hidden mark rows: %w", err)
		}
		removed = affected > 0
		return nil
	})
	return removed, err
}

func (s *SQLStore) ListHidden(ctx context.Context, viewerID string) ([]string, error) {
	var ids []string
	err := s.retry(ctx, "list hidden", func() error {
		ids = nil
		rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT request_id FROM hidden_marks WHERE viewer_id=$1 ORDER BY request_id`), viewerID)
		if err != nil {
			return fmt.Errorf("list hidden marks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan hidden mark: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

func (s *SQLStore) IncrementViewCount(ctx context.Context, requestID string) error {
	return s.retry(ctx, "increment view count", func() error {
		result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`UPDATE requests SET view_count=view_count + 1 WHERE id=$1`), requestID)
		if err != nil {
			return fmt.Errorf("increment view count: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("increment view count rows: %w", err)
		} else if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) ListResponses(ctx context.Context, requestID string) ([]Response, error) {
	var items []Response
	err := s.retry(ctx, "list responses", func() error {
		items = nil
		rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT `+responseColumns+` FROM responses WHERE request_id=$1 ORDER BY created_at ASC, id ASC`), requestID)
		if err != nil {
			return fmt.Errorf("list responses: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanResponse(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	return items, err
}

func (s *SQLStore) DeleteResponses(ctx context.Context, requestID string) (int64, error) {
	var deleted int64
	err := s.retry(ctx, "delete responses", func() error {
		result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM responses WHERE request_id=$1`), requestID)
		if err != nil {
			return fmt.Errorf("delete responses: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete responses rows: %w", err)
		}
		return nil
	})
	return deleted, err
}

// DeleteRequest removes the request together with every hidden mark that
// points at it.
func (s *SQLStore) DeleteRequest(ctx context.Context, requestID string) error {
	return s.retry(ctx, "delete request", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete request: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM hidden_marks WHERE request_id=$1`), requestID); err != nil {
			return fmt.Errorf("delete hidden marks: %w", err)
		}
		result, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM requests WHERE id=$1`), requestID)
		if err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("delete request rows: %w", err)
		} else if affected == 0 {
			return ErrNotFound
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete request: %w", err)
		}
		return nil
	})
}

// ListAvailable returns one page of requests viewerID may respond to, newest
// first. after is the last request of the previous page.
func (s *SQLStore) ListAvailable(ctx context.Context, viewerID string, after *AvailableCursor, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + requestColumns + `
		FROM requests r
		WHERE (r.status = 'open' OR (r.status = 'voting_open' AND r.kind = 'group'))
			AND r.owner_id <> $1
			AND r.accepted_by IS NULL
			AND NOT EXISTS (SELECT 1 FROM hidden_marks h WHERE h.viewer_id = $1 AND h.request_id = r.id)`
	args := []any{viewerID}
	if after != nil {
		query += `
			AND (r.created_at < $2 OR (r.created_at = $2 AND r.id < $3))`
		args = append(args, toMillis(after.CreatedAt), after.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT %d`, limit)

	var items []Request
	err := s.retry(ctx, "list available", func() error {
		items = nil
		rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
		if err != nil {
			return fmt.Errorf("list available: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanRequest(rows)
			if err != nil {
				return fmt.Errorf("scan available: %w", err)
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	return items, err
}

// ListExpired returns requests still taking responses whose deadline is at or
// before now, oldest deadline first. after is the last request of the
// previous page.
func (s *SQLStore) ListExpired(ctx context.Context, now time.Time, after *ExpiryCursor, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + requestColumns + `
		FROM requests r
		WHERE r.status IN ('open', 'voting_open') AND r.expires_at IS NOT NULL AND r.expires_at <= $1`
	args := []any{toMillis(now)}
	if after != nil {
		query += `
			AND (r.expires_at > $2 OR (r.expires_at = $2 AND r.id > $3))`
		args = append(args, toMillis(after.ExpiresAt), after.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY r.expires_at ASC, r.id ASC
		LIMIT %d`, limit)

	var items []Request
	err := s.retry(ctx, "list expired", func() error {
		items = nil
		rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
		if err != nil {
			return fmt.Errorf("list expired: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanRequest(rows)
			if err != nil {
				return fmt.Errorf("scan expired: %w", err)
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	return items, err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		item                                           Request
		kind, status, participants                     string
		meetingID, joinURL, meetingStatus              string
		acceptedAt, expiresAt, completedAt, archivedAt sql.NullInt64
		createdAt, updatedAt                           int64
	)
	if err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&kind,
		&status,
		&item.Title,
		&item.Description,
		&item.MaxParticipants,
		&item.AcceptedBy,
		&acceptedAt,
		&meetingID,
		&joinURL,
		&meetingStatus,
		&participants,
		&item.ResponseCount,
		&item.ViewCount,
		&item.Version,
		&expiresAt,
		&createdAt,
		&updatedAt,
		&completedAt,
		&archivedAt,
	); err != nil {
		return Request{}, err
	}
	item.Kind = lifecycle.Kind(kind)
	item.Status = lifecycle.Status(status)
	item.AcceptedAt = timePtr(acceptedAt)
	item.ExpiresAt = timePtr(expiresAt)
	item.CompletedAt = timePtr(completedAt)
	item.ArchivedAt = timePtr(archivedAt)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	if meetingID != "" {
		item.Meeting = &MeetingRef{MeetingID: meetingID, JoinURL: joinURL, Status: meetingStatus}
	}
	decoded, err := decodeParticipants(participants)
	if err != nil {
		return Request{}, err
	}
	item.Participants = decoded
	return item, nil
}

func scanResponse(row rowScanner) (Response, error) {
	var (
		item                              Response
		decision                          string
		meetingID, joinURL, meetingStatus string
		createdAt                         int64
	)
	if err := row.Scan(
		&item.ID,
		&item.RequestID,
		&item.ResponderID,
		&decision,
		&item.Message,
		&meetingID,
		&joinURL,
		&meetingStatus,
		&createdAt,
	); err != nil {
		return Response{}, fmt.Errorf("scan response: %w", err)
	}
	item.Decision = lifecycle.Decision(decision)
	item.CreatedAt = fromMillis(createdAt)
	if meetingID != "" {
		item.Meeting = &MeetingRef{MeetingID: meetingID, JoinURL: joinURL, Status: meetingStatus}
	}
	return item, nil
}

func encodeParticipants(participants []string) (string, error) {
	if len(participants) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(participants)
	if err != nil {
		return "", fmt.Errorf("encode participants: %w", err)
	}
	return string(encoded), nil
}

func decodeParticipants(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var participants []string
	if err := json.Unmarshal([]byte(raw), &participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return participants, nil
}

func meetingColumns(ref *MeetingRef) (any, any, any) {
	if ref == nil || ref.MeetingID == "" {
		return nil, nil, nil
	}
	return ref.MeetingID, ref.JoinURL, nilIfEmpty(ref.Status)
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullMillis(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return toMillis(*value)
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}
