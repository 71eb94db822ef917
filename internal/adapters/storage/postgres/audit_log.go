package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"patient-access/internal/domain/accessrequests"
	"patient-access/internal/domain/audit"
)

const eventColumns = `
	seq, id, request_id, event_type, actor,
	requester, patient, data_type, purpose,
	from_status, to_status, outcome,
	at, expires_at, prev_hash, hash`

// AuditLog stores sealed events in audit_events. Seq comes from the table's
// bigserial and is therefore increasing but not gap-free.
type AuditLog struct {
	db *sql.DB
}

func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Append seals and inserts events in one transaction, joining the caller's
// transaction when ctx carries one.
func (l *AuditLog) Append(ctx context.Context, events ...audit.Event) ([]audit.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	if tx, ok := txFrom(ctx); ok {
		return l.append(ctx, tx, events)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, appendFailed(err)
	}
	defer func() { _ = tx.Rollback() }()

	sealed, err := l.append(ctx, tx, events)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appendFailed(err)
	}
	return sealed, nil
}

func (l *AuditLog) append(ctx context.Context, tx *sql.Tx, events []audit.Event) ([]audit.Event, error) {
	heads := make(map[string][]byte)
	sealed := make([]audit.Event, 0, len(events))

	for _, e := range events {
		if e.ID == "" || e.RequestID == "" {
			return nil, fmt.Errorf("%w: event id and request id required", audit.ErrAppendFailed)
		}

		prev, ok := heads[e.RequestID]
		if !ok {
			err := tx.QueryRowContext(ctx, `
				SELECT hash FROM audit_events
				WHERE request_id = $1
				ORDER BY seq DESC
				LIMIT 1
			`, e.RequestID).Scan(&prev)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, appendFailed(err)
			}
		}

		s, err := audit.Seal(prev, e)
		if err != nil {
			return nil, errors.Join(audit.ErrAppendFailed, err)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO audit_events (
				id, request_id, event_type, actor,
				requester, patient, data_type, purpose,
				from_status, to_status, outcome,
				at, expires_at, prev_hash, hash
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING seq
		`,
			s.ID,
			s.RequestID,
			string(s.Type),
			s.Actor,
			s.Requester,
			s.Patient,
			s.DataType,
			s.Purpose,
			s.FromStatus,
			s.ToStatus,
			s.Outcome,
			s.At.UTC(),
			toNullTime(s.ExpiresAt),
			s.PrevHash,
			s.Hash,
		).Scan(&s.Seq)
		if err != nil {
			return nil, appendFailed(err)
		}

		heads[e.RequestID] = s.Hash
		sealed = append(sealed, s)
	}
	return sealed, nil
}

func (l *AuditLog) Query(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.RequestID != "" {
		args = append(args, q.RequestID)
		where = append(where, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if q.From != nil {
		args = append(args, q.From.UTC())
		where = append(where, fmt.Sprintf("at >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, q.To.UTC())
		where = append(where, fmt.Sprintf("at <= $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, q.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY seq ASC LIMIT $%d`, len(args))

	db, _ := conn(ctx, l.db)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("query audit events", err)
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e         audit.Event
			typ       string
			expiresAt sql.NullTime
		)
		if err := rows.Scan(
			&e.Seq,
			&e.ID,
			&e.RequestID,
			&typ,
			&e.Actor,
			&e.Requester,
			&e.Patient,
			&e.DataType,
			&e.Purpose,
			&e.FromStatus,
			&e.ToStatus,
			&e.Outcome,
			&e.At,
			&expiresAt,
			&e.PrevHash,
			&e.Hash,
		); err != nil {
			return nil, translate("scan audit event", err)
		}
		e.Type = audit.EventType(typ)
		e.At = e.At.UTC()
		if expiresAt.Valid {
			e.ExpiresAt = expiresAt.Time.UTC()
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("query audit events", err)
	}
	return out, nil
}

// appendFailed marks err as an append failure. Transient faults also keep
// ErrStoreUnavailable so the caller may retry the whole unit.
func appendFailed(err error) error {
	if t := translate("append audit event", err); errors.Is(t, accessrequests.ErrStoreUnavailable) {
		return errors.Join(audit.ErrAppendFailed, t)
	}
	return fmt.Errorf("%w: %v", audit.ErrAppendFailed, err)
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
