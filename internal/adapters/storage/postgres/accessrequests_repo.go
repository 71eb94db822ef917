package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"patient-access/internal/domain/accessrequests"
)

const requestColumns = `
	id, requester, patient, data_type, purpose,
	status, processed,
	created_at, expires_at, updated_at, version`

// AccessRequestsRepo reads and writes through the transaction carried by the
// context when there is one. Rows read inside a transaction are locked
// FOR UPDATE.
type AccessRequestsRepo struct {
	db *sql.DB
}

func NewAccessRequestsRepo(db *sql.DB) *AccessRequestsRepo {
	return &AccessRequestsRepo{db: db}
}

func (r *AccessRequestsRepo) Get(ctx context.Context, id string) (accessrequests.AccessRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return accessrequests.AccessRequest{}, accessrequests.ErrNotFound
	}

	q, inTx := conn(ctx, r.db)
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}

	req, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return accessrequests.AccessRequest{}, accessrequests.ErrNotFound
	}
	if err != nil {
		return accessrequests.AccessRequest{}, translate("get request", err)
	}
	return req, nil
}

// Put inserts version 1 or advances an existing row by exactly one version.
func (r *AccessRequestsRepo) Put(ctx context.Context, req accessrequests.AccessRequest) error {
	if req.ID == "" {
		return errors.New("access request id required")
	}

	q, _ := conn(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		INSERT INTO access_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			processed = EXCLUDED.processed,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE access_requests.version = EXCLUDED.version - 1
	`,
		req.ID,
		req.Requester,
		req.Patient,
		req.DataType,
		req.Purpose,
		string(req.Status),
		req.Processed,
		req.CreatedAt.UTC(),
		req.ExpiresAt.UTC(),
		req.UpdatedAt.UTC(),
		req.Version,
	)
	if err != nil {
		return translate("put request", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: stale write for %s at version %d",
			accessrequests.ErrStoreUnavailable, req.ID, req.Version)
	}
	return nil
}

func (r *AccessRequestsRepo) FindPendingDuplicate(ctx context.Context, k accessrequests.Key) (string, bool, error) {
	q, inTx := conn(ctx, r.db)
	query := `
		SELECT id FROM access_requests
		WHERE requester = $1 AND patient = $2 AND data_type = $3 AND status = 'pending'
		LIMIT 1`
	if inTx {
		query += ` FOR UPDATE`
	}

	var id string
	err := q.QueryRowContext(ctx, query, k.Requester, k.Patient, k.DataType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translate("find pending duplicate", err)
	}
	return id, true, nil
}

func (r *AccessRequestsRepo) Query(ctx context.Context, f accessrequests.Filter) ([]accessrequests.AccessRequest, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("patient", f.Patient)
	add("requester", f.Requester)
	add("status", string(f.Status))
	add("data_type", f.DataType)

	query := `SELECT ` + requestColumns + ` FROM access_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d`, len(args))

	q, _ := conn(ctx, r.db)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("query requests", err)
	}
	defer rows.Close()

	out := make([]accessrequests.AccessRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, translate("scan request", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("query requests", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (accessrequests.AccessRequest, error) {
	var req accessrequests.AccessRequest
	var status string
	if err := s.Scan(
		&req.ID,
		&req.Requester,
		&req.Patient,
		&req.DataType,
		&req.Purpose,
		&status,
		&req.Processed,
		&req.CreatedAt,
		&req.ExpiresAt,
		&req.UpdatedAt,
		&req.Version,
	); err != nil {
		return accessrequests.AccessRequest{}, err
	}
	req.Status = accessrequests.Status(status)
	req.CreatedAt = req.CreatedAt.UTC()
	req.ExpiresAt = req.ExpiresAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return req, nil
}
