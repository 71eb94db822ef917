package postgres

import (
	"context"
	"database/sql"

	"patient-access/internal/domain/accessrequests"
	"patient-access/internal/domain/audit"
)

// TxRunner runs a unit of work in one database transaction. The repo and
// the audit log both pick the transaction up from the context, so request
// rows and their events commit or roll back together.
type TxRunner struct {
	db   *sql.DB
	repo *AccessRequestsRepo
	log  *AuditLog
}

func NewTxRunner(db *sql.DB, repo *AccessRequestsRepo, log *AuditLog) *TxRunner {
	return &TxRunner{db: db, repo: repo, log: log}
}

func (t *TxRunner) RunInTx(ctx context.Context, fn accessrequests.TxFunc) ([]audit.Event, error) {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, translate("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec := &recordingAppender{log: t.log}
	if err := fn(withTx(ctx, tx), t.repo, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translate("commit", err)
	}
	return rec.sealed, nil
}

// recordingAppender keeps what was sealed inside the transaction so the
// runner can hand it back after commit.
type recordingAppender struct {
	log    *AuditLog
	sealed []audit.Event
}

func (r *recordingAppender) Append(ctx context.Context, events ...audit.Event) ([]audit.Event, error) {
	sealed, err := r.log.Append(ctx, events...)
	if err != nil {
		return nil, err
	}
	r.sealed = append(r.sealed, sealed...)
	return sealed, nil
}
