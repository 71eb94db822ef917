package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"patient-access/internal/domain/accessrequests"

	"github.com/jackc/pgx/v5/pgconn"
)

const pendingIndex = "access_requests_one_pending"

// translate maps driver errors onto the engine's error kinds: the pending
// unique index to ErrDuplicatePending and transient faults to
// ErrStoreUnavailable.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && pgErr.ConstraintName == pendingIndex {
			return accessrequests.ErrDuplicatePending
		}
		if transientCode(pgErr.Code) {
			return unavailable(op, err)
		}
		return fmt.Errorf("postgres %s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return unavailable(op, err)
	case errors.Is(err, driver.ErrBadConn), pgconn.Timeout(err), errors.As(err, &connErr):
		return unavailable(op, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %v", accessrequests.ErrStoreUnavailable, op, err)
}

func transientCode(code string) bool {
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"57P01", // admin_shutdown
		"57014", // query_canceled
		"53300": // too_many_connections
		return true
	}
	return strings.HasPrefix(code, "08")
}
