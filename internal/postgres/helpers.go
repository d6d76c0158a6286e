package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// prefixed qualifies every column in a comma separated column list with a
// table alias, for joined queries.
func prefixed(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// textOrNil converts a pointer into a nullable pgtype.Text parameter.
func textOrNil(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

// textPtr converts a scanned pgtype.Text back into a pointer.
func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// mapPgError classifies driver errors into domain errors. notFound is the
// error returned for pgx.ErrNoRows; pass nil when no-rows cannot happen.
func mapPgError(err error, op string, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if notFound != nil {
			return notFound
		}
		return domain.DatabaseError(fmt.Errorf("%s: unexpected empty result", op))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &domain.Error{
				Type:    domain.ErrTypeEntityAlreadyExists,
				Code:    409,
				Message: fmt.Sprintf("%s: entity already exists", op),
			}
		case "23503": // foreign_key_violation
			return &domain.Error{
				Type:    domain.ErrTypeEntityNotFound,
				Code:    404,
				Message: fmt.Sprintf("%s: referenced entity does not exist", op),
			}
		case "40001", "40P01", "57014": // serialization, deadlock, cancel
			return domain.TransactionFailed(fmt.Errorf("%s: %w", op, err))
		}
	}
	return domain.DatabaseError(fmt.Errorf("%s: %w", op, err))
}
