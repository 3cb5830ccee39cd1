package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/blindroute-core/internal/common/db"
	"github.com/blindroute-core/internal/common/logger"
)

// PostgresStore persists reservations in the reservations table created by
// db.Migrate. The partial-unique index on (owner_id, kind) backs the
// single-live-reservation invariant at the data layer.
type PostgresStore struct {
	db     *db.DB
	logger logger.Logger
}

func NewPostgresStore(database *db.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     database,
		logger: log,
	}
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) (string, error) {
	const query = `
INSERT INTO reservations (owner_id, kind, stop_id, ars_id, route_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	var id int64
	err := s.db.Conn().QueryRowContext(ctx, query,
		rec.OwnerID, string(rec.Kind), rec.StopID, rec.ArsID, rec.RouteID,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("inserting reservation: %w", err)
	}

	s.logger.Debug("Reservation created",
		"owner", rec.OwnerID, "kind", string(rec.Kind), "route", rec.RouteID)
	return strconv.FormatInt(id, 10), nil
}

func (s *PostgresStore) CancelAll(ctx context.Context, kind Kind, ownerID string) (int64, error) {
	const query = `DELETE FROM reservations WHERE owner_id = $1 AND kind = $2`

	result, err := s.db.Conn().ExecContext(ctx, query, ownerID, string(kind))
	if err != nil {
		return 0, fmt.Errorf("deleting reservations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted reservations: %w", err)
	}

	s.logger.Debug("Reservations cancelled",
		"owner", ownerID, "kind", string(kind), "deleted", deleted)
	return deleted, nil
}
