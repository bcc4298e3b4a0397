package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"gatehouse.org/internal/auth"
)

type serviceRoleRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	ServiceID   string    `db:"service_id"`
	Role        string    `db:"role"`
	CreatedAt   time.Time `db:"created_at"`
	ServiceName string    `db:"service_name"`
}

func (r serviceRoleRow) toDomain() auth.ServiceRoleRow {
	return auth.ServiceRoleRow{
		ID:        r.ID,
		UserID:    r.UserID,
		ServiceID: r.ServiceID,
		Role:      auth.Role(r.Role),
		CreatedAt: r.CreatedAt,
		Service:   auth.ServiceRef{ID: r.ServiceID, Name: r.ServiceName},
	}
}

var serviceRoleColumns = []string{
	"sr.id::text AS id",
	"sr.user_id::text AS user_id",
	"sr.service_id::text AS service_id",
	"sr.role",
	"sr.created_at",
	"s.name AS service_name",
}

// returningRole joins a data-modifying CTE named sr back to its service.
const returningRole = `
	SELECT sr.id::text AS id, sr.user_id::text AS user_id, sr.service_id::text AS service_id,
	       sr.role, sr.created_at, s.name AS service_name
	FROM sr JOIN services s ON s.id = sr.service_id`

func (s *Store) ListServiceRoles(ctx context.Context, filter auth.ServiceRoleFilter) ([]auth.ServiceRoleRow, error) {
	q := s.qb.Select(serviceRoleColumns...).
		From("service_roles sr").
		Join("services s ON s.id = sr.service_id").
		OrderBy("s.name", "sr.created_at")
	if filter.UserIDs != nil {
		if len(filter.UserIDs) == 0 {
			return nil, nil
		}
		q = q.Where(squirrel.Eq{"sr.user_id": filter.UserIDs})
	}
	if filter.ServiceID != "" {
		q = q.Where(squirrel.Eq{"sr.service_id": filter.ServiceID})
	}
	if filter.Role != "" {
		q = q.Where(squirrel.Eq{"sr.role": string(filter.Role)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var rows []serviceRoleRow
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]auth.ServiceRoleRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// AssignedUserIDs returns every user id holding at least one service role.
func (s *Store) AssignedUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := sqlscan.Select(ctx, s.db, &ids, `SELECT DISTINCT user_id::text FROM service_roles`); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetServiceRole(ctx context.Context, userID, serviceID string) (auth.ServiceRoleRow, error) {
	query, args, err := s.qb.Select(serviceRoleColumns...).
		From("service_roles sr").
		Join("services s ON s.id = sr.service_id").
		Where(squirrel.Eq{"sr.user_id": userID, "sr.service_id": serviceID}).
		ToSql()
	if err != nil {
		return auth.ServiceRoleRow{}, err
	}
	var row serviceRoleRow
	if err := sqlscan.Get(ctx, s.db, &row, query, args...); err != nil {
		return auth.ServiceRoleRow{}, mapScanError(err)
	}
	return row.toDomain(), nil
}

// ServiceRoleByName resolves the role userID holds in the service called serviceName.
func (s *Store) ServiceRoleByName(ctx context.Context, userID, serviceName string) (auth.ServiceRoleRow, error) {
	query, args, err := s.qb.Select(serviceRoleColumns...).
		From("service_roles sr").
		Join("services s ON s.id = sr.service_id").
		Where(squirrel.Eq{"sr.user_id": userID, "s.name": serviceName}).
		ToSql()
	if err != nil {
		return auth.ServiceRoleRow{}, err
	}
	var row serviceRoleRow
	if err := sqlscan.Get(ctx, s.db, &row, query, args...); err != nil {
		return auth.ServiceRoleRow{}, mapScanError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) CountAdmins(ctx context.Context, serviceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM service_roles
		WHERE service_id = $1 AND role = 'admin'
	`, serviceID).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// InsertServiceRole creates a row. An existing (user, service) pair yields auth.ErrConflict.
func (s *Store) InsertServiceRole(ctx context.Context, userID, serviceID string, role auth.Role) (auth.ServiceRoleRow, error) {
	var row serviceRoleRow
	err := sqlscan.Get(ctx, s.db, &row, `
		WITH sr AS (
			INSERT INTO service_roles (user_id, service_id, role)
			VALUES ($1, $2, $3)
			RETURNING *
		)`+returningRole, userID, serviceID, string(role))
	if err != nil {
		return auth.ServiceRoleRow{}, mapScanError(err)
	}
	return row.toDomain(), nil
}

// UpdateServiceRole changes the role of an existing row under guard.
func (s *Store) UpdateServiceRole(ctx context.Context, userID, serviceID string, role auth.Role, guard auth.FloorGuard) (auth.ServiceRoleRow, error) {
	var row serviceRoleRow
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if guard.Enabled() {
			if err := s.checkFloor(ctx, tx, guard, userID); err != nil {
				return err
			}
		}
		return sqlscan.Get(ctx, tx, &row, `
			WITH sr AS (
				UPDATE service_roles SET role = $3
				WHERE user_id = $1 AND service_id = $2
				RETURNING *
			)`+returningRole, userID, serviceID, string(role))
	})
	if err != nil {
		return auth.ServiceRoleRow{}, mapScanError(err)
	}
	return row.toDomain(), nil
}

// DeleteServiceRole removes one row under guard and returns it.
func (s *Store) DeleteServiceRole(ctx context.Context, userID, serviceID string, guard auth.FloorGuard) (auth.ServiceRoleRow, error) {
	var row serviceRoleRow
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if guard.Enabled() {
			if err := s.checkFloor(ctx, tx, guard, userID); err != nil {
				return err
			}
		}
		return sqlscan.Get(ctx, tx, &row, `
			WITH sr AS (
				DELETE FROM service_roles
				WHERE user_id = $1 AND service_id = $2
				RETURNING *
			)`+returningRole, userID, serviceID)
	})
	if err != nil {
		return auth.ServiceRoleRow{}, mapScanError(err)
	}
	return row.toDomain(), nil
}

// DeleteUserRoles removes every role row of userID and then runs commit inside
// the same transaction. The rows are restored if commit fails. The transaction
// runs detached from ctx so a deadline that expires after commit succeeded
// cannot roll the role rows back; commit itself still receives ctx.
func (s *Store) DeleteUserRoles(ctx context.Context, userID string, guard auth.FloorGuard, commit func(context.Context) error) error {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTxTimeout)
	defer cancel()
	err := s.inTx(txCtx, func(tx *sql.Tx) error {
		if guard.Enabled() {
			if err := s.checkFloor(txCtx, tx, guard, userID); err != nil && !errors.Is(err, auth.ErrNotFound) {
				return err
			}
		}
		if _, err := tx.ExecContext(txCtx, `DELETE FROM service_roles WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if commit == nil {
			return nil
		}
		return commit(ctx)
	})
	return mapError(err)
}
