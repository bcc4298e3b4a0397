package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"gatehouse.org/internal/auth"
)

type auditRow struct {
	ID          string         `db:"id"`
	CreatedAt   time.Time      `db:"created_at"`
	ActorID     sql.NullString `db:"actor_id"`
	ActorEmail  sql.NullString `db:"actor_email"`
	Action      string         `db:"action"`
	TargetID    sql.NullString `db:"target_id"`
	TargetEmail sql.NullString `db:"target_email"`
	Details     []byte         `db:"details"`
}

func (r auditRow) toDomain() auth.AuditEntry {
	e := auth.AuditEntry{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		ActorID:     r.ActorID.String,
		ActorEmail:  r.ActorEmail.String,
		Action:      r.Action,
		TargetID:    r.TargetID.String,
		TargetEmail: r.TargetEmail.String,
	}
	if len(r.Details) > 0 {
		e.Details = json.RawMessage(r.Details)
	}
	return e
}

var auditColumns = []string{
	"id::text AS id",
	"created_at",
	"actor_id::text AS actor_id",
	"actor_email",
	"action",
	"target_id::text AS target_id",
	"target_email",
	"details::text AS details",
}

// AppendAudit inserts one immutable audit row. The store assigns id and created_at.
func (s *Store) AppendAudit(ctx context.Context, entry auth.AuditEntry) (auth.AuditEntry, error) {
	var details sql.NullString
	if len(entry.Details) > 0 {
		details = sql.NullString{String: string(entry.Details), Valid: true}
	}
	query, args, err := s.qb.Insert("audit_logs").
		Columns("actor_id", "actor_email", "action", "target_id", "target_email", "details").
		Values(
			nullIfEmpty(entry.ActorID),
			nullIfEmpty(entry.ActorEmail),
			entry.Action,
			nullIfEmpty(entry.TargetID),
			nullIfEmpty(entry.TargetEmail),
			squirrel.Expr("?::jsonb", details),
		).
		Suffix("RETURNING id::text, created_at").
		ToSql()
	if err != nil {
		return auth.AuditEntry{}, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return auth.AuditEntry{}, mapError(err)
	}
	return entry, nil
}

// ListAudit returns one page of audit rows, newest first, and the total match count.
func (s *Store) ListAudit(ctx context.Context, filter auth.AuditFilter) ([]auth.AuditEntry, int, error) {
	where := squirrel.And{}
	if term := strings.TrimSpace(filter.Search); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		where = append(where, squirrel.Or{
			squirrel.ILike{"actor_email": pattern},
			squirrel.ILike{"target_email": pattern},
			squirrel.ILike{"action": pattern},
		})
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		where = append(where, squirrel.Eq{"action": action})
	}

	countQ := s.qb.Select("count(*)").From("audit_logs")
	listQ := s.qb.Select(auditColumns...).From("audit_logs").
		OrderBy("created_at DESC", "id DESC")
	if len(where) > 0 {
		countQ = countQ.Where(where)
		listQ = listQ.Where(where)
	}
	if filter.Limit > 0 {
		listQ = listQ.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		listQ = listQ.Offset(uint64(filter.Offset))
	}

	query, args, err := countQ.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	if total == 0 {
		return []auth.AuditEntry{}, 0, nil
	}

	query, args, err = listQ.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var rows []auditRow
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, 0, mapError(err)
	}
	out := make([]auth.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
