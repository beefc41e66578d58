package auditlogs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/dbx"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
)

const selectEntry = `SELECT id, operation, resource_type, resource_id, actor_id, actor_name,
		 ip_address, details, success, error_message, integrity_tag, created_at
		 FROM audit_logs`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.AuditLogEntry) error {
	query :=
		`INSERT INTO audit_logs (id, operation, resource_type, resource_id, actor_id, actor_name,
		 ip_address, details, success, error_message, integrity_tag, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 `

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Operation,
		dbx.NullString(e.ResourceType), dbx.NullString(e.ResourceID),
		dbx.NullString(e.ActorID), dbx.NullString(e.ActorName),
		dbx.NullString(e.IPAddress), dbx.NullString(e.Details),
		e.Success, dbx.NullString(e.ErrorMessage), dbx.NullString(e.IntegrityTag),
		e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectEntry+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*models.AuditLogEntry, error) {
	query := selectEntry + " WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at, id"

	var out []*models.AuditLogEntry
	err := r.each(ctx, func(e *models.AuditLogEntry) error {
		out = append(out, e)
		return nil
	}, query, from, to)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) ForEach(ctx context.Context, until time.Time, fn func(*models.AuditLogEntry) error) error {
	return r.each(ctx, fn, selectEntry+" WHERE created_at <= $1 ORDER BY created_at, id", until)
}

func (r *PostgresRepository) Search(ctx context.Context, f Filter) ([]*models.AuditLogEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Operation != "" {
		add("operation = $%d", f.Operation)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Keyword != "" {
		add(`details ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.Keyword)+"%")
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	query := selectEntry
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var out []*models.AuditLogEntry
	err := r.each(ctx, func(e *models.AuditLogEntry) error {
		out = append(out, e)
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) each(ctx context.Context, fn func(*models.AuditLogEntry) error, query string, args ...any) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.AuditLogEntry, error) {
	var (
		e                                      models.AuditLogEntry
		resType, resID, actorID, actorName, ip sql.NullString
		details, errMsg, tag                   sql.NullString
	)

	err := row.Scan(&e.ID, &e.Operation, &resType, &resID, &actorID, &actorName,
		&ip, &details, &e.Success, &errMsg, &tag, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.ResourceType = resType.String
	e.ResourceID = resID.String
	e.ActorID = actorID.String
	e.ActorName = actorName.String
	e.IPAddress = ip.String
	e.Details = details.String
	e.ErrorMessage = errMsg.String
	e.IntegrityTag = strings.TrimSpace(tag.String)

	return &e, nil
}
