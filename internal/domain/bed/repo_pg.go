package bed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/internal/platform/db"
	"github.com/ehr/inpatient/pkg/pagination"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const bedCols = `id, ward_id, bed_number, type, status, daily_rate, active, created_at, updated_at`

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	if err := row.Scan(&b.ID, &b.WardID, &b.BedNumber, &b.Type, &b.Status, &b.DailyRate, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts the bed only while its ward exists and is active.
func (r *repoPG) Create(ctx context.Context, b *Bed) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed (id, ward_id, bed_number, type, status, daily_rate, active)
		SELECT $1, w.id, $3, $4, $5, $6, $7 FROM ward w WHERE w.id = $2 AND w.active
		RETURNING created_at, updated_at`,
		b.ID, b.WardID, b.BedNumber, b.Type, b.Status, b.DailyRate, b.Active,
	)
	err := row.Scan(&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFoundf("ward %s not found or inactive", b.WardID)
	}
	return db.Classify(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bed", id)
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return b, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, p pagination.Params) ([]*Bed, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WardID != nil {
		add("ward_id = $%d", *f.WardID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Active != nil {
		add("active = $%d", *f.Active)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bed`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	args = append(args, p.Limit, p.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM bed%s ORDER BY ward_id, bed_number LIMIT $%d OFFSET $%d`, bedCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	beds, err := collectBeds(rows)
	return beds, total, err
}

func (r *repoPG) ListAvailable(ctx context.Context, wardID *uuid.UUID, t Type) ([]*Bed, error) {
	q := `SELECT b.id, b.ward_id, b.bed_number, b.type, b.status, b.daily_rate, b.active, b.created_at, b.updated_at
		FROM bed b JOIN ward w ON w.id = b.ward_id
		WHERE b.active AND w.active AND b.status = 'available'`
	var args []interface{}
	if wardID != nil {
		args = append(args, *wardID)
		q += fmt.Sprintf(" AND b.ward_id = $%d", len(args))
	}
	if t != "" {
		args = append(args, t)
		q += fmt.Sprintf(" AND b.type = $%d", len(args))
	}
	q += " ORDER BY w.name, b.bed_number"

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	return collectBeds(rows)
}

func collectBeds(rows pgx.Rows) ([]*Bed, error) {
	var out []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

func (r *repoPG) Update(ctx context.Context, b *Bed) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE bed SET bed_number = $2, type = $3, daily_rate = $4, active = $5, updated_at = NOW()
		WHERE id = $1 AND ($5 OR status <> 'occupied')
		RETURNING status, updated_at`,
		b.ID, b.BedNumber, b.Type, b.DailyRate, b.Active,
	)
	err := row.Scan(&b.Status, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, b.ID); getErr != nil {
			return getErr
		}
		return apperr.Conflict(MsgOccupiedInactive)
	}
	return db.Classify(err)
}

func (r *repoPG) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND (active OR $3 <> 'occupied')`,
		id, from, to,
	)
	if err != nil {
		return false, db.Classify(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *repoPG) StatusCounts(ctx context.Context, wardID *uuid.UUID) (map[uuid.UUID]StatusCount, error) {
	q := `SELECT ward_id, status, COUNT(*) FROM bed WHERE active`
	var args []interface{}
	if wardID != nil {
		q += ` AND ward_id = $1`
		args = append(args, *wardID)
	}
	q += ` GROUP BY ward_id, status`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]StatusCount)
	for rows.Next() {
		var (
			ward   uuid.UUID
			status Status
			n      int
		)
		if err := rows.Scan(&ward, &status, &n); err != nil {
			return nil, db.Classify(err)
		}
		c := counts[ward]
		c.Add(status, n)
		counts[ward] = c
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return counts, nil
}
