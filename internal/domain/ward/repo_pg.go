package ward

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

const wardCols = `id, name, type, capacity, current_occupancy, active, created_at, updated_at`

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	if err := row.Scan(&w.ID, &w.Name, &w.Type, &w.Capacity, &w.CurrentOccupancy, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repoPG) notFoundOr(id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("ward", id)
	}
	return db.Classify(err)
}

func (r *repoPG) Create(ctx context.Context, w *Ward) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ward (id, name, type, capacity, current_occupancy, active)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING created_at, updated_at`,
		w.ID, w.Name, w.Type, w.Capacity, w.Active,
	)
	if err := row.Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		return db.Classify(err)
	}
	w.CurrentOccupancy = 0
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	w, err := scanWard(r.conn(ctx).QueryRow(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1`, id))
	if err != nil {
		return nil, r.notFoundOr(id, err)
	}
	return w, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, p pagination.Params) ([]*Ward, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ward`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	args = append(args, p.Limit, p.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM ward%s ORDER BY name LIMIT $%d OFFSET $%d`, wardCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	wards, err := collectWards(rows)
	return wards, total, err
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Ward, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+wardCols+` FROM ward ORDER BY name`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	return collectWards(rows)
}

func collectWards(rows pgx.Rows) ([]*Ward, error) {
	var out []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

func (r *repoPG) Update(ctx context.Context, w *Ward) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE ward SET name = $2, type = $3, capacity = $4, active = $5, updated_at = NOW()
		WHERE id = $1 AND ($5 OR current_occupancy = 0)
		RETURNING current_occupancy, created_at, updated_at`,
		w.ID, w.Name, w.Type, w.Capacity, w.Active,
	)
	err := row.Scan(&w.CurrentOccupancy, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, w.ID); getErr != nil {
			return getErr
		}
		return apperr.Conflict(MsgOccupied)
	}
	return db.Classify(err)
}

func (r *repoPG) AdjustOccupancy(ctx context.Context, id uuid.UUID, delta int) (*Ward, error) {
	w, err := scanWard(r.conn(ctx).QueryRow(ctx, `
		UPDATE ward SET current_occupancy = current_occupancy + $2, updated_at = NOW()
		WHERE id = $1 AND current_occupancy + $2 >= 0 AND (active OR $2 <= 0)
		RETURNING `+wardCols,
		id, delta,
	))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, db.Classify(err)
	}

	cur, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if cur.CurrentOccupancy+delta < 0 {
		return nil, apperr.Conflict(MsgNegativeOccupancy)
	}
	return nil, apperr.Conflict(MsgInactive)
}

func (r *repoPG) SetOccupancy(ctx context.Context, id uuid.UUID, occupied int) (*Ward, error) {
	w, err := scanWard(r.conn(ctx).QueryRow(ctx, `
		UPDATE ward SET current_occupancy = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+wardCols,
		id, occupied,
	))
	if err != nil {
		return nil, r.notFoundOr(id, err)
	}
	return w, nil
}
