package admission

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

const admissionCols = `id, patient_id, staff_id, ward_id, bed_id, admitted_at, admission_type, status,
	diagnosis, notes, discharged_at, discharge_disposition, transferred_from_id, transferred_to_id,
	created_at, updated_at`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.StaffID, &a.WardID, &a.BedID, &a.AdmittedAt, &a.AdmissionType, &a.Status,
		&a.Diagnosis, &a.Notes, &a.DischargedAt, &a.DischargeDisposition, &a.TransferredFromID, &a.TransferredToID,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, patient_id, staff_id, ward_id, bed_id, admitted_at, admission_type, status,
			diagnosis, notes, transferred_from_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'admitted', $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.StaffID, a.WardID, a.BedID, a.AdmittedAt, a.AdmissionType,
		a.Diagnosis, a.Notes, a.TransferredFromID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return db.Classify(err)
	}
	a.Status = StatusAdmitted
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admission WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("admission", id)
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return a, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, p pagination.Params) ([]*Admission, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.WardID != nil {
		add("ward_id = $%d", *f.WardID)
	}
	if f.BedID != nil {
		add("bed_id = $%d", *f.BedID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	args = append(args, p.Limit, p.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM admission%s ORDER BY admitted_at DESC, id LIMIT $%d OFFSET $%d`,
			admissionCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, db.Classify(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	return out, total, nil
}

func (r *repoPG) UpdateNotes(ctx context.Context, id uuid.UUID, diagnosis, notes *string) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET diagnosis = COALESCE($2, diagnosis), notes = COALESCE($3, notes), updated_at = NOW()
		WHERE id = $1
		RETURNING `+admissionCols,
		id, diagnosis, notes,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("admission", id)
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return a, nil
}

func (r *repoPG) Close(ctx context.Context, a *Admission) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE admission SET status = $2, discharged_at = $3, discharge_disposition = $4,
			transferred_to_id = $5, notes = COALESCE($6, notes), updated_at = NOW()
		WHERE id = $1 AND status = 'admitted'`,
		a.ID, a.Status, a.DischargedAt, a.DischargeDisposition, a.TransferredToID, a.Notes,
	)
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE admission SET status = 'admitted', discharged_at = NULL, discharge_disposition = NULL,
			transferred_to_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> 'admitted'`,
		id,
	)
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Retract(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM admission WHERE id = $1 AND status = 'admitted'`, id)
	return db.Classify(err)
}

func (r *repoPG) Counts(ctx context.Context, dr DayRange) (Counts, error) {
	var c Counts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT $3 OR admitted_at < $2),
			COUNT(*) FILTER (WHERE status = 'admitted'),
			COUNT(*) FILTER (WHERE admitted_at >= $1 AND admitted_at < $2),
			COUNT(*) FILTER (WHERE discharged_at >= $1 AND discharged_at < $2)
		FROM admission`,
		dr.Start, dr.End, dr.BoundTotal,
	).Scan(&c.Total, &c.Current, &c.AdmittedOnDay, &c.DischargedOnDay)
	if err != nil {
		return Counts{}, db.Classify(err)
	}
	return c, nil
}
