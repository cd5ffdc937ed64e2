package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// CreateAVMParams carries the fields needed to insert an AVM row.
type CreateAVMParams struct {
	AVMID     uuid.UUID
	AVMName   string
	UIDOwner  string
	ProjectID uuid.UUID
	Image     string
	HWConfig  HWConfig
	TestrunID *uuid.UUID // set only for campaign-spawned AVMs
}

func (q *Queries) scanAVM(row interface {
	Scan(dest ...any) error
}) (AVM, error) {
	var a AVM
	var hwRaw []byte
	err := row.Scan(&a.AVMID, &a.AVMName, &a.UIDOwner, &a.ProjectID, &a.Image, &hwRaw,
		&a.TestrunID, &a.StackName, &a.Status, &a.StatusTS, &a.StatusReason, &a.TSCreated)
	if err != nil {
		return AVM{}, err
	}
	a.HWConfig, err = unmarshalHWConfig(hwRaw)
	return a, err
}

const avmColumns = `avm_id, avm_name, uid_owner, project_id, image, hwconfig, testrun_id, stack_name, status, status_ts, status_reason, ts_created`

// CreateAVM inserts an AVM row in the CREATING state (spec.md §4.4 avm_create step 1).
func (q *Queries) CreateAVM(ctx context.Context, p CreateAVMParams) (AVM, error) {
	hwRaw, err := marshalHWConfig(p.HWConfig)
	if err != nil {
		return AVM{}, fmt.Errorf("marshalling hwconfig: %w", err)
	}
	var testrunID pgtype.UUID
	if p.TestrunID != nil {
		testrunID = pgtype.UUID{Bytes: *p.TestrunID, Valid: true}
	}
	query := fmt.Sprintf(`
		INSERT INTO avms (avm_id, avm_name, uid_owner, project_id, image, hwconfig, testrun_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'CREATING')
		RETURNING %s`, avmColumns)
	row := q.db.QueryRow(ctx, query, p.AVMID, p.AVMName, p.UIDOwner, p.ProjectID, p.Image, hwRaw, testrunID)
	return q.scanAVM(row)
}

// GetAVMVisible fetches an AVM gated by the "AVMs visible to user" predicate
// (spec.md §3): owned by userid, or belonging to a project shared with it.
func (q *Queries) GetAVMVisible(ctx context.Context, id uuid.UUID, userid string) (AVM, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM avms a
		WHERE a.avm_id = $1 AND a.status <> 'DELETED'
		  AND (a.uid_owner = $2 OR EXISTS (
		        SELECT 1 FROM project_shares s WHERE s.project_id = a.project_id AND s.uid_user = $2))`,
		prefixColumns("a", avmColumns))
	row := q.db.QueryRow(ctx, query, id, userid)
	return q.scanAVM(row)
}

// GetAVM fetches an AVM by id regardless of visibility (for internal task
// handlers operating purely by ID per spec.md §3 "Lifecycle & ownership").
func (q *Queries) GetAVM(ctx context.Context, id uuid.UUID) (AVM, error) {
	query := fmt.Sprintf(`SELECT %s FROM avms WHERE avm_id = $1`, avmColumns)
	row := q.db.QueryRow(ctx, query, id)
	return q.scanAVM(row)
}

// ListAVMsVisible lists non-DELETED AVMs visible to userid.
func (q *Queries) ListAVMsVisible(ctx context.Context, userid string) ([]AVM, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM avms a
		WHERE a.status <> 'DELETED'
		  AND (a.uid_owner = $1 OR EXISTS (
		        SELECT 1 FROM project_shares s WHERE s.project_id = a.project_id AND s.uid_user = $1))
		ORDER BY a.ts_created DESC`, prefixColumns("a", avmColumns))
	rows, err := q.db.Query(ctx, query, userid)
	if err != nil {
		return nil, fmt.Errorf("listing avms: %w", err)
	}
	defer rows.Close()

	var out []AVM
	for rows.Next() {
		a, err := q.scanAVM(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning avm: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAVMStatus transitions an AVM's status.
func (q *Queries) SetAVMStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	const query = `
		UPDATE avms SET status = $2, status_ts = transaction_timestamp(), status_reason = $3
		WHERE avm_id = $1`
	_, err := q.db.Exec(ctx, query, id, status, reason)
	return err
}

// SetAVMStackName persists the Heat stack name. Per the stack-name
// immutability invariant (spec.md §3), this must only ever be called once
// per AVM; callers enforce that by only calling it from avm_create, which
// runs at most once per AVM (spec.md §4.4).
func (q *Queries) SetAVMStackName(ctx context.Context, id uuid.UUID, stackName string) error {
	const query = `UPDATE avms SET stack_name = $2 WHERE avm_id = $1 AND stack_name IS NULL`
	_, err := q.db.Exec(ctx, query, id, stackName)
	return err
}

// IsAVMDeleted implements the obsolescence predicate (spec.md §4.3 step 3).
func (q *Queries) IsAVMDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT status = 'DELETED' FROM avms WHERE avm_id = $1`
	var deleted bool
	err := q.db.QueryRow(ctx, query, id).Scan(&deleted)
	return deleted, err
}

// CountLiveAVMsForOwner counts AVMs in CREATING or READY owned by uidOwner,
// excluding campaign-spawned AVMs (testrun_id IS NULL). Enforces
// quota.vm_live_max (spec.md §8).
func (q *Queries) CountLiveAVMsForOwner(ctx context.Context, uidOwner string) (int, error) {
	const query = `
		SELECT count(*) FROM avms
		WHERE uid_owner = $1 AND status IN ('CREATING', 'READY') AND testrun_id IS NULL`
	var n int
	err := q.db.QueryRow(ctx, query, uidOwner).Scan(&n)
	return n, err
}

// CountLiveAsyncAVMsForOwner counts campaign-spawned AVMs (testrun_id NOT
// NULL) in CREATING or READY owned by uidOwner. Enforces
// quota.vm_async_max (spec.md §8).
func (q *Queries) CountLiveAsyncAVMsForOwner(ctx context.Context, uidOwner string) (int, error) {
	const query = `
		SELECT count(*) FROM avms
		WHERE uid_owner = $1 AND status IN ('CREATING', 'READY') AND testrun_id IS NOT NULL`
	var n int
	err := q.db.QueryRow(ctx, query, uidOwner).Scan(&n)
	return n, err
}

// GetImage resolves (system_image, data_image, android_version) by image key
// (spec.md §4.4 avm_create step 5).
func (q *Queries) GetImage(ctx context.Context, key string) (Image, error) {
	const query = `SELECT image_key, system_image, data_image, android_version FROM images WHERE image_key = $1`
	var img Image
	err := q.db.QueryRow(ctx, query, key).Scan(&img.ImageKey, &img.SystemImage, &img.DataImage, &img.AndroidVersion)
	return img, err
}

// prefixColumns prefixes each column name in a comma-separated list with
// "alias.", used when a query joins multiple tables.
func prefixColumns(alias, columns string) string {
	out := ""
	start := 0
	for i := 0; i <= len(columns); i++ {
		if i == len(columns) || columns[i] == ',' {
			col := columns[start:i]
			// trim leading space
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if out != "" {
				out += ", "
			}
			out += alias + "." + col
			start = i + 1
		}
	}
	return out
}
