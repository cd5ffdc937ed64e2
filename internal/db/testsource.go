package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const testsourceColumns = `testsource_id, project_id, filename, content, apk_id, status, status_ts`

func scanTestsource(row interface {
	Scan(dest ...any) error
}) (Testsource, error) {
	var t Testsource
	err := row.Scan(&t.TestsourceID, &t.ProjectID, &t.Filename, &t.Content, &t.APKID, &t.Status, &t.StatusTS)
	return t, err
}

// CreateTestsource inserts a project test-source row, optionally bound to an APK.
func (q *Queries) CreateTestsource(ctx context.Context, id, projectID uuid.UUID, filename, content string, apkID *uuid.UUID) (Testsource, error) {
	var apk pgtype.UUID
	if apkID != nil {
		apk = pgtype.UUID{Bytes: *apkID, Valid: true}
	}
	query := fmt.Sprintf(`
		INSERT INTO project_testsources (testsource_id, project_id, filename, content, apk_id, status)
		VALUES ($1, $2, $3, $4, $5, 'CREATING')
		RETURNING %s`, testsourceColumns)
	row := q.db.QueryRow(ctx, query, id, projectID, filename, content, apk)
	return scanTestsource(row)
}

// GetTestsource fetches a test source by id.
func (q *Queries) GetTestsource(ctx context.Context, id uuid.UUID) (Testsource, error) {
	query := fmt.Sprintf(`SELECT %s FROM project_testsources WHERE testsource_id = $1`, testsourceColumns)
	row := q.db.QueryRow(ctx, query, id)
	return scanTestsource(row)
}

// SetTestsourceStatus transitions a test source's status.
func (q *Queries) SetTestsourceStatus(ctx context.Context, id uuid.UUID, status string) error {
	const query = `UPDATE project_testsources SET status = $2, status_ts = transaction_timestamp() WHERE testsource_id = $1`
	_, err := q.db.Exec(ctx, query, id, status)
	return err
}

// UnbindAPKFromTestsources clears apk_id on every test source bound to apkID
// (spec.md §4.2 apk_delete: a deleted APK can no longer back a compile run).
func (q *Queries) UnbindAPKFromTestsources(ctx context.Context, apkID uuid.UUID) error {
	const query = `UPDATE project_testsources SET apk_id = NULL WHERE apk_id = $1`
	_, err := q.db.Exec(ctx, query, apkID)
	return err
}

// IsTestsourceDeleted implements the obsolescence predicate for the test-source entity.
func (q *Queries) IsTestsourceDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT status = 'DELETED' FROM project_testsources WHERE testsource_id = $1`
	var deleted bool
	err := q.db.QueryRow(ctx, query, id).Scan(&deleted)
	return deleted, err
}
