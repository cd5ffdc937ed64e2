package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const apkColumns = `apk_id, project_id, filename, package, status, status_ts, status_reason`

func scanAPK(row interface {
	Scan(dest ...any) error
}) (APK, error) {
	var a APK
	err := row.Scan(&a.APKID, &a.ProjectID, &a.Filename, &a.Package, &a.Status, &a.StatusTS, &a.StatusReason)
	return a, err
}

// CreateAPK inserts a project APK row in the CREATING state.
func (q *Queries) CreateAPK(ctx context.Context, id, projectID uuid.UUID, filename string) (APK, error) {
	query := fmt.Sprintf(`
		INSERT INTO project_apks (apk_id, project_id, filename, status)
		VALUES ($1, $2, $3, 'CREATING')
		RETURNING %s`, apkColumns)
	row := q.db.QueryRow(ctx, query, id, projectID, filename)
	return scanAPK(row)
}

// GetAPK fetches an APK by id.
func (q *Queries) GetAPK(ctx context.Context, id uuid.UUID) (APK, error) {
	query := fmt.Sprintf(`SELECT %s FROM project_apks WHERE apk_id = $1`, apkColumns)
	row := q.db.QueryRow(ctx, query, id)
	return scanAPK(row)
}

// ListAPKsForProject lists non-DELETED APKs for a project.
func (q *Queries) ListAPKsForProject(ctx context.Context, projectID uuid.UUID) ([]APK, error) {
	query := fmt.Sprintf(`SELECT %s FROM project_apks WHERE project_id = $1 AND status <> 'DELETED' ORDER BY filename`, apkColumns)
	rows, err := q.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing apks: %w", err)
	}
	defer rows.Close()

	var out []APK
	for rows.Next() {
		a, err := scanAPK(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning apk: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAPKPackage records the package name parsed from the APK manifest
// (spec.md §4.2 apk_create: aapt-equivalent package extraction).
func (q *Queries) SetAPKPackage(ctx context.Context, id uuid.UUID, pkg string) error {
	const query = `UPDATE project_apks SET package = $2 WHERE apk_id = $1`
	_, err := q.db.Exec(ctx, query, id, pkg)
	return err
}

// SetAPKStatus transitions an APK's status.
func (q *Queries) SetAPKStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	const query = `
		UPDATE project_apks SET status = $2, status_ts = transaction_timestamp(), status_reason = $3
		WHERE apk_id = $1`
	_, err := q.db.Exec(ctx, query, id, status, reason)
	return err
}

// IsAPKDeleted implements the obsolescence predicate for the APK entity
// (spec.md §9's error-projection priority: apk_id precedes camera_id, avm_id, project_id).
func (q *Queries) IsAPKDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT status = 'DELETED' FROM project_apks WHERE apk_id = $1`
	var deleted bool
	err := q.db.QueryRow(ctx, query, id).Scan(&deleted)
	return deleted, err
}
