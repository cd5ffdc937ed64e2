package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateProjectParams carries the fields needed to insert a Project row.
type CreateProjectParams struct {
	ProjectID   uuid.UUID
	ProjectName string
	UIDOwner    string
}

// CreateProject inserts a Project in the CREATING state.
func (q *Queries) CreateProject(ctx context.Context, p CreateProjectParams) (Project, error) {
	const query = `
		INSERT INTO projects (project_id, project_name, uid_owner, status)
		VALUES ($1, $2, $3, 'CREATING')
		RETURNING project_id, project_name, uid_owner, status, status_ts, status_reason`
	var row Project
	err := q.db.QueryRow(ctx, query, p.ProjectID, p.ProjectName, p.UIDOwner).Scan(
		&row.ProjectID, &row.ProjectName, &row.UIDOwner, &row.Status, &row.StatusTS, &row.StatusReason)
	if err != nil {
		return Project{}, fmt.Errorf("inserting project: %w", err)
	}
	return row, nil
}

// GetProjectVisible fetches a Project by id, gated by the "projects visible
// to user" permission predicate (spec.md §3): the project is owned by
// userid, or explicitly shared with it.
func (q *Queries) GetProjectVisible(ctx context.Context, id uuid.UUID, userid string) (Project, error) {
	const query = `
		SELECT p.project_id, p.project_name, p.uid_owner, p.status, p.status_ts, p.status_reason
		FROM projects p
		WHERE p.project_id = $1
		  AND p.status <> 'DELETED'
		  AND (p.uid_owner = $2 OR EXISTS (
		        SELECT 1 FROM project_shares s WHERE s.project_id = p.project_id AND s.uid_user = $2))`
	var row Project
	err := q.db.QueryRow(ctx, query, id, userid).Scan(
		&row.ProjectID, &row.ProjectName, &row.UIDOwner, &row.Status, &row.StatusTS, &row.StatusReason)
	if err != nil {
		return Project{}, err
	}
	return row, nil
}

// ListProjectsVisible lists non-DELETED projects visible to userid.
func (q *Queries) ListProjectsVisible(ctx context.Context, userid string) ([]Project, error) {
	const query = `
		SELECT p.project_id, p.project_name, p.uid_owner, p.status, p.status_ts, p.status_reason
		FROM projects p
		WHERE p.status <> 'DELETED'
		  AND (p.uid_owner = $1 OR EXISTS (
		        SELECT 1 FROM project_shares s WHERE s.project_id = p.project_id AND s.uid_user = $1))
		ORDER BY p.status_ts DESC`
	rows, err := q.db.Query(ctx, query, userid)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var row Project
		if err := rows.Scan(&row.ProjectID, &row.ProjectName, &row.UIDOwner, &row.Status, &row.StatusTS, &row.StatusReason); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetProjectStatus transitions a Project's status.
func (q *Queries) SetProjectStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	const query = `
		UPDATE projects SET status = $2, status_ts = transaction_timestamp(), status_reason = $3
		WHERE project_id = $1`
	_, err := q.db.Exec(ctx, query, id, status, reason)
	return err
}

// IsProjectDeleted implements the obsolescence predicate (spec.md §4.3 step 3).
func (q *Queries) IsProjectDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT status = 'DELETED' FROM projects WHERE project_id = $1`
	var deleted bool
	err := q.db.QueryRow(ctx, query, id).Scan(&deleted)
	return deleted, err
}

// CountLiveAVMsForProject counts AVMs belonging to a project that are not
// DELETED (used to enforce the deletion precondition in spec.md §3).
func (q *Queries) CountLiveAVMsForProject(ctx context.Context, projectID uuid.UUID) (int, error) {
	const query = `SELECT count(*) FROM avms WHERE project_id = $1 AND status <> 'DELETED'`
	var n int
	err := q.db.QueryRow(ctx, query, projectID).Scan(&n)
	return n, err
}

// CountActiveCampaignsForProject counts campaigns in QUEUED or RUNNING for a project.
func (q *Queries) CountActiveCampaignsForProject(ctx context.Context, projectID uuid.UUID) (int, error) {
	const query = `SELECT count(*) FROM campaigns WHERE project_id = $1 AND status IN ('QUEUED', 'RUNNING')`
	var n int
	err := q.db.QueryRow(ctx, query, projectID).Scan(&n)
	return n, err
}
