package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const cameraColumns = `camera_id, project_id, filename, status, status_ts, status_reason`

func scanCamera(row interface {
	Scan(dest ...any) error
}) (Camera, error) {
	var c Camera
	err := row.Scan(&c.CameraID, &c.ProjectID, &c.Filename, &c.Status, &c.StatusTS, &c.StatusReason)
	return c, err
}

// CreateCamera inserts a project camera-feed row.
func (q *Queries) CreateCamera(ctx context.Context, id, projectID uuid.UUID, filename string) (Camera, error) {
	query := fmt.Sprintf(`
		INSERT INTO project_camera (camera_id, project_id, filename, status)
		VALUES ($1, $2, $3, 'CREATING')
		RETURNING %s`, cameraColumns)
	row := q.db.QueryRow(ctx, query, id, projectID, filename)
	return scanCamera(row)
}

// GetCamera fetches a camera feed by id.
func (q *Queries) GetCamera(ctx context.Context, id uuid.UUID) (Camera, error) {
	query := fmt.Sprintf(`SELECT %s FROM project_camera WHERE camera_id = $1`, cameraColumns)
	row := q.db.QueryRow(ctx, query, id)
	return scanCamera(row)
}

// SetCameraStatus transitions a camera feed's status, with an optional reason
// (spec.md §9 error projection target).
func (q *Queries) SetCameraStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	const query = `
		UPDATE project_camera SET status = $2, status_ts = transaction_timestamp(), status_reason = $3
		WHERE camera_id = $1`
	_, err := q.db.Exec(ctx, query, id, status, reason)
	return err
}

// IsCameraDeleted implements the obsolescence predicate for the camera entity.
func (q *Queries) IsCameraDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT status = 'DELETED' FROM project_camera WHERE camera_id = $1`
	var deleted bool
	err := q.db.QueryRow(ctx, query, id).Scan(&deleted)
	return deleted, err
}
