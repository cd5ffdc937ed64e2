package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const campaignColumns = `campaign_id, project_id, campaign_name, status, status_ts`

func scanCampaign(row interface {
	Scan(dest ...any) error
}) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.CampaignID, &c.ProjectID, &c.CampaignName, &c.Status, &c.StatusTS)
	return c, err
}

// CreateCampaign inserts a campaign row in the QUEUED state.
func (q *Queries) CreateCampaign(ctx context.Context, id, projectID uuid.UUID, name string) (Campaign, error) {
	query := fmt.Sprintf(`
		INSERT INTO campaigns (campaign_id, project_id, campaign_name, status)
		VALUES ($1, $2, $3, 'QUEUED')
		RETURNING %s`, campaignColumns)
	row := q.db.QueryRow(ctx, query, id, projectID, name)
	return scanCampaign(row)
}

// GetCampaign fetches a campaign by id.
func (q *Queries) GetCampaign(ctx context.Context, id uuid.UUID) (Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE campaign_id = $1`, campaignColumns)
	row := q.db.QueryRow(ctx, query, id)
	return scanCampaign(row)
}

// SetCampaignStatus transitions a campaign's status.
func (q *Queries) SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error {
	const query = `UPDATE campaigns SET status = $2, status_ts = transaction_timestamp() WHERE campaign_id = $1`
	_, err := q.db.Exec(ctx, query, id, status)
	return err
}

const testrunColumns = `testrun_id, campaign_id, image, hwconfig, avm_id`

func (q *Queries) scanTestrun(row interface {
	Scan(dest ...any) error
}) (Testrun, error) {
	var t Testrun
	var hwRaw []byte
	err := row.Scan(&t.TestrunID, &t.CampaignID, &t.Image, &hwRaw, &t.AVMID)
	if err != nil {
		return Testrun{}, err
	}
	t.HWConfig, err = unmarshalHWConfig(hwRaw)
	return t, err
}

// CreateTestrun inserts a testrun row expanding one (image, hwconfig) leg of
// a campaign (spec.md §4.5 campaign_run: one Testrun per image).
func (q *Queries) CreateTestrun(ctx context.Context, id, campaignID uuid.UUID, image string, hw HWConfig) (Testrun, error) {
	hwRaw, err := marshalHWConfig(hw)
	if err != nil {
		return Testrun{}, fmt.Errorf("marshalling hwconfig: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO testruns (testrun_id, campaign_id, image, hwconfig)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, testrunColumns)
	row := q.db.QueryRow(ctx, query, id, campaignID, image, hwRaw)
	return q.scanTestrun(row)
}

// GetTestrun fetches a testrun by id.
func (q *Queries) GetTestrun(ctx context.Context, id uuid.UUID) (Testrun, error) {
	query := fmt.Sprintf(`SELECT %s FROM testruns WHERE testrun_id = $1`, testrunColumns)
	row := q.db.QueryRow(ctx, query, id)
	return q.scanTestrun(row)
}

// ListTestrunsForCampaign lists every testrun belonging to a campaign.
func (q *Queries) ListTestrunsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]Testrun, error) {
	query := fmt.Sprintf(`SELECT %s FROM testruns WHERE campaign_id = $1`, testrunColumns)
	rows, err := q.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing testruns: %w", err)
	}
	defer rows.Close()

	var out []Testrun
	for rows.Next() {
		t, err := q.scanTestrun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning testrun: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTestrunAVM binds the ephemeral AVM spawned for a testrun
// (spec.md §4.5 campaign_avm_create).
func (q *Queries) SetTestrunAVM(ctx context.Context, id, avmID uuid.UUID) error {
	const query = `UPDATE testruns SET avm_id = $2 WHERE testrun_id = $1`
	_, err := q.db.Exec(ctx, query, id, avmID)
	return err
}

// AddTestrunAPK registers one APK to install on a testrun, in install_order.
func (q *Queries) AddTestrunAPK(ctx context.Context, testrunID, apkID uuid.UUID, installOrder int32) error {
	const query = `
		INSERT INTO testrun_apks (testrun_id, apk_id, install_order)
		VALUES ($1, $2, $3)`
	_, err := q.db.Exec(ctx, query, testrunID, apkID, installOrder)
	return err
}

// ListTestrunAPKs lists a testrun's APKs ordered by install_order.
func (q *Queries) ListTestrunAPKs(ctx context.Context, testrunID uuid.UUID) ([]TestrunAPK, error) {
	const query = `
		SELECT testrun_id, apk_id, install_order, command_id FROM testrun_apks
		WHERE testrun_id = $1 ORDER BY install_order`
	rows, err := q.db.Query(ctx, query, testrunID)
	if err != nil {
		return nil, fmt.Errorf("listing testrun apks: %w", err)
	}
	defer rows.Close()

	var out []TestrunAPK
	for rows.Next() {
		var t TestrunAPK
		if err := rows.Scan(&t.TestrunID, &t.APKID, &t.InstallOrder, &t.CommandID); err != nil {
			return nil, fmt.Errorf("scanning testrun apk: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTestrunAPKCommand binds the install command_id for one testrun/APK pair.
// Per spec.md §5 idempotence discipline, this is a status-gated update: once
// set, a command_id is never overwritten by a redelivered task.
func (q *Queries) SetTestrunAPKCommand(ctx context.Context, testrunID, apkID, commandID uuid.UUID) error {
	const query = `
		UPDATE testrun_apks SET command_id = $3
		WHERE testrun_id = $1 AND apk_id = $2 AND command_id IS NULL`
	_, err := q.db.Exec(ctx, query, testrunID, apkID, commandID)
	return err
}

// AddTestrunPackage registers one instrumentation package discovered on a
// testrun's AVM (spec.md §4.5: `pm list instrumentation` parsing, excluding
// the Android sample instrumentation package).
func (q *Queries) AddTestrunPackage(ctx context.Context, testrunID uuid.UUID, pkg string) error {
	const query = `
		INSERT INTO testrun_packages (testrun_id, package)
		VALUES ($1, $2)
		ON CONFLICT (testrun_id, package) DO NOTHING`
	_, err := q.db.Exec(ctx, query, testrunID, pkg)
	return err
}

// ListTestrunPackages lists a testrun's discovered instrumentation packages.
func (q *Queries) ListTestrunPackages(ctx context.Context, testrunID uuid.UUID) ([]TestrunPackage, error) {
	const query = `SELECT testrun_id, package, command_id FROM testrun_packages WHERE testrun_id = $1 ORDER BY package`
	rows, err := q.db.Query(ctx, query, testrunID)
	if err != nil {
		return nil, fmt.Errorf("listing testrun packages: %w", err)
	}
	defer rows.Close()

	var out []TestrunPackage
	for rows.Next() {
		var t TestrunPackage
		if err := rows.Scan(&t.TestrunID, &t.Package, &t.CommandID); err != nil {
			return nil, fmt.Errorf("scanning testrun package: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTestrunPackageCommand binds the run command_id for one testrun/package pair.
func (q *Queries) SetTestrunPackageCommand(ctx context.Context, testrunID uuid.UUID, pkg string, commandID uuid.UUID) error {
	const query = `
		UPDATE testrun_packages SET command_id = $3
		WHERE testrun_id = $1 AND package = $2 AND command_id IS NULL`
	_, err := q.db.Exec(ctx, query, testrunID, pkg, commandID)
	return err
}

// CampaignProgress computes the rollup defined in spec.md §4.5:
// count(Commands with status='READY') / count(Commands total), where a
// testrun_apks/testrun_packages row with no bound command_id yet counts as
// QUEUED rather than being excluded.
func (q *Queries) CampaignProgress(ctx context.Context, campaignID uuid.UUID) (ready, total int, err error) {
	const query = `
		WITH rows AS (
			SELECT ta.command_id FROM testrun_apks ta
			JOIN testruns t ON t.testrun_id = ta.testrun_id
			WHERE t.campaign_id = $1
			UNION ALL
			SELECT tp.command_id FROM testrun_packages tp
			JOIN testruns t ON t.testrun_id = tp.testrun_id
			WHERE t.campaign_id = $1
		)
		SELECT
			count(*) FILTER (WHERE c.status = 'READY'),
			count(*)
		FROM rows
		LEFT JOIN avm_commands c ON c.command_id = rows.command_id`
	err = q.db.QueryRow(ctx, query, campaignID).Scan(&ready, &total)
	return ready, total, err
}

// IsCampaignDeleted implements the obsolescence predicate for the campaign entity.
func (q *Queries) IsCampaignDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT status = 'DELETED' FROM campaigns WHERE campaign_id = $1`
	var deleted bool
	err := q.db.QueryRow(ctx, query, id).Scan(&deleted)
	return deleted, err
}
