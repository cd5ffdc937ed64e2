package db

import (
	"context"

	"github.com/google/uuid"
)

// OpenBilling opens a billing record for an AVM if one does not already
// exist, matching the idempotence discipline in spec.md §5 ("insert-if-absent
// on avm_id"): concurrent delivery of avm_containers_create must not open
// two billing windows for the same AVM.
func (q *Queries) OpenBilling(ctx context.Context, avmID uuid.UUID) error {
	const query = `
		INSERT INTO billing (avm_id, ts_started)
		VALUES ($1, transaction_timestamp())
		ON CONFLICT (avm_id) DO NOTHING`
	_, err := q.db.Exec(ctx, query, avmID)
	return err
}

// CloseBilling closes the billing window for an AVM on deletion, if still open.
func (q *Queries) CloseBilling(ctx context.Context, avmID uuid.UUID) error {
	const query = `
		UPDATE billing SET ts_stopped = transaction_timestamp()
		WHERE avm_id = $1 AND ts_stopped IS NULL`
	_, err := q.db.Exec(ctx, query, avmID)
	return err
}

// GetBilling fetches the billing record for an AVM.
func (q *Queries) GetBilling(ctx context.Context, avmID uuid.UUID) (Billing, error) {
	const query = `SELECT avm_id, ts_started, ts_stopped FROM billing WHERE avm_id = $1`
	var b Billing
	err := q.db.QueryRow(ctx, query, avmID).Scan(&b.AVMID, &b.TSStarted, &b.TSStopped)
	return b, err
}

// CountOpenBilling counts AVMs currently accruing billing time (ts_stopped IS NULL).
func (q *Queries) CountOpenBilling(ctx context.Context) (int, error) {
	const query = `SELECT count(*) FROM billing WHERE ts_stopped IS NULL`
	var n int
	err := q.db.QueryRow(ctx, query).Scan(&n)
	return n, err
}
