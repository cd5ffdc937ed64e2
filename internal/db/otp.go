package db

import (
	"context"

	"github.com/google/uuid"
)

// CreateAVMOTP inserts the AVM-OTP row created atomically with the AVM
// (invariant in spec.md §3/§8: "every AVM row has exactly one AVM-OTP row").
func (q *Queries) CreateAVMOTP(ctx context.Context, avmID uuid.UUID, vncSecret string) error {
	const query = `INSERT INTO avm_otps (avm_id, vnc_secret) VALUES ($1, $2)`
	_, err := q.db.Exec(ctx, query, avmID, vncSecret)
	return err
}

// GetAVMOTP fetches the VNC secret for an AVM.
func (q *Queries) GetAVMOTP(ctx context.Context, avmID uuid.UUID) (AVMOTP, error) {
	const query = `SELECT avm_id, vnc_secret FROM avm_otps WHERE avm_id = $1`
	var o AVMOTP
	err := q.db.QueryRow(ctx, query, avmID).Scan(&o.AVMID, &o.VNCSecret)
	return o, err
}
