package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const commandColumns = `command_id, avm_id, ts_request, ts_begin, ts_end, command, proc_returncode, proc_stdout, proc_stderr, status, status_reason`

func scanCommand(row interface {
	Scan(dest ...any) error
}) (Command, error) {
	var c Command
	err := row.Scan(&c.CommandID, &c.AVMID, &c.TSRequest, &c.TSBegin, &c.TSEnd, &c.Command,
		&c.ProcReturnCode, &c.ProcStdout, &c.ProcStderr, &c.Status, &c.StatusReason)
	return c, err
}

// CreateCommand inserts a QUEUED command row (spec.md §7 subprocess driver
// contract: every dispatched command is recorded before it runs).
func (q *Queries) CreateCommand(ctx context.Context, commandID, avmID uuid.UUID, command string) (Command, error) {
	query := fmt.Sprintf(`
		INSERT INTO avm_commands (command_id, avm_id, command, status)
		VALUES ($1, $2, $3, 'QUEUED')
		RETURNING %s`, commandColumns)
	row := q.db.QueryRow(ctx, query, commandID, avmID, command)
	return scanCommand(row)
}

// GetCommand fetches a command by id.
func (q *Queries) GetCommand(ctx context.Context, id uuid.UUID) (Command, error) {
	query := fmt.Sprintf(`SELECT %s FROM avm_commands WHERE command_id = $1`, commandColumns)
	row := q.db.QueryRow(ctx, query, id)
	return scanCommand(row)
}

// SetCommandRunning marks a command as begun.
func (q *Queries) SetCommandRunning(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE avm_commands SET status = 'RUNNING', ts_begin = transaction_timestamp() WHERE command_id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

// SetCommandReady records a completed command's subprocess output and marks
// it READY (spec.md §7: stdout/stderr capture, CRLF-normalized, stripped).
func (q *Queries) SetCommandReady(ctx context.Context, id uuid.UUID, returnCode int32, stdout, stderr string) error {
	const query = `
		UPDATE avm_commands
		SET status = 'READY', ts_end = transaction_timestamp(),
		    proc_returncode = $2, proc_stdout = $3, proc_stderr = $4
		WHERE command_id = $1`
	_, err := q.db.Exec(ctx, query, id, returnCode, stdout, stderr)
	return err
}

// SetCommandError marks a command ERROR with a reason (spec.md §9 error projection target).
func (q *Queries) SetCommandError(ctx context.Context, id uuid.UUID, reason string) error {
	const query = `
		UPDATE avm_commands
		SET status = 'ERROR', ts_end = transaction_timestamp(), status_reason = $2
		WHERE command_id = $1`
	_, err := q.db.Exec(ctx, query, id, reason)
	return err
}
