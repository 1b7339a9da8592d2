package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// beginIdempotencyTx attempts to claim (agent_name, request_id). If it already
// exists, it returns the previously stored result_json for replay.
//
// Unexported: all callers must use RunIdempotent, which enforces the
// begin+work+complete-in-one-tx invariant. Direct usage risks leaving empty
// result_json rows on partial commits.
func beginIdempotencyTx(tx *sql.Tx, namespace, requestID, command string) (existingResultJSON string, alreadyDone bool, err error) {
	if namespace == "" {
		return "", false, errors.New("namespace is required")
	}
	if requestID == "" {
		return "", false, errors.New("request id is required")
	}
	if command == "" {
		return "", false, errors.New("idempotency command is required")
	}

	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO idempotency (agent_name, request_id, command, result_json)
		VALUES (?, ?, ?, '')
	`, namespace, requestID, command)
	if err == nil {
		return "", false, nil
	}
	if !IsUniqueConstraintErr(err) {
		return "", false, fmt.Errorf("failed to insert idempotency row: %w", err)
	}

	var existingCommand string
	var resultJSON string
	if err := tx.QueryRowContext(context.Background(), `
		SELECT command, result_json
		FROM idempotency
		WHERE agent_name = ? AND request_id = ?
	`, namespace, requestID).Scan(&existingCommand, &resultJSON); err != nil {
		return "", false, fmt.Errorf("failed to load idempotency row: %w", err)
	}
	if existingCommand != command {
		return "", false, fmt.Errorf("idempotency key collision: request_id %q already used for command %q (new: %q)", requestID, existingCommand, command)
	}
	if strings.TrimSpace(resultJSON) == "" {
		return "", false, &IdempotencyInProgressError{
			Namespace: namespace,
			RequestID: requestID,
			Command:   command,
		}
	}
	return resultJSON, true, nil
}

func completeIdempotencyTx(tx *sql.Tx, namespace, requestID, resultJSON string) error {
	if resultJSON == "" {
		return errors.New("idempotency result json must be non-empty")
	}
	res, err := tx.ExecContext(context.Background(), `
		UPDATE idempotency
		SET result_json = ?
		WHERE agent_name = ? AND request_id = ?
	`, resultJSON, namespace, requestID)
	if err != nil {
		return fmt.Errorf("failed to update idempotency row: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check idempotency rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("idempotency row not found for namespace=%q request_id=%q", namespace, requestID)
	}
	return nil
}

// RunIdempotent runs work inside a transaction guarded by the (namespace,
// requestID) idempotency key. If requestID was already completed, work is
// skipped and the previously recorded JSON result is returned unparsed.
func RunIdempotent(db *sql.DB, namespace, requestID, command string, work func(tx *sql.Tx) (resultJSON string, err error)) (string, error) {
	var result string
	err := Transact(db, func(tx *sql.Tx) error {
		existing, done, err := beginIdempotencyTx(tx, namespace, requestID, command)
		if err != nil {
			return err
		}
		if done {
			result = existing
			return nil
		}
		resultJSON, err := work(tx)
		if err != nil {
			return err
		}
		if err := completeIdempotencyTx(tx, namespace, requestID, resultJSON); err != nil {
			return err
		}
		result = resultJSON
		return nil
	})
	return result, err
}
