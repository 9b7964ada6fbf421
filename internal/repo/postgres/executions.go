package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/repo"
)

type ExecutionStore struct {
	db DB
}

const (
	selectExecutionQuery = `SELECT id, sequence_id, member_id, step_index, step_type, effective_type, status, retry_count, error_message, metadata, executed_at, completed_at, updated_at
	 FROM sequence_executions
	 WHERE id = $1`

	claimExecutionQuery = `UPDATE sequence_executions
	 SET status = 'processing', effective_type = $2, executed_at = $3, updated_at = $3
	 WHERE id = $1 AND status = ANY($4::text[])`

	recordFailureQuery = `UPDATE sequence_executions
	 SET status = $2::text,
		retry_count = $3,
		error_message = $4,
		completed_at = CASE WHEN $2::text = 'failed' THEN $5 ELSE completed_at END,
		updated_at = $5
	 WHERE id = $1 AND status = 'processing'`
)

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	if s == nil || s.db == nil {
		return domain.Execution{}, fmt.Errorf("execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Execution{}, fmt.Errorf("execution id is required")
	}
	exec, err := scanExecution(s.db.QueryRowContext(ctx, selectExecutionQuery, id))
	if err != nil {
		return domain.Execution{}, classify(err, "get execution")
	}
	return exec, nil
}

func (s *ExecutionStore) ClaimExecution(ctx context.Context, id string, effective domain.StepType, from []domain.ExecutionStatus, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("execution store not initialized")
	}
	if len(from) == 0 {
		return false, fmt.Errorf("claim requires at least one source status")
	}
	statuses := make([]string, 0, len(from))
	for _, status := range from {
		statuses = append(statuses, string(status))
	}
	res, err := s.db.ExecContext(ctx, claimExecutionQuery, id, nullIfEmpty(string(effective)), normalizeTime(at), statuses)
	if err != nil {
		return false, classify(err, "claim execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err, "claim execution")
	}
	return n == 1, nil
}

func (s *ExecutionStore) UpdateExecution(ctx context.Context, id string, update repo.ExecutionUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	query, args, err := buildUpdate(id, update)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err, "update execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "update execution")
	}
	if n == 0 {
		if update.From != "" {
			return classify(repo.ErrConflict, "update execution")
		}
		return classify(repo.ErrNotFound, "update execution")
	}
	return nil
}

func (s *ExecutionStore) RecordFailure(ctx context.Context, id string, update repo.FailureUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if update.Status != domain.ExecutionPending && update.Status != domain.ExecutionFailed {
		return fmt.Errorf("failure status must be pending or failed (got %q)", update.Status)
	}
	if update.RetryCount < 0 {
		return fmt.Errorf("retry count must be >= 0")
	}
	res, err := s.db.ExecContext(
		ctx,
		recordFailureQuery,
		id,
		string(update.Status),
		update.RetryCount,
		nullIfEmpty(update.ErrorMessage),
		normalizeTime(update.At),
	)
	if err != nil {
		return classify(err, "record failure")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "record failure")
	}
	if n == 0 {
		return classify(repo.ErrConflict, "record failure")
	}
	return nil
}

// buildUpdate renders a single-statement partial update. updated_at is
// always touched; metadata patches merge into the stored object.
func buildUpdate(id string, update repo.ExecutionUpdate) (string, []any, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", nil, fmt.Errorf("execution id is required")
	}
	args := []any{id, normalizeTime(update.At)}
	sets := []string{"updated_at = $2"}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != "" {
		sets = append(sets, "status = "+next(string(update.Status)))
	}
	if len(update.MetadataPatch) > 0 {
		patch, err := encodeMetadata(update.MetadataPatch)
		if err != nil {
			return "", nil, fmt.Errorf("encode metadata patch: %w", err)
		}
		sets = append(sets, "metadata = COALESCE(metadata, '{}'::jsonb) || "+next(patch)+"::jsonb")
	}
	if update.ClearError {
		sets = append(sets, "error_message = NULL")
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = "+next(update.CompletedAt.UTC()))
	}

	query := "UPDATE sequence_executions SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	if update.From != "" {
		query += " AND status = " + next(string(update.From))
	}
	return query, args, nil
}

type executionScanner interface {
	Scan(dest ...any) error
}

func scanExecution(scanner executionScanner) (domain.Execution, error) {
	var exec domain.Execution
	var stepType, status string
	var effectiveType sql.NullString
	var errorMessage sql.NullString
	var metadata []byte
	var executedAt, completedAt sql.NullTime
	if err := scanner.Scan(
		&exec.ID,
		&exec.SequenceID,
		&exec.MemberID,
		&exec.StepIndex,
		&stepType,
		&effectiveType,
		&status,
		&exec.RetryCount,
		&errorMessage,
		&metadata,
		&executedAt,
		&completedAt,
		&exec.UpdatedAt,
	); err != nil {
		return domain.Execution{}, handleNotFound(err)
	}
	exec.StepType = domain.NormalizeStepType(stepType)
	exec.EffectiveType = domain.NormalizeStepType(effectiveType.String)
	exec.Status = domain.NormalizeExecutionStatus(status)
	if exec.Status == "" {
		return domain.Execution{}, fmt.Errorf("execution %s has unknown status %q", exec.ID, status)
	}
	exec.ErrorMessage = strings.TrimSpace(errorMessage.String)
	meta, err := decodeMetadata(metadata)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("decode execution metadata: %w", err)
	}
	exec.Metadata = meta
	if executedAt.Valid {
		t := executedAt.Time.UTC()
		exec.ExecutedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		exec.CompletedAt = &t
	}
	exec.UpdatedAt = exec.UpdatedAt.UTC()
	return exec, nil
}

var _ repo.ExecutionRepository = (*ExecutionStore)(nil)
