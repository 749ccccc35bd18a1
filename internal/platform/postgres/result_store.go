package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/platform/logger"
	"github.com/deepfocal/taskwatch/internal/store"
)

// PostgresResultStore implements store.ResultStore on the analysis_results table.
type PostgresResultStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresResultStore creates a result store on db. If logger is nil the
// default logger is used.
func NewPostgresResultStore(db store.DBTX, log *slog.Logger) *PostgresResultStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresResultStore{
		db:     db,
		logger: log.With(slog.String("component", "result_store")),
	}
}

var _ store.ResultStore = (*PostgresResultStore)(nil)

// WithTx returns a store that runs its queries on tx.
func (s *PostgresResultStore) WithTx(tx *sql.Tx) *PostgresResultStore {
	return &PostgresResultStore{db: tx, logger: s.logger}
}

// Save upserts result keyed by subject.
func (s *PostgresResultStore) Save(ctx context.Context, result domain.TaskResult) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := store.ValidateResult(result); err != nil {
		log.Warn("result validation failed", slog.String("error", err.Error()))
		return err
	}

	var payload interface{}
	if len(result.Payload) > 0 {
		payload = []byte(result.Payload)
	}

	query := `
		INSERT INTO analysis_results (subject_key, task_id, kind, message, payload, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_key) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			kind = EXCLUDED.kind,
			message = EXCLUDED.message,
			payload = EXCLUDED.payload,
			completed_at = EXCLUDED.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		result.SubjectKey,
		result.TaskID,
		string(result.Kind),
		result.Message,
		payload,
		result.CompletedAt,
	)
	if err != nil {
		log.Error("failed to save analysis result",
			slog.String("error", err.Error()),
			slog.String("subject_key", result.SubjectKey),
			slog.String("task_id", result.TaskID))
		return store.NewStoreError("analysis_result", "save", "upsert failed", MapError(err))
	}

	log.Debug("analysis result saved",
		slog.String("subject_key", result.SubjectKey),
		slog.String("task_id", result.TaskID))
	return nil
}

// Get returns the result for subjectKey or store.ErrResultNotFound.
func (s *PostgresResultStore) Get(ctx context.Context, subjectKey string) (*domain.TaskResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT subject_key, task_id, kind, message, payload, completed_at
		FROM analysis_results
		WHERE subject_key = $1
	`

	var (
		result  domain.TaskResult
		kind    string
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, query, subjectKey).Scan(
		&result.SubjectKey,
		&result.TaskID,
		&kind,
		&result.Message,
		&payload,
		&result.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrResultNotFound
		}
		log.Error("failed to get analysis result",
			slog.String("error", err.Error()),
			slog.String("subject_key", subjectKey))
		return nil, store.NewStoreError("analysis_result", "get", "query failed", MapError(err))
	}

	result.Kind = domain.Kind(kind)
	result.Payload = payload
	result.CompletedAt = result.CompletedAt.UTC()
	return &result, nil
}

// Delete removes the result for subjectKey. A missing row is not an error.
func (s *PostgresResultStore) Delete(ctx context.Context, subjectKey string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE subject_key = $1`, subjectKey)
	if err != nil {
		log.Error("failed to delete analysis result",
			slog.String("error", err.Error()),
			slog.String("subject_key", subjectKey))
		return store.NewStoreError("analysis_result", "delete", "delete failed", MapError(err))
	}

	if n, err := res.RowsAffected(); err == nil {
		log.Debug("analysis result deleted",
			slog.String("subject_key", subjectKey),
			slog.Int64("rows", n))
	}
	return nil
}
