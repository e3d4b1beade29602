package job

import (
	"context"
	"database/sql"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	DeleteByDocument(ctx context.Context, engine string, documentID int) (bool, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save inserts a failed sync, or updates the existing one for the same document.
func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO failed_syncs (dms_engine, document_id, error) VALUES ($1, $2, $3)
		ON CONFLICT (dms_engine, document_id)
		DO UPDATE SET error = EXCLUDED.error, retries = failed_syncs.retries + 1, updated_at = NOW()
		RETURNING id, retries, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, job.Engine, job.DocumentID, job.Error).
		Scan(&job.ID, &job.Retries, &job.CreatedAt, &job.UpdatedAt)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Job, error) {
	query := `SELECT id, dms_engine, document_id, error, retries, created_at, updated_at FROM failed_syncs ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Engine, &j.DocumentID, &j.Error, &j.Retries, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	query := `SELECT id, dms_engine, document_id, error, retries, created_at, updated_at FROM failed_syncs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&j.ID, &j.Engine, &j.DocumentID, &j.Error, &j.Retries, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM failed_syncs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteByDocument removes the entry of one document, reporting whether there was one.
func (r *PostgresRepo) DeleteByDocument(ctx context.Context, engine string, documentID int) (bool, error) {
	query := `DELETE FROM failed_syncs WHERE dms_engine = $1 AND document_id = $2`
	res, err := r.db.ExecContext(ctx, query, engine, documentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_syncs`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
