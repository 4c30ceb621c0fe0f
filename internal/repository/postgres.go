package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

//go:embed schema.sql
var Schema string

// DB is satisfied by *pgxpool.Pool and pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Open creates and pings a pgx pool.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "medical-document-processor"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Connected to database", logger.Int("max_conns", int(pc.MaxConns)))
	return pool, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type PostgresGateway struct {
	db     DB
	logger logger.Logger
}

func NewPostgresGateway(db DB, log logger.Logger) *PostgresGateway {
	return &PostgresGateway{db: db, logger: log.Named("postgres")}
}

const (
	documentExistsSQL = `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`

	createDocumentSQL = `INSERT INTO documents (id, tenant, object_key, status, sha256)
VALUES ($1, $2, $3, 'RECEIVED', $4)
ON CONFLICT (id) DO NOTHING`

	updateStatusSQL = `UPDATE documents
SET status = $1,
    error_message = $2,
    pages = $3,
    processing_time_seconds = $4,
    model_version = COALESCE($5, model_version),
    updated_at = now()
WHERE id = $6`

	deleteFieldsSQL = `DELETE FROM document_fields WHERE document_id = $1`

	insertFieldSQL = `INSERT INTO document_fields
(document_id, field_name, field_value, confidence, page, bbox)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)`

	getDocumentSQL = `SELECT id, tenant, object_key, sha256, status, error_message, pages,
       processing_time_seconds, model_version, created_at, updated_at
FROM documents WHERE id = $1`

	listFieldsSQL = `SELECT field_name, field_value, confidence, page, bbox
FROM document_fields WHERE document_id = $1
ORDER BY page NULLS LAST, id`
)

func (g *PostgresGateway) DocumentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := g.db.QueryRow(ctx, documentExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return exists, nil
}

func (g *PostgresGateway) CreateDocument(ctx context.Context, d models.DocumentDescriptor) (CreateResult, error) {
	tag, err := g.db.Exec(ctx, createDocumentSQL, d.DocumentID, d.Tenant, d.StorageKey, d.ContentHash)
	if err != nil {
		return Created, fmt.Errorf("failed to create document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func (g *PostgresGateway) UpdateStatus(ctx context.Context, id string, u models.StatusUpdate) error {
	tag, err := g.db.Exec(ctx, updateStatusSQL,
		string(u.Status), u.ErrorMessage, u.Pages, u.ProcessingTimeSeconds, u.ModelVersion, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	g.logger.Debug("Status updated",
		logger.String("document_id", id),
		logger.String("status", string(u.Status)),
	)
	return nil
}

func (g *PostgresGateway) SaveFields(ctx context.Context, id string, fields []models.ExtractedField) error {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := replaceFields(ctx, tx, id, fields); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			g.logger.Warn("Rollback failed", logger.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit fields: %w", err)
	}

	g.logger.Info("Fields saved",
		logger.String("document_id", id),
		logger.Int("count", len(fields)),
	)
	return nil
}

func replaceFields(ctx context.Context, tx pgx.Tx, id string, fields []models.ExtractedField) error {
	if _, err := tx.Exec(ctx, deleteFieldsSQL, id); err != nil {
		return fmt.Errorf("failed to clear fields: %w", err)
	}
	for _, f := range fields {
		bbox, err := encodeBBox(f.BBox)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertFieldSQL, id, f.Name, f.Value, f.Confidence, f.Page, bbox); err != nil {
			return fmt.Errorf("failed to insert field %s: %w", f.Name, err)
		}
	}
	return nil
}

func encodeBBox(b *models.BoundingBox) (*string, error) {
	if b == nil {
		return nil, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bbox: %w", err)
	}
	s := string(data)
	return &s, nil
}

func (g *PostgresGateway) GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error) {
	var (
		r      models.DocumentRecord
		status string
	)
	err := g.db.QueryRow(ctx, getDocumentSQL, id).Scan(
		&r.ID, &r.Tenant, &r.ObjectKey, &r.SHA256, &status, &r.ErrorMessage, &r.Pages,
		&r.ProcessingTimeSeconds, &r.ModelVersion, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	r.Status = models.DocumentStatus(status)
	return &r, nil
}

func (g *PostgresGateway) ListFields(ctx context.Context, id string) ([]models.ExtractedField, error) {
	rows, err := g.db.Query(ctx, listFieldsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	var fields []models.ExtractedField
	for rows.Next() {
		var (
			f    models.ExtractedField
			bbox []byte
		)
		if err := rows.Scan(&f.Name, &f.Value, &f.Confidence, &f.Page, &bbox); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		if len(bbox) > 0 {
			f.BBox = &models.BoundingBox{}
			if err := json.Unmarshal(bbox, f.BBox); err != nil {
				return nil, fmt.Errorf("failed to decode bbox: %w", err)
			}
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	return fields, nil
}
