package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

const docID = "6f1c2d3e-4b5a-4c6d-8e7f-901a2b3c4d5e"

func ptr[T any](v T) *T { return &v }

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *PostgresGateway) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresGateway(mock, logger.NewNop())
}

func TestPostgresDocumentExists(t *testing.T) {
	mock, g := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := g.DocumentExists(context.Background(), docID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDocument(t *testing.T) {
	d := models.DocumentDescriptor{
		DocumentID:  docID,
		Tenant:      "clinic-a",
		StorageKey:  "clinic-a/doc.pdf",
		ContentHash: "abc",
	}

	tests := []struct {
		name     string
		affected int64
		want     CreateResult
	}{
		{"fresh insert", 1, Created},
		{"conflict", 0, AlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, g := newMock(t)
			mock.ExpectExec(`INSERT INTO documents`).
				WithArgs(docID, "clinic-a", "clinic-a/doc.pdf", "abc").
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			got, err := g.CreateDocument(context.Background(), d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresCreateDocumentError(t *testing.T) {
	mock, g := newMock(t)
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	_, err := g.CreateDocument(context.Background(), models.DocumentDescriptor{DocumentID: docID})
	assert.ErrorContains(t, err, "connection refused")
}

func TestPostgresUpdateStatus(t *testing.T) {
	mock, g := newMock(t)
	mock.ExpectExec(`UPDATE documents`).
		WithArgs("DONE", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), docID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE documents`).
		WithArgs("FAILED", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := g.UpdateStatus(context.Background(), docID, models.StatusUpdate{
		Status:                models.StatusDone,
		Pages:                 ptr(2),
		ProcessingTimeSeconds: ptr(1.5),
		ModelVersion:          ptr("1.0.0"),
	})
	require.NoError(t, err)

	err = g.UpdateStatus(context.Background(), "missing", models.StatusUpdate{Status: models.StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveFieldsReplacesInTransaction(t *testing.T) {
	mock, g := newMock(t)
	fields := []models.ExtractedField{
		{Name: "cpf", Value: ptr("123.456.789-01"), Confidence: ptr(0.9), Page: ptr(1)},
		{Name: "crm", Value: ptr("CRM 12345 SP"), Confidence: ptr(0.9), Page: ptr(1),
			BBox: &models.BoundingBox{X: 1, Y: 2, W: 3, H: 4}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM document_fields`).
		WithArgs(docID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO document_fields`).
		WithArgs(docID, "cpf", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO document_fields`).
		WithArgs(docID, "crm", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, g.SaveFields(context.Background(), docID, fields))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveFieldsRollsBack(t *testing.T) {
	mock, g := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM document_fields`).
		WithArgs(docID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO document_fields`).
		WithArgs(docID, "cpf", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("check constraint"))
	mock.ExpectRollback()

	err := g.SaveFields(context.Background(), docID, []models.ExtractedField{
		{Name: "cpf", Value: ptr("123.456.789-01")},
	})
	assert.ErrorContains(t, err, "failed to insert field cpf")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDocument(t *testing.T) {
	mock, g := newMock(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, tenant`).
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant", "object_key", "sha256", "status", "error_message", "pages",
			"processing_time_seconds", "model_version", "created_at", "updated_at",
		}).AddRow(docID, "clinic-a", "k", "abc", "DONE", (*string)(nil), ptr(3),
			ptr(2.5), ptr("1.0.0"), now, now))

	r, err := g.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, r.Status)
	assert.Nil(t, r.ErrorMessage)
	require.NotNil(t, r.Pages)
	assert.Equal(t, 3, *r.Pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDocumentNotFound(t *testing.T) {
	mock, g := newMock(t)
	mock.ExpectQuery(`SELECT id, tenant`).
		WithArgs(docID).
		WillReturnError(pgx.ErrNoRows)

	_, err := g.GetDocument(context.Background(), docID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListFields(t *testing.T) {
	mock, g := newMock(t)
	mock.ExpectQuery(`SELECT field_name`).
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows([]string{"field_name", "field_value", "confidence", "page", "bbox"}).
			AddRow("cpf", ptr("123.456.789-01"), ptr(0.9), ptr(1), []byte(`{"x":1,"y":2,"w":3,"h":4}`)).
			AddRow("date", ptr("01/02/2024"), ptr(0.9), ptr(2), []byte(nil)))

	fields, err := g.ListFields(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, &models.BoundingBox{X: 1, Y: 2, W: 3, H: 4}, fields[0].BBox)
	assert.Nil(t, fields[1].BBox)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	mock, _ := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
