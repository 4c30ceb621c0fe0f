//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

func TestPostgresGatewayIntegration(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("medscribe"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Open(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 4}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool))

	g := NewPostgresGateway(pool, logger.NewNop())
	d := models.DocumentDescriptor{
		DocumentID:  docID,
		Tenant:      "clinic-a",
		StorageKey:  "clinic-a/doc.pdf",
		ContentHash: "0000000000000000000000000000000000000000000000000000000000000000",
	}

	res, err := g.CreateDocument(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, Created, res)
	res, err = g.CreateDocument(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res)

	fields := []models.ExtractedField{
		{Name: "cpf", Value: ptr("123.456.789-01"), Confidence: ptr(0.9), Page: ptr(1),
			BBox: &models.BoundingBox{X: 10, Y: 20, W: 30, H: 40}},
		{Name: "date", Value: ptr("01/02/2024"), Confidence: ptr(0.9), Page: ptr(2)},
	}
	require.NoError(t, g.SaveFields(ctx, docID, fields))
	require.NoError(t, g.SaveFields(ctx, docID, fields))

	got, err := g.ListFields(ctx, docID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, fields[0].BBox, got[0].BBox)

	require.NoError(t, g.UpdateStatus(ctx, docID, models.StatusUpdate{
		Status:                models.StatusDone,
		Pages:                 ptr(2),
		ProcessingTimeSeconds: ptr(0.4),
		ModelVersion:          ptr("1.0.0"),
	}))
	r, err := g.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, r.Status)
	assert.Equal(t, 2, *r.Pages)
}
