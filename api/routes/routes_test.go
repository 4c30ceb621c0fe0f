package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/medical-document-processor/api/handlers"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
)

const docID = "0b6f7a52-4d0c-4f7e-9c59-3a1e2b8d9f10"

type cachedStatus map[string]*queue.TaskStatus

func (c cachedStatus) GetTaskStatus(_ context.Context, id string) (*queue.TaskStatus, error) {
	if s, ok := c[id]; ok {
		return s, nil
	}
	return nil, queue.ErrStatusNotFound
}

func setup(t *testing.T, checks map[string]handlers.Check) (*gin.Engine, *repository.MemoryGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := repository.NewMemoryGateway()
	ctx := context.Background()
	_, err := gw.CreateDocument(ctx, models.DocumentDescriptor{
		DocumentID: docID,
		Tenant:     "clinic-a",
		StorageKey: "clinic-a/scan.pdf",
	})
	require.NoError(t, err)

	name := "Maria Silva"
	conf := 0.93
	pg := 1
	require.NoError(t, gw.SaveFields(ctx, docID, []models.ExtractedField{
		{Name: "patient_name", Value: &name, Confidence: &conf, Page: &pg},
	}))
	pages := 1
	require.NoError(t, gw.UpdateStatus(ctx, docID, models.StatusUpdate{Status: models.StatusDone, Pages: &pages}))

	status := cachedStatus{docID: {DocumentID: docID, Status: "DONE", Attempt: 1}}
	r := gin.New()
	SetupRoutes(r, handlers.NewHandlers(gw, status, checks, logger.NewNop()), []string{"https://ops.example.com"})
	return r, gw
}

func get(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetDocument(t *testing.T) {
	r, _ := setup(t, nil)

	w := get(r, "/api/v1/documents/"+docID)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Document models.DocumentRecord  `json:"document"`
		Fields   []models.ExtractedField `json:"fields"`
		Task     *queue.TaskStatus       `json:"task"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.StatusDone, body.Document.Status)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "patient_name", body.Fields[0].Name)
	require.NotNil(t, body.Task)
	assert.Equal(t, 1, body.Task.Attempt)
}

func TestGetDocumentErrors(t *testing.T) {
	r, _ := setup(t, nil)

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/documents/nope").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/v1/documents/7c9e6679-7425-40de-944b-e07fc1f90ae7").Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	r, _ := setup(t, nil)

	w := get(r, "/api/v1/documents/"+docID, "Origin", "https://ops.example.com")
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(r, "/api/v1/documents/"+docID, "Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthz(t *testing.T) {
	r, _ := setup(t, map[string]handlers.Check{
		"postgres": func(context.Context) error { return nil },
	})
	w := get(r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, w.Body.String())

	r, _ = setup(t, map[string]handlers.Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	w = get(r, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsRoute(t *testing.T) {
	r, _ := setup(t, nil)
	w := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
