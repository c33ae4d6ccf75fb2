package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartBody(t *testing.T, filename, contents string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(contents))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestUploadRejectsNonCSV(t *testing.T) {
	h, _, _ := setupHandlers(t)
	router := SetupRoutes(h)

	body, contentType := multipartBody(t, "products.txt", "sku,name\nSKU-1,Widget\n")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid file type")
}

func TestUploadRequiresFileField(t *testing.T) {
	h, _, _ := setupHandlers(t)
	router := SetupRoutes(h)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsInvalidCSVBeforeCreatingJob(t *testing.T) {
	h, mock, _ := setupHandlers(t)
	router := SetupRoutes(h)

	// Missing the required name header: validation fails and no job row is
	// ever inserted (no sqlmock expectations registered).
	body, contentType := multipartBody(t, "products.csv", "sku,description\nSKU-1,thing\n")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CSV validation failed", resp["message"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadAcceptsValidCSV(t *testing.T) {
	h, mock, _ := setupHandlers(t)
	router := SetupRoutes(h)

	jobID := uuid.New()
	mock.ExpectQuery("INSERT INTO import_jobs").
		WithArgs(sqlmock.AnyArg(), "products.csv", "ingest", "queued", int64(2)).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(jobID.String(), "products.csv", "ingest", "queued", int64(2), int64(0), nil,
				time.Now().UTC(), time.Now().UTC()))

	body, contentType := multipartBody(t, "products.csv", "sku,name\nSKU-1,Widget\nSKU-2,Gadget\n")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID.String(), resp["job_id"])
	assert.Equal(t, "/api/progress/"+jobID.String(), resp["sse_url"])
	assert.Contains(t, resp["message"], "2 rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}
