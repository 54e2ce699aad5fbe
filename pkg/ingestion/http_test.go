package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, opts Options, maxBody int64) (*mux.Router, *testEnv) {
	t.Helper()
	env := newTestEnv(t, NewMemoryStore(), DefaultRules(), opts)
	router := mux.NewRouter()
	NewHTTPHandler(env.svc, maxBody).Register(router.PathPrefix("/api/v1").Subrouter())
	return router, env
}

func uploadRequest(t *testing.T, filename, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/archivos/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u1")
	return req
}

func TestUploadAcceptsFile(t *testing.T) {
	router, env := newTestRouter(t, Options{}, 0)
	req := uploadRequest(t, "excedentes.csv", csvLine(testCUPS, "2024-01-01", "2024-01-03"), nil)
	req.Header.Set("X-User-ID", "u-header")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ArchivoID)
	assert.Equal(t, "excedentes.csv", resp.NombreArchivo)
	assert.Equal(t, EstadoPendiente, resp.Estado)
	assert.Equal(t, []string{resp.ArchivoID}, env.scheduler.scheduled())
	assert.Equal(t, "u-header", env.status(t, resp.ArchivoID).UsuarioID)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     string
		fields   map[string]string
		want     int
	}{
		{"unsupported extension", "report.pdf", "x", nil, http.StatusUnsupportedMediaType},
		{"unsupported declared format", "a.csv", "x", map[string]string{"formato": "json"}, http.StatusUnsupportedMediaType},
		{"empty file", "a.csv", "", nil, http.StatusBadRequest},
		{"missing file part", "", "", map[string]string{"usuario_id": "u1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, Options{}, 0)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, uploadRequest(t, tt.filename, tt.body, tt.fields))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestUploadRequiresOwner(t *testing.T) {
	router, env := newTestRouter(t, Options{}, 0)
	body := csvLine(testCUPS, "2024-01-01", "2024-01-03")

	req := uploadRequest(t, "a.csv", body, nil)
	req.Header.Del("X-User-ID")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "usuario_id")

	req = uploadRequest(t, "a.csv", body, map[string]string{"usuario_id": "   "})
	req.Header.Del("X-User-ID")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = uploadRequest(t, "a.csv", body, map[string]string{"usuario_id": strings.Repeat("u", 65)})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	archivos, err := env.svc.ListArchivos(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, archivos, "no archivo is created without an owner")

	req = uploadRequest(t, "a.csv", body, map[string]string{"usuario_id": "u-form"})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u-form", env.status(t, resp.ArchivoID).UsuarioID, "the form field wins over the header")
}

func TestUploadRejectsNonMultipartBody(t *testing.T) {
	router, _ := newTestRouter(t, Options{}, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/archivos/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsDuplicateAndOversizedFiles(t *testing.T) {
	router, _ := newTestRouter(t, Options{RejectDuplicateFiles: true}, 1024)
	body := csvLine(testCUPS, "2024-01-01", "2024-01-03")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "a.csv", body, nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "b.csv", body, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "big.csv", strings.Repeat("x", 4096), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	router, env := newTestRouter(t, Options{}, 0)
	a := env.submit(t, "a.csv", csvLine(testCUPS, "2024-01-01", "2024-01-03"))
	require.NoError(t, env.svc.Execute(context.Background(), a.ID))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archivos/"+a.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got Archivo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, EstadoCompletado, got.Estado)
	assert.Equal(t, 1, got.RegistrosExitosos)
	assert.Empty(t, got.RutaArchivo, "the storage path is not exposed")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archivos/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListArchivosEndpoint(t *testing.T) {
	router, env := newTestRouter(t, Options{}, 0)
	env.submit(t, "a.csv", "a")
	env.submit(t, "b.csv", "b")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archivos?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ArchivoListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archivos?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErroresEndpoint(t *testing.T) {
	router, env := newTestRouter(t, Options{}, 0)
	a := env.submit(t, "a.csv", strings.Join([]string{
		csvLine(testCUPS, "2024-01-01", "2024-01-03"),
		"broken",
	}, "\n"))
	require.NoError(t, env.svc.Execute(context.Background(), a.ID))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archivos/"+a.ID+"/errores", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ErrorListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, a.ID, resp.ArchivoID)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, 2, resp.Errores[0].LineaArchivo)
	assert.Equal(t, ErrorKindTruncated, resp.Errores[0].TipoError)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archivos/missing/errores", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnergiaEndpoint(t *testing.T) {
	router, env := newTestRouter(t, Options{}, 0)
	a := env.submit(t, "a.csv", strings.Join([]string{
		csvLine(testCUPS, "2024-01-01", "2024-01-03"),
		csvLine("ES0021000000000002CD", "2024-02-01", "2024-02-03"),
	}, "\n"))
	require.NoError(t, env.svc.Execute(context.Background(), a.ID))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/energia?cups="+strings.ToLower(testCUPS), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RecordListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, testCUPS, resp.Registros[0].CUPS)
	assert.Equal(t, "35", resp.Registros[0].TotalNetaGen.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/energia?fecha_desde=2024-01-15", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	for _, q := range []string{"fecha_desde=yesterday", "tipo_autoconsumo=x", "limit=-1"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/energia?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
