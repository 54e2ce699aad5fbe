package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/gorilla/mux"
)

const (
	multipartMemory = 8 << 20
	// Width of archivos.usuario_id.
	maxUsuarioIDLength = 64
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/archivos/upload", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/archivos", h.handleListArchivos).Methods(http.MethodGet)
	router.HandleFunc("/archivos/{id}", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/archivos/{id}/errores", h.handleErrors).Methods(http.MethodGet)
	router.HandleFunc("/energia", h.handleRecords).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, ErrFileTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		logger.Log.WithError(err).Warn("invalid upload form")
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to read uploaded file")
		http.Error(w, "failed to read file part", http.StatusBadRequest)
		return
	}

	usuarioID := strings.TrimSpace(r.FormValue("usuario_id"))
	if usuarioID == "" {
		usuarioID = strings.TrimSpace(r.Header.Get("X-User-ID"))
	}
	switch {
	case usuarioID == "":
		http.Error(w, "usuario_id or X-User-ID is required", http.StatusBadRequest)
		return
	case len(usuarioID) > maxUsuarioIDLength:
		http.Error(w, fmt.Sprintf("usuario_id is longer than %d bytes", maxUsuarioIDLength), http.StatusBadRequest)
		return
	}

	archivo, err := h.service.Submit(r.Context(), SubmitRequest{
		Filename:       header.Filename,
		DeclaredFormat: r.FormValue("formato"),
		UsuarioID:      usuarioID,
		Content:        content,
	})
	if err != nil {
		writeSubmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, UploadResponse{
		ArchivoID:     archivo.ID,
		NombreArchivo: archivo.NombreArchivo,
		Estado:        archivo.Estado,
	})
}

func writeSubmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
	case errors.Is(err, ErrDuplicateFile):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrFileTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case IsSubmissionError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Log.WithError(err).Error("failed to submit archivo")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *HTTPHandler) handleListArchivos(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	archivos, err := h.service.ListArchivos(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list archivos")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ArchivoListResponse{Total: len(archivos), Archivos: archivos})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	archivo, err := h.service.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "archivo not found", http.StatusNotFound)
			return
		}
		logger.ForArchivo(id).WithError(err).Error("failed to fetch archivo status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, archivo)
}

func (h *HTTPHandler) handleErrors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	errs, err := h.service.ListErrors(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "archivo not found", http.StatusNotFound)
			return
		}
		logger.ForArchivo(id).WithError(err).Error("failed to list archivo errors")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ErrorListResponse{ArchivoID: id, Total: len(errs), Errores: errs})
}

func (h *HTTPHandler) handleRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r.URL.Query(), h.service.rules.DateLayouts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.service.ListRecords(r.Context(), filter)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list energy records")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, RecordListResponse{Total: len(records), Registros: records})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
