package ingestion

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type UploadResponse struct {
	ArchivoID     string `json:"archivo_id"`
	NombreArchivo string `json:"nombre_archivo"`
	Estado        Estado `json:"estado"`
}

type ArchivoListResponse struct {
	Total    int       `json:"total"`
	Archivos []Archivo `json:"archivos"`
}

type RecordListResponse struct {
	Total     int               `json:"total"`
	Registros []RegistroEnergia `json:"registros"`
}

type ErrorListResponse struct {
	ArchivoID string         `json:"archivo_id"`
	Total     int            `json:"total"`
	Errores   []ErrorArchivo `json:"errores"`
}

func parseLimit(values url.Values) (int, error) {
	raw := strings.TrimSpace(values.Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return limit, nil
}

// parseRecordFilter reads the /energia query string. Dates use the same
// layouts as uploads.
func parseRecordFilter(values url.Values, layouts []string) (RecordFilter, error) {
	filter := RecordFilter{
		ArchivoID: strings.TrimSpace(values.Get("archivo_id")),
		CUPS:      strings.ToUpper(strings.TrimSpace(values.Get("cups"))),
	}

	var err error
	if filter.Limit, err = parseLimit(values); err != nil {
		return RecordFilter{}, err
	}
	if filter.FechaDesde, err = parseQueryDate(values, "fecha_desde", layouts); err != nil {
		return RecordFilter{}, err
	}
	if filter.FechaHasta, err = parseQueryDate(values, "fecha_hasta", layouts); err != nil {
		return RecordFilter{}, err
	}
	if raw := strings.TrimSpace(values.Get("tipo_autoconsumo")); raw != "" {
		tipo, err := strconv.Atoi(raw)
		if err != nil {
			return RecordFilter{}, fmt.Errorf("tipo_autoconsumo must be an integer")
		}
		filter.TipoAutoconsumo = &tipo
	}
	return filter, nil
}

func parseQueryDate(values url.Values, key string, layouts []string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s %q is not a valid date", key, raw)
}
