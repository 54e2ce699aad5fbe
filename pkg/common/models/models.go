package models

import "time"

// Event is the envelope written to every Kafka topic of the platform.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // archivo.pendiente, archivo.completado, job.execute, ...
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// StringField reads a string payload value, tolerating absent keys.
func (e Event) StringField(key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}
