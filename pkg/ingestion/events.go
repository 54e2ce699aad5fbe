package ingestion

import (
	"context"

	"github.com/energy-process/platform/pkg/common/logger"
)

const eventSource = "ingestion-service"

// Notifier is told about every state change of an archivo. It never affects
// the state machine: a failed notification is only logged.
type Notifier interface {
	Notify(ctx context.Context, a *Archivo)
}

// EventPublisher is the subset of kafka.Producer the ingestion package uses.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source, key string, data map[string]interface{}) error
}

type KafkaNotifier struct {
	publisher EventPublisher
}

func NewKafkaNotifier(publisher EventPublisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

func eventType(estado Estado) string {
	return "archivo." + string(estado)
}

func (n *KafkaNotifier) Notify(ctx context.Context, a *Archivo) {
	data := map[string]interface{}{
		"archivo_id":          a.ID,
		"nombre_archivo":      a.NombreArchivo,
		"estado":              string(a.Estado),
		"total_registros":     a.TotalRegistros,
		"registros_exitosos":  a.RegistrosExitosos,
		"registros_con_error": a.RegistrosConError,
		"usuario_id":          a.UsuarioID,
	}
	if a.Detalle != "" {
		data["detalle"] = a.Detalle
	}
	if err := n.publisher.PublishEvent(ctx, eventType(a.Estado), eventSource, a.ID, data); err != nil {
		logger.ForArchivo(a.ID).WithError(err).Warn("failed to publish archivo event")
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *Archivo) {}
