package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	archivosAccepted  atomic.Int64
	archivosRejected  atomic.Int64
	archivosCompleted atomic.Int64
	archivosFailed    atomic.Int64
	jobsRunning       atomic.Int64
	linesOK           atomic.Int64
	linesFailed       atomic.Int64
)

func ArchivoAccepted()  { archivosAccepted.Add(1) }
func ArchivoRejected()  { archivosRejected.Add(1) }
func ArchivoCompleted() { archivosCompleted.Add(1) }
func ArchivoFailed()    { archivosFailed.Add(1) }

// JobStarted returns the matching decrement for the running-jobs gauge.
func JobStarted() func() {
	jobsRunning.Add(1)
	return func() { jobsRunning.Add(-1) }
}

func ObserveLines(ok, failed int) {
	linesOK.Add(int64(ok))
	linesFailed.Add(int64(failed))
}

type Snapshot struct {
	Accepted  int64
	Rejected  int64
	Completed int64
	Failed    int64
	Running   int64
	LinesOK   int64
	LinesFail int64
}

func Read() Snapshot {
	return Snapshot{
		Accepted:  archivosAccepted.Load(),
		Rejected:  archivosRejected.Load(),
		Completed: archivosCompleted.Load(),
		Failed:    archivosFailed.Load(),
		Running:   jobsRunning.Load(),
		LinesOK:   linesOK.Load(),
		LinesFail: linesFailed.Load(),
	}
}

func WritePrometheus(w http.ResponseWriter) {
	s := Read()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	write := func(name, kind, help string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %d\n", name, value)
	}

	write("energy_ingestion_archivos_accepted_total", "counter", "Uploads accepted and queued for processing.", s.Accepted)
	write("energy_ingestion_archivos_rejected_total", "counter", "Uploads rejected at submission.", s.Rejected)
	write("energy_ingestion_archivos_completed_total", "counter", "Jobs that reached the completado state.", s.Completed)
	write("energy_ingestion_archivos_failed_total", "counter", "Jobs that reached the error state.", s.Failed)
	write("energy_ingestion_jobs_running", "gauge", "Jobs currently in procesando.", s.Running)
	write("energy_ingestion_lines_ok_total", "counter", "Lines stored as energy records.", s.LinesOK)
	write("energy_ingestion_lines_failed_total", "counter", "Lines recorded as errors.", s.LinesFail)
}
