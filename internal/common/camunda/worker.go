package camunda

import (
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"admissions-portal/internal/common/config"
	"admissions-portal/internal/common/logger"
)

// Workers tracks the job workers opened by a process so they can be closed together.
type Workers struct {
	client zbc.Client
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkers(client zbc.Client, log logger.Logger) *Workers {
	return &Workers{
		client:  client,
		logger:  log.WithFields(map[string]interface{}{"component": "zeebe-workers"}),
		workers: make(map[string]worker.JobWorker),
	}
}

// Start opens a job worker for taskType unless the worker is disabled in wcfg.
func (w *Workers) Start(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler) bool {
	if !wcfg.Enabled {
		w.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return false
	}

	jobWorker := w.client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(time.Duration(wcfg.Timeout) * time.Millisecond).
		Open()

	w.mu.Lock()
	w.workers[taskType] = jobWorker
	w.mu.Unlock()

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return true
}

// Running lists the task types with an open worker.
func (w *Workers) Running() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.workers))
	for t := range w.workers {
		out = append(out, t)
	}
	return out
}

// Close stops every worker and waits for in-flight jobs.
func (w *Workers) Close() {
	w.mu.Lock()
	workers := w.workers
	w.workers = make(map[string]worker.JobWorker)
	w.mu.Unlock()

	for taskType, jw := range workers {
		w.logger.Info("stopping worker", map[string]interface{}{"taskType": taskType})
		jw.Close()
		jw.AwaitClose()
	}
}
