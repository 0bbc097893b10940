package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Config holds Temporal connection settings.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Manager bundles the Temporal client with a worker polling the job task
// queue. It exists so the server can treat durable execution as an
// optional backend with a single Start/Stop lifecycle.
type Manager struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
}

// New dials the Temporal frontend and prepares a worker with the job
// workflow and every activity it schedules.
func New(cfg Config, acts *Activities) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client dial: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(JobWorkflow)
	for _, a := range []any{
		acts.PrepareJob,
		acts.CallProvider,
		acts.PersistOutcome,
		acts.DispatchIntegration,
		acts.FailJob,
	} {
		w.RegisterActivity(a)
	}

	return &Manager{client: c, worker: w, taskQueue: cfg.TaskQueue}, nil
}

// Start begins polling for workflow and activity tasks.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// Client exposes the underlying client for starting workflow executions.
func (m *Manager) Client() client.Client {
	return m.client
}

// TaskQueue returns the queue new workflow executions should target.
func (m *Manager) TaskQueue() string {
	return m.taskQueue
}

// Stop drains the worker and closes the client connection.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}
