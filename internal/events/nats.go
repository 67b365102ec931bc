package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher mirrors task events to a NATS subject. Publish failures are
// logged and dropped, never raised to the pipeline.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// ConnectNATS dials the broker and returns a publisher for subject.
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}, nil
}

// Emit publishes one event as JSON.
func (p *NATSPublisher) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal task event", "task_id", event.TaskID, "err", err)
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.logger.Warn("publish task event failed", "subject", p.subject, "task_id", event.TaskID, "err", err)
	}
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
