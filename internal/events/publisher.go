// Package events publishes engine results to NATS so the surrounding
// application (report jobs, notification workers) can react to them.
package events

import (
	"encoding/json"
	"log/slog"

	"stigflux/backend/compliance-api/internal/catalog"
	"stigflux/backend/compliance-api/internal/model"
)

const (
	// SubjectCatalogImported carries catalog.ImportReport payloads.
	SubjectCatalogImported = "compliance.catalog.imported"
	// SubjectDeterminationChanged carries model.DeterminationResult payloads.
	SubjectDeterminationChanged = "compliance.determination.changed"
)

// NATSConn is the slice of nats.Conn the publisher needs; mocked in tests.
type NATSConn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes engine events. Publish failures are logged, never
// propagated: event delivery is advisory and must not fail the operation
// that produced the event.
type Publisher struct {
	conn   NATSConn
	logger *slog.Logger
}

// NewPublisher creates a publisher over an established NATS connection.
func NewPublisher(conn NATSConn, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// PublishImportReport publishes the result of a catalog import run.
func (p *Publisher) PublishImportReport(report *catalog.ImportReport) {
	p.publish(SubjectCatalogImported, report)
}

// PublishDetermination publishes a computed compliance determination.
func (p *Publisher) PublishDetermination(res *model.DeterminationResult) {
	p.publish(SubjectDeterminationChanged, res)
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
		return
	}
	p.logger.Debug("Event published", "subject", subject, "bytes", len(data))
}
