package messaging

import (
	"context"
	"encoding/json"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

// Record is one exported telemetry event.
type Record struct {
	OrchestratorID string    `json:"orchestratorId"`
	Kind           string    `json:"kind"` // "report" or "command"
	NodeID         string    `json:"nodeId,omitempty"`
	ID             string    `json:"id"`
	Value          any       `json:"value"`
	Filter         string    `json:"filter,omitempty"`
	TimeStamp      time.Time `json:"timeStamp"`
}

// MessageWriter is the subset of kafka-go's Writer the exporter needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Exporter mirrors accepted reports and sent commands to a Kafka topic.
type Exporter struct {
	orchestratorID string
	w              MessageWriter
}

// NewExporter creates an asynchronous Kafka writer for cfg.Topic.
func NewExporter(cfg config.ExportConfig, orchestratorID string) *Exporter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafkago.Message, err error) {
			if err != nil {
				log.Printf("export: write %d messages: %v", len(msgs), err)
			}
		},
	}
	return NewExporterWithWriter(w, orchestratorID)
}

func NewExporterWithWriter(w MessageWriter, orchestratorID string) *Exporter {
	return &Exporter{orchestratorID: orchestratorID, w: w}
}

func (e *Exporter) ExportReport(r model.Report) {
	e.write(Record{
		OrchestratorID: e.orchestratorID,
		Kind:           "report",
		ID:             r.ID,
		Value:          r.Value,
		Filter:         r.Filter,
		TimeStamp:      r.TimeStamp,
	})
}

func (e *Exporter) ExportCommand(nodeID string, c model.Command) {
	e.write(Record{
		OrchestratorID: e.orchestratorID,
		Kind:           "command",
		NodeID:         nodeID,
		ID:             c.ID,
		Value:          c.Value,
		TimeStamp:      time.Now().UTC(),
	})
}

func (e *Exporter) write(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("export: encode %s %s: %v", rec.Kind, rec.ID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.w.WriteMessages(ctx, kafkago.Message{Key: []byte(rec.ID), Value: data}); err != nil {
		log.Printf("export: %s %s: %v", rec.Kind, rec.ID, err)
	}
}

func (e *Exporter) Close() error {
	return e.w.Close()
}
