package mqtt

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
	"github.com/roadsense/roadsense/internal/infra/metrics"
)

// Submitter accepts validated records into the batch pipeline.
type Submitter interface {
	Submit(ctx context.Context, rec telemetry.ProcessedAgentData)
}

// Ingress is the bus-subscription ingress adapter: it validates each inbound
// message and submits it through the same coordinator path as the HTTP
// endpoint. There is no caller to answer, so validation failures are only
// logged and counted.
type Ingress struct {
	coord   Submitter
	log     *logrus.Logger
	metrics *metrics.Pipeline
}

// NewIngress creates the bus ingress adapter.
func NewIngress(coord Submitter, log *logrus.Logger, m *metrics.Pipeline) *Ingress {
	return &Ingress{coord: coord, log: log, metrics: m}
}

// HandleMessage processes one raw bus message.
func (i *Ingress) HandleMessage(payload []byte) {
	rec, err := telemetry.ParseProcessedAgentData(payload)
	if err != nil {
		i.metrics.RecordsRejected.WithLabelValues(metrics.SourceMQTT).Inc()
		i.log.WithError(err).Warn("dropping malformed bus record")
		return
	}
	i.metrics.RecordsIngested.WithLabelValues(metrics.SourceMQTT).Inc()
	i.coord.Submit(context.Background(), rec)
}
