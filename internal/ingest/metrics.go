package ingest

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

type metrics struct {
	linesProcessed metric.Int64Counter
	recordsNew     metric.Int64Counter
	uploads        metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	linesProcessed, err := meter.Int64Counter(
		"vibe_review_ingest_lines_processed_total",
		metric.WithDescription("Transcript lines parsed by uploads"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating lines counter: %w", err)
	}

	recordsNew, err := meter.Int64Counter(
		"vibe_review_ingest_records_new_total",
		metric.WithDescription("Records past the checkpoint, by category"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating records counter: %w", err)
	}

	uploads, err := meter.Int64Counter(
		"vibe_review_ingest_uploads_total",
		metric.WithDescription("Upload requests by outcome"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating uploads counter: %w", err)
	}

	return &metrics{linesProcessed: linesProcessed, recordsNew: recordsNew, uploads: uploads}, nil
}

func defaultMeter() metric.Meter {
	return otel.Meter("vibe-review/ingest")
}

func (m *metrics) recordUpload(ctx context.Context, res transcript.Result, outcome string) {
	m.linesProcessed.Add(ctx, int64(res.TotalProcessed))
	for cat, n := range transcript.CountByCategory(res.NewRecords()) {
		if n == 0 {
			continue
		}
		m.recordsNew.Add(ctx, int64(n), metric.WithAttributes(attribute.String("category", string(cat))))
	}
	m.uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
