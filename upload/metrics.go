/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package upload

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "chainguard.dev/autogit/upload"

type metrics struct {
	jobs      metric.Int64Counter
	blobs     metric.Int64Counter
	blobBytes metric.Int64Counter
	conflicts metric.Int64Counter
	duration  metric.Float64Histogram
}

// newMetrics creates the pipeline instruments. An instrument that cannot be
// created is replaced by a no-op so uploads never fail on telemetry.
func newMetrics(ctx context.Context) *metrics {
	log := clog.FromContext(ctx).With("meter", meterName)
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	jobs, err := meter.Int64Counter("autogit.upload.jobs",
		metric.WithDescription("Upload jobs by outcome and head path"),
		metric.WithUnit("{jobs}"))
	if err != nil {
		log.Warnf("Failed to create jobs counter, metrics will be disabled: %v", err)
		jobs = noop.Int64Counter{}
	}

	blobs, err := meter.Int64Counter("autogit.upload.blobs",
		metric.WithDescription("Blobs created"),
		metric.WithUnit("{blobs}"))
	if err != nil {
		log.Warnf("Failed to create blobs counter, metrics will be disabled: %v", err)
		blobs = noop.Int64Counter{}
	}

	blobBytes, err := meter.Int64Counter("autogit.upload.blob_bytes",
		metric.WithDescription("Bytes of file content uploaded as blobs"),
		metric.WithUnit("By"))
	if err != nil {
		log.Warnf("Failed to create blob bytes counter, metrics will be disabled: %v", err)
		blobBytes = noop.Int64Counter{}
	}

	conflicts, err := meter.Int64Counter("autogit.upload.ref_conflicts",
		metric.WithDescription("Branch updates lost to a concurrent writer"),
		metric.WithUnit("{conflicts}"))
	if err != nil {
		log.Warnf("Failed to create conflicts counter, metrics will be disabled: %v", err)
		conflicts = noop.Int64Counter{}
	}

	duration, err := meter.Float64Histogram("autogit.upload.duration",
		metric.WithDescription("Wall time of an upload job"),
		metric.WithUnit("s"))
	if err != nil {
		log.Warnf("Failed to create duration histogram, metrics will be disabled: %v", err)
		duration = noop.Float64Histogram{}
	}

	return &metrics{
		jobs:      jobs,
		blobs:     blobs,
		blobBytes: blobBytes,
		conflicts: conflicts,
		duration:  duration,
	}
}

func (m *metrics) recordJob(ctx context.Context, outcome, path string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("path", path),
	)
	m.jobs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *metrics) recordBlob(ctx context.Context, size int) {
	m.blobs.Add(ctx, 1)
	m.blobBytes.Add(ctx, int64(size))
}

func (m *metrics) recordConflict(ctx context.Context) {
	m.conflicts.Add(ctx, 1)
}
