package engine

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/terrane-io/terrane/pkg/provider"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

// DriftDetector compares applied state against live provider state. It
// never mutates either side; a disagreement is surfaced for manual
// reconciliation rather than silently overwritten.
type DriftDetector struct {
	store     StateStore
	providers *provider.Registry
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	events    *telemetry.EventPublisher
}

// NewDriftDetector creates a drift detector. Metrics and events may be nil.
func NewDriftDetector(store StateStore, providers *provider.Registry, logger *telemetry.Logger, metrics *telemetry.Metrics, events *telemetry.EventPublisher) *DriftDetector {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &DriftDetector{
		store:     store,
		providers: providers,
		logger:    logger.NewComponentLogger("drift"),
		metrics:   metrics,
		events:    events,
	}
}

// Detect reads every tracked resource from its provider and reports the
// fields whose live values disagree with the recorded outputs. A tracked
// resource missing from the backend is reported as missing; a provider
// read failure yields an unknown entry instead of failing the whole sweep.
func (d *DriftDetector) Detect(ctx context.Context) (*DriftReport, error) {
	applied, err := d.store.List()
	if err != nil {
		return nil, NewPermanentError("failed to list applied state", err).
			WithCode(ErrCodeInternal)
	}

	report := &DriftReport{CheckedAt: time.Now()}
	for _, rec := range applied {
		entry := DriftEntry{ResourceID: rec.ID, Status: DriftStatusUnknown}

		prov, err := d.providers.Lookup(rec.Type)
		if err != nil {
			d.logger.WithResourceID(string(rec.ID)).WithError(err).Warn("no provider for tracked resource")
			report.Entries = append(report.Entries, entry)
			continue
		}

		live, err := prov.Read(ctx, rec.Type, rec.ProviderID)
		switch {
		case provider.IsNotFound(err):
			entry.Status = DriftStatusMissing
			d.logger.WithResourceID(string(rec.ID)).Warn("tracked resource missing from backend")
		case err != nil:
			d.logger.WithResourceID(string(rec.ID)).WithError(err).Warn("drift read failed")
		default:
			fields := driftedFields(rec.Outputs, live)
			if len(fields) == 0 {
				entry.Status = DriftStatusInSync
			} else {
				entry.Status = DriftStatusDrifted
				entry.Fields = fields
				d.logger.WithResourceID(string(rec.ID)).Warnf("drift detected in %d fields", len(fields))
			}
		}

		if d.metrics != nil {
			d.metrics.RecordDriftDetection(string(rec.Type), string(entry.Status))
		}
		if d.events != nil && entry.Status == DriftStatusDrifted {
			d.events.PublishDriftDetected(string(rec.ID), len(entry.Fields))
		}
		report.Entries = append(report.Entries, entry)
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		return report.Entries[i].ResourceID < report.Entries[j].ResourceID
	})
	return report, nil
}

// driftedFields returns the field names from the recorded outputs whose
// live value differs, plus recorded fields the backend no longer reports.
// Fields only present live are ignored; backends are free to add data.
func driftedFields(recorded, live map[string]any) []string {
	var fields []string
	for k, v := range recorded {
		lv, ok := live[k]
		if !ok {
			fields = append(fields, k)
			continue
		}
		rb, rerr := marshalCanonical(v)
		lb, lerr := marshalCanonical(lv)
		if rerr != nil || lerr != nil || !bytes.Equal(rb, lb) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}
