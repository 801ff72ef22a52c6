package metrics

// Tag keys shared across metric families.
const (
	TagJob        = "job"
	TagTransition = "transition"
	TagResult     = "result"
	TagErrorClass = "error_class"
	TagOperation  = "operation"
	TagPool       = "pool"
)

var (
	runLabels       = []string{TagJob, TagTransition, TagResult, TagErrorClass}
	reaperLabels    = []string{TagResult, TagErrorClass}
	operationLabels = []string{TagOperation, TagResult, TagErrorClass}
	schedulerLabels = []string{TagResult, TagErrorClass}
	poolLabels      = []string{TagPool}

	knownLabels = map[string][]string{
		"run.transition":           runLabels,
		"run.duration":             runLabels,
		"run.queue_delay":          {TagJob},
		"reaper.cleanup":           reaperLabels,
		"reaper.cleanup_duration":  reaperLabels,
		"reaper.cleanup_operation": operationLabels,
		"reaper.items_processed":   operationLabels,
		"scheduler.tick":           schedulerLabels,
		"scheduler.runs_enqueued":  schedulerLabels,
		"scheduler.tick_duration":  schedulerLabels,
		"worker.registered":        poolLabels,
		"worker.lease_acquired":    poolLabels,
		"worker.lease_refused":     poolLabels,
		"worker.lease_lost":        poolLabels,
	}
)

// KnownLabels returns every tag key each emitted metric may carry, keyed by
// metric name. Label-strict backends declare these up front, since a tag such
// as error_class is absent from a metric's first observations.
func KnownLabels() map[string][]string {
	out := make(map[string][]string, len(knownLabels))
	for name, labels := range knownLabels {
		out[name] = append([]string(nil), labels...)
	}
	return out
}

