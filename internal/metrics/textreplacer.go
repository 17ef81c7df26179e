package metrics

import "time"

// Metrics holds the counters the expansion pipeline updates.
type Metrics struct {
	registry *Registry
	started  time.Time

	KeystrokesTotal         *Counter
	SyntheticTotal          *Counter
	MatchesTotal            *Counter
	ReplaysTotal            *Counter
	ReplayErrorsTotal       *Counter
	ClipboardFallbacksTotal *Counter
	PersistErrorsTotal      *Counter
	ReloadsTotal            *Counter

	Rules       *Gauge
	BufferRunes *Gauge
	QueueDepth  *Gauge

	ReplayDuration *Histogram
}

// New registers the textreplacer metrics on registry. A nil registry gets a
// fresh one.
func New(registry *Registry) *Metrics {
	if registry == nil {
		registry = NewRegistry("textreplacer")
	}

	return &Metrics{
		registry: registry,
		started:  time.Now(),

		KeystrokesTotal:         registry.Counter("keystrokes_total", "Key-down events delivered by the keyboard hook"),
		SyntheticTotal:          registry.Counter("synthetic_keystrokes_total", "Key-down events posted by the replayer and seen by the hook"),
		MatchesTotal:            registry.Counter("matches_total", "Trigger matches"),
		ReplaysTotal:            registry.Counter("replays_total", "Completed replacement replays"),
		ReplayErrorsTotal:       registry.Counter("replay_errors_total", "Replays that failed to post events"),
		ClipboardFallbacksTotal: registry.Counter("clipboard_fallbacks_total", "Characters typed through the clipboard"),
		PersistErrorsTotal:      registry.Counter("persist_errors_total", "Rule saves or loads that failed"),
		ReloadsTotal:            registry.Counter("rule_reloads_total", "Rule file reloads after external edits"),

		Rules:       registry.Gauge("rules", "Number of replacement rules"),
		BufferRunes: registry.Gauge("buffer_characters", "Characters currently held in the input buffer"),
		QueueDepth:  registry.Gauge("replay_queue_depth", "Replays waiting in the queue"),

		ReplayDuration: registry.Histogram("replay_duration_seconds", "Time spent replaying one replacement", DurationBuckets),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *Registry {
	return m.registry
}

// Uptime returns the time since the metrics were created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.started)
}
