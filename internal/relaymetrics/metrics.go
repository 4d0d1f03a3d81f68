// Package relaymetrics keeps process-wide counters for the relay and exposes
// them as a JSON snapshot.
package relaymetrics

import (
	"strings"
	"sync"
	"time"
)

type TurnMetrics struct {
	Total              int64 `json:"total"`
	TotalLatencyMillis int64 `json:"total_latency_millis"`
}

type SweepMetrics struct {
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	Purged    int64     `json:"purged"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
}

type Snapshot struct {
	Turns       map[string]TurnMetrics `json:"turns"`
	Commands    map[string]int64       `json:"commands"`
	Deliveries  map[string]int64       `json:"deliveries"`
	Sweeps      SweepMetrics           `json:"sweeps"`
	GeneratedAt time.Time              `json:"generated_at"`
}

type registry struct {
	mu         sync.Mutex
	turns      map[string]*TurnMetrics
	commands   map[string]int64
	deliveries map[string]int64
	sweeps     SweepMetrics
}

var globalRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{
		turns:      make(map[string]*TurnMetrics),
		commands:   make(map[string]int64),
		deliveries: make(map[string]int64),
	}
}

func ResetForTests() {
	globalRegistry = newRegistry()
}

// RecordTurn counts one processed message by outcome kind. command is empty
// for free text.
func RecordTurn(kind, command string, latency time.Duration) {
	r := globalRegistry
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeKey(kind)
	if key == "" {
		key = "unknown"
	}
	turn, ok := r.turns[key]
	if !ok {
		turn = &TurnMetrics{}
		r.turns[key] = turn
	}
	turn.Total++
	if latency > 0 {
		turn.TotalLatencyMillis += latency.Milliseconds()
	}
	if name := normalizeKey(command); name != "" {
		r.commands[name]++
	}
}

func RecordDelivery(status string) {
	key := normalizeKey(status)
	if key == "" {
		key = "unknown"
	}
	r := globalRegistry
	r.mu.Lock()
	r.deliveries[key]++
	r.mu.Unlock()
}

func RecordSweep(purged int64, err error) {
	r := globalRegistry
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweeps.Runs++
	r.sweeps.LastRunAt = time.Now().UTC()
	if err != nil {
		r.sweeps.Failures++
		return
	}
	r.sweeps.Purged += purged
}

func SnapshotNow() Snapshot {
	r := globalRegistry
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := Snapshot{
		Turns:       make(map[string]TurnMetrics, len(r.turns)),
		Commands:    make(map[string]int64, len(r.commands)),
		Deliveries:  make(map[string]int64, len(r.deliveries)),
		Sweeps:      r.sweeps,
		GeneratedAt: time.Now().UTC(),
	}
	for key, metrics := range r.turns {
		snapshot.Turns[key] = *metrics
	}
	for key, count := range r.commands {
		snapshot.Commands[key] = count
	}
	for key, count := range r.deliveries {
		snapshot.Deliveries[key] = count
	}
	return snapshot
}

func normalizeKey(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}
