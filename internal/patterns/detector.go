// Package patterns implements the proactive analyzer's historical-context
// store: per log-group pattern counts tracked with an exponential moving
// average (spec §3), adapted from the teacher's richer interval-prediction
// detector and simplified to the statistic the spec actually names.
package patterns

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const emaAlpha = 0.3

// Pattern is keyed by "log_group#pattern" (spec §3).
type Pattern struct {
	Key             string    `json:"key"`
	AvgCount        float64   `json:"avg_count"`
	LastSeen        time.Time `json:"last_seen"`
	OccurrenceCount int       `json:"occurrence_count"`

	// intervals backs the derived StdDevIntervalSeconds; per DESIGN.md's
	// Open Question decision, std_dev is never itself persisted.
	intervals []float64 `json:"-"`
}

// StdDevIntervalSeconds computes the standard deviation of observed
// inter-occurrence intervals on demand; it is derived, not stored (the
// source's own ambiguity here — see DESIGN.md).
func (p *Pattern) StdDevIntervalSeconds() float64 {
	n := len(p.intervals)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range p.intervals {
		mean += v
	}
	mean /= float64(n)
	var variance float64
	for _, v := range p.intervals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	return math.Sqrt(variance)
}

// Detector tracks patterns for one process, persisted to disk with the
// same tmp-file-then-rename idiom the teacher uses throughout internal/ai.
type Detector struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
	dataDir  string
}

func NewDetector(dataDir string) *Detector {
	d := &Detector{patterns: make(map[string]*Pattern), dataDir: dataDir}
	d.loadFromDisk()
	return d
}

func patternKey(logGroup, pattern string) string { return logGroup + "#" + pattern }

// RecordEvent updates the named pattern's EMA count and occurrence count.
func (d *Detector) RecordEvent(logGroup, pattern string, count float64, at time.Time) *Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := patternKey(logGroup, pattern)
	p, ok := d.patterns[key]
	if !ok {
		p = &Pattern{Key: key, AvgCount: count, LastSeen: at, OccurrenceCount: 1}
		d.patterns[key] = p
	} else {
		if !p.LastSeen.IsZero() {
			p.intervals = append(p.intervals, at.Sub(p.LastSeen).Seconds())
			if len(p.intervals) > 100 {
				p.intervals = p.intervals[len(p.intervals)-100:]
			}
		}
		p.AvgCount = emaAlpha*count + (1-emaAlpha)*p.AvgCount
		p.LastSeen = at
		p.OccurrenceCount++
	}

	d.saveAsync()
	return p
}

// Get returns the pattern for logGroup#pattern, if any has been recorded.
func (d *Detector) Get(logGroup, pattern string) (*Pattern, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patterns[patternKey(logGroup, pattern)]
	return p, ok
}

// EventID returns a sortable id suitable for an individual recorded event
// (ULID, unlike the correlation id's UUID, because pattern/audit entries
// benefit from lexicographic ordering).
func EventID() string {
	return ulid.Make().String()
}

func (d *Detector) filePath() string { return filepath.Join(d.dataDir, "patterns.json") }

func (d *Detector) saveAsync() {
	snapshot := make(map[string]*Pattern, len(d.patterns))
	for k, v := range d.patterns {
		snapshot[k] = v
	}
	go func() {
		data, err := json.Marshal(snapshot)
		if err != nil {
			log.Warn().Err(err).Msg("patterns: marshal failed")
			return
		}
		if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
			log.Warn().Err(err).Msg("patterns: mkdir failed")
			return
		}
		tmp := d.filePath() + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			log.Warn().Err(err).Msg("patterns: write failed")
			return
		}
		if err := os.Rename(tmp, d.filePath()); err != nil {
			log.Warn().Err(err).Msg("patterns: rename failed")
		}
	}()
}

func (d *Detector) loadFromDisk() {
	data, err := os.ReadFile(d.filePath())
	if err != nil {
		return
	}
	var loaded map[string]*Pattern
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warn().Err(err).Msg("patterns: discarding corrupt state file")
		return
	}
	d.patterns = loaded
}
