package matcher

import (
	"fmt"
	"log"
)

// Result is the outcome of matching one probe embedding.
type Result struct {
	Matched    bool
	ID         string
	Name       string
	Distance   float64
	Confidence float64
	// Index is the position of the closest face in the registry snapshot.
	Index int
}

// Match finds the known face closest to probe by Euclidean distance and
// accepts it when the distance is within threshold. The closest face is
// reported even when it is rejected so callers can log near misses.
// Ties resolve to the earliest enrolled face.
func Match(probe []float32, faces []KnownFace, threshold float64) (Result, error) {
	if err := checkProbe(probe, faces); err != nil {
		return Result{}, err
	}

	best := 0
	bestDistance := EuclideanDistance(probe, faces[0].Embedding)
	for i := 1; i < len(faces); i++ {
		if d := EuclideanDistance(probe, faces[i].Embedding); d < bestDistance {
			best, bestDistance = i, d
		}
	}

	return newResult(faces, best, bestDistance, threshold), nil
}

func checkProbe(probe []float32, faces []KnownFace) error {
	if len(faces) == 0 {
		return ErrEmptyRegistry
	}
	if len(probe) == 0 {
		return ErrEmptyProbe
	}
	if dim := len(faces[0].Embedding); len(probe) != dim {
		return fmt.Errorf("%w: probe has %d values, registry uses %d", ErrDimensionMismatch, len(probe), dim)
	}
	return nil
}

func newResult(faces []KnownFace, index int, distance, threshold float64) Result {
	face := faces[index]
	return Result{
		Matched:    distance <= threshold,
		ID:         face.ID,
		Name:       face.Name,
		Distance:   distance,
		Confidence: Confidence(distance),
		Index:      index,
	}
}

// Matcher answers "which known identity is this?" against a live registry.
type Matcher struct {
	registry  *Registry
	threshold float64
	index     *HNSWIndex
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithHNSW makes the matcher pick candidates from an HNSW index instead of
// scanning the whole registry. Matching becomes approximate: the closest
// face is only found when the index returns it among HNSWCandidates.
func WithHNSW(index *HNSWIndex) Option {
	return func(m *Matcher) {
		m.index = index
	}
}

// NewMatcher creates a matcher over registry. A non-positive threshold
// falls back to DefaultThreshold.
func NewMatcher(registry *Registry, threshold float64, opts ...Option) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Matcher{registry: registry, threshold: threshold}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the registry the matcher reads from.
func (m *Matcher) Registry() *Registry {
	return m.registry
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Index returns the HNSW index, or nil when matching scans linearly.
func (m *Matcher) Index() *HNSWIndex {
	return m.index
}

// Match matches a single probe against the current registry snapshot.
func (m *Matcher) Match(probe []float32) (Result, error) {
	faces := m.registry.Snapshot()
	if m.index == nil {
		return Match(probe, faces, m.threshold)
	}
	return m.matchHNSW(probe, faces)
}

// MatchAll matches every probe independently and returns one result per probe.
func (m *Matcher) MatchAll(probes [][]float32) ([]Result, error) {
	results := make([]Result, 0, len(probes))
	for i, probe := range probes {
		res, err := m.Match(probe)
		if err != nil {
			return nil, fmt.Errorf("probe %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (m *Matcher) matchHNSW(probe []float32, faces []KnownFace) (Result, error) {
	if err := checkProbe(probe, faces); err != nil {
		return Result{}, err
	}

	if err := m.index.Sync(faces); err != nil {
		log.Printf("HNSW sync failed, falling back to linear scan: %v", err)
		return Match(probe, faces, m.threshold)
	}

	keys, err := m.index.Search(probe, HNSWCandidates)
	if err != nil || len(keys) == 0 {
		return Match(probe, faces, m.threshold)
	}

	best := -1
	var bestDistance float64
	for _, key := range keys {
		i := int(key)
		if i < 0 || i >= len(faces) {
			continue
		}
		d := EuclideanDistance(probe, faces[i].Embedding)
		if best < 0 || d < bestDistance || (d == bestDistance && i < best) {
			best, bestDistance = i, d
		}
	}
	if best < 0 {
		return Match(probe, faces, m.threshold)
	}

	return newResult(faces, best, bestDistance, m.threshold), nil
}
