// Package dedup finds near-duplicate reviews by SimHash distance, confirmed on
// the words themselves for texts too short for SimHash alone.
package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"broker_reviews/internal/domain"
	"broker_reviews/internal/fingerprint"
)

const (
	DefaultWindow        = 30 * 24 * time.Hour
	DefaultMaxDistance   = 3
	DefaultMinSimilarity = 0.6
	// DefaultSyncOverlap re-reads this much history behind the high-water mark
	// on every sync so rows stamped by a skewed clock elsewhere are not skipped.
	DefaultSyncOverlap = 5 * time.Second

	// minEditTerms keeps one-word reviews from matching every other one-word review.
	minEditTerms = 3
)

// Source is the durable side of the index.
type Source interface {
	RecentFingerprints(ctx context.Context, brokerID string, since time.Time) ([]domain.FingerprintRecord, error)
	Get(ctx context.Context, id string) (domain.Review, error)
}

type Match struct {
	Review     domain.Review
	Distance   int
	Similarity float64
}

// Detector keeps an append-only, per-broker index of recent fingerprints.
// Callers must serialize lookup-then-write per broker themselves.
type Detector struct {
	src           Source
	maxDistance   int
	minSimilarity float64
	overlap       time.Duration
	now           func() time.Time

	mu      sync.RWMutex
	brokers map[string]*brokerIndex
}

type brokerIndex struct {
	mu      sync.RWMutex
	records []entry
	ids     map[string]struct{}
	loaded  time.Time // earliest createdAt covered by the index
	synced  time.Time // high-water mark of createdAt seen in the source
}

type entry struct {
	domain.FingerprintRecord
	terms []uint64
	set   []uint64
}

func newEntry(r domain.FingerprintRecord) entry {
	terms := fingerprint.Terms(r.Body)
	r.Body = ""
	return entry{FingerprintRecord: r, terms: terms, set: fingerprint.TermSet(terms)}
}

type Option func(*Detector)

func WithMaxDistance(d int) Option { return func(x *Detector) { x.maxDistance = d } }

// WithMinSimilarity sets the term-set Jaccard score that marks a duplicate
// regardless of SimHash distance. Values outside (0,1] disable the check.
func WithMinSimilarity(j float64) Option { return func(x *Detector) { x.minSimilarity = j } }

func WithSyncOverlap(d time.Duration) Option { return func(x *Detector) { x.overlap = d } }

func WithClock(now func() time.Time) Option { return func(x *Detector) { x.now = now } }

func New(src Source, opts ...Option) *Detector {
	d := &Detector{
		src:           src,
		maxDistance:   DefaultMaxDistance,
		minSimilarity: DefaultMinSimilarity,
		overlap:       DefaultSyncOverlap,
		now:           time.Now,
		brokers:       map[string]*brokerIndex{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Detector) MaxDistance() int { return d.maxDistance }

// FindNearDuplicate returns the closest review of brokerID created within window
// that is a near duplicate of the candidate text: SimHash distance within the
// threshold, or the same words give or take one, or a term-set Jaccard score at
// or above the minimum. Closest is smallest distance, then highest similarity,
// then earliest.
func (d *Detector) FindNearDuplicate(ctx context.Context, brokerID, body string, fp uint64, window time.Duration) (*Match, bool, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	since := d.now().Add(-window)

	idx, err := d.sync(ctx, brokerID, since)
	if err != nil {
		return nil, false, err
	}

	terms := fingerprint.Terms(body)
	set := fingerprint.TermSet(terms)

	idx.mu.RLock()
	var best *entry
	var bestDist int
	var bestSim float64
	for i := range idx.records {
		e := &idx.records[i]
		if e.CreatedAt.Before(since) {
			continue
		}
		dist := fingerprint.Distance(fp, e.Fingerprint)
		sim, ok := d.similar(terms, set, e, dist)
		if !ok {
			continue
		}
		if best == nil || dist < bestDist ||
			(dist == bestDist && (sim > bestSim || (sim == bestSim && e.CreatedAt.Before(best.CreatedAt)))) {
			best, bestDist, bestSim = e, dist, sim
		}
	}
	var id string
	if best != nil {
		id = best.ReviewID
	}
	idx.mu.RUnlock()

	if id == "" {
		return nil, false, nil
	}
	rv, err := d.src.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return &Match{Review: rv, Distance: bestDist, Similarity: bestSim}, true, nil
}

// similar reports whether e duplicates the candidate, and their term-set similarity.
func (d *Detector) similar(terms, set []uint64, e *entry, dist int) (float64, bool) {
	sim := fingerprint.Jaccard(set, e.set)
	if dist <= d.maxDistance {
		return sim, true
	}
	if min(len(terms), len(e.terms)) >= minEditTerms && fingerprint.WithinOneEdit(terms, e.terms) {
		return sim, true
	}
	return sim, d.minSimilarity > 0 && d.minSimilarity <= 1 && sim >= d.minSimilarity
}

// Record appends a freshly stored review to the index.
func (d *Detector) Record(rec domain.FingerprintRecord) {
	idx := d.index(rec.BrokerID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.add(newEntry(rec))
}

func (d *Detector) index(brokerID string) *brokerIndex {
	d.mu.RLock()
	idx, ok := d.brokers[brokerID]
	d.mu.RUnlock()
	if ok {
		return idx
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx, ok = d.brokers[brokerID]; ok {
		return idx
	}
	idx = &brokerIndex{ids: map[string]struct{}{}}
	d.brokers[brokerID] = idx
	return idx
}

// sync pulls records the index has not seen yet: a full window load the first
// time (or when the window grows), then records from the high-water mark minus
// the overlap. Records already indexed are skipped by id.
func (d *Detector) sync(ctx context.Context, brokerID string, since time.Time) (*brokerIndex, error) {
	idx := d.index(brokerID)

	idx.mu.RLock()
	from := idx.synced.Add(-d.overlap)
	if idx.loaded.IsZero() || since.Before(idx.loaded) || from.Before(since) {
		from = since
	}
	idx.mu.RUnlock()

	recs, err := d.src.RecentFingerprints(ctx, brokerID, from)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, r := range recs {
		if _, seen := idx.ids[r.ReviewID]; !seen {
			idx.add(newEntry(r))
		}
	}
	if idx.loaded.IsZero() || since.Before(idx.loaded) {
		idx.loaded = since
	}
	idx.compact(since)
	return idx, nil
}

func (b *brokerIndex) add(r entry) {
	if _, dup := b.ids[r.ReviewID]; dup {
		return
	}
	b.ids[r.ReviewID] = struct{}{}
	b.records = append(b.records, r)
	if r.CreatedAt.After(b.synced) {
		b.synced = r.CreatedAt
	}
}

// compact drops records that fell out of the window once they are a large share of the index.
func (b *brokerIndex) compact(since time.Time) {
	expired := 0
	for _, r := range b.records {
		if r.CreatedAt.Before(since) {
			expired++
		}
	}
	if expired == 0 || expired*2 < len(b.records) {
		return
	}
	kept := b.records[:0:0]
	for _, r := range b.records {
		if r.CreatedAt.Before(since) {
			delete(b.ids, r.ReviewID)
			continue
		}
		kept = append(kept, r)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].CreatedAt.Before(kept[j].CreatedAt) })
	b.records = kept
}
