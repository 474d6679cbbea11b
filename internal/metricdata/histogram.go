package metricdata

import "math"

// bucketsPerOctave is the number of histogram buckets in each power-of-two
// range of sample values. Eight buckets per octave bounds the relative error
// of any bucket midpoint to about 8.7%, which holds at every magnitude from
// nanoseconds to years, so the same bucketing serves every timing metric
// without per-metric configuration.
const bucketsPerOctave = 8.0

// maxBucketIndex caps the index range so a hostile sample cannot produce an
// unbounded key. floor(8*log2(MaxInt64)) == 503.
const maxBucketIndex = 503

// BucketIndex maps a nanosecond sample to its exponential bucket. Samples
// below one nanosecond are treated as one. The index for a sample x is
// floor(8 * log2(x)).
func BucketIndex(sampleNs int64) int64 {
	if sampleNs <= 1 {
		return 0
	}
	idx := int64(math.Floor(bucketsPerOctave * math.Log2(float64(sampleNs))))
	if idx > maxBucketIndex {
		return maxBucketIndex
	}
	return idx
}

// Histogram is the accumulated state of a timing distribution: a sparse
// bucket-index to occurrence-count map plus the running nanosecond sum and
// sample count. The invariant Count == sum of bucket counts holds after
// every Accumulate and Merge.
type Histogram struct {
	Buckets map[int64]int64 `json:"buckets"`
	Sum     int64           `json:"sum"`
	Count   int64           `json:"count"`
}

// NewHistogram returns an empty histogram ready to accumulate.
func NewHistogram() *Histogram {
	return &Histogram{Buckets: make(map[int64]int64)}
}

// Accumulate adds one nanosecond sample.
func (h *Histogram) Accumulate(sampleNs int64) {
	if h.Buckets == nil {
		h.Buckets = make(map[int64]int64)
	}
	h.Buckets[BucketIndex(sampleNs)]++
	h.Sum += sampleNs
	h.Count++
}

// MergeFrom folds another histogram into this one. Bucket counts add, sums
// add, counts add; the operation is commutative and associative, so the
// result does not depend on the order concurrent accumulations landed in.
func (h *Histogram) MergeFrom(other *Histogram) {
	if other == nil {
		return
	}
	if h.Buckets == nil {
		h.Buckets = make(map[int64]int64)
	}
	for idx, n := range other.Buckets {
		h.Buckets[idx] += n
	}
	h.Sum += other.Sum
	h.Count += other.Count
}

// Clone returns an independent copy, used when snapshotting so the caller
// cannot mutate stored state.
func (h *Histogram) Clone() *Histogram {
	out := &Histogram{Sum: h.Sum, Count: h.Count, Buckets: make(map[int64]int64, len(h.Buckets))}
	for idx, n := range h.Buckets {
		out.Buckets[idx] = n
	}
	return out
}
