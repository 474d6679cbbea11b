package metricdata

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketIndexMonotonicWithinOctave(t *testing.T) {
	// Within any power-of-two octave the index never decreases, and the
	// whole octave spans at most 8 consecutive indices.
	for octave := 0; octave < 40; octave++ {
		lo := int64(1) << octave
		hi := lo * 2
		prev := BucketIndex(lo)
		first := prev
		step := (hi - lo) / 64
		if step == 0 {
			step = 1
		}
		for x := lo; x < hi; x += step {
			idx := BucketIndex(x)
			assert.GreaterOrEqual(t, idx, prev, "index decreased at sample %d", x)
			assert.Less(t, idx-first, int64(8), "octave starting at %d spans more than 8 indices", lo)
			prev = idx
		}
	}
}

func TestBucketIndexBounds(t *testing.T) {
	assert.Equal(t, int64(0), BucketIndex(0))
	assert.Equal(t, int64(0), BucketIndex(1))
	assert.Equal(t, int64(8), BucketIndex(2))
	assert.Equal(t, int64(496), BucketIndex(1<<62))
	assert.Equal(t, int64(maxBucketIndex), BucketIndex(math.MaxInt64))
}

func TestHistogramMergeEquivalence(t *testing.T) {
	// Accumulating {a, b} then merging a histogram built from {c} must equal
	// accumulating {a, b, c} directly.
	a, b, c := int64(1500), int64(92_000), int64(1500)

	left := NewHistogram()
	left.Accumulate(a)
	left.Accumulate(b)
	other := NewHistogram()
	other.Accumulate(c)
	left.MergeFrom(other)

	direct := NewHistogram()
	direct.Accumulate(a)
	direct.Accumulate(b)
	direct.Accumulate(c)

	assert.Equal(t, direct.Buckets, left.Buckets)
	assert.Equal(t, direct.Sum, left.Sum)
	assert.Equal(t, direct.Count, left.Count)
}

func TestHistogramCountMatchesBucketTotal(t *testing.T) {
	h := NewHistogram()
	for _, s := range []int64{1, 2, 3, 1000, 1_000_000, 1_000_000_000} {
		h.Accumulate(s)
	}
	var total int64
	for _, n := range h.Buckets {
		total += n
	}
	require.Equal(t, h.Count, total)
	require.GreaterOrEqual(t, h.Sum, int64(0))
}

func TestClampSampleOverflow(t *testing.T) {
	// 20 minutes expressed in nanoseconds overflows the nanosecond-unit cap
	// and clamps to the 10-minute maximum.
	twentyMin := int64(20 * 60 * 1_000_000_000)
	ns, recErr := ClampSample(twentyMin, UnitNanosecond)
	require.NotNil(t, recErr)
	assert.Equal(t, ErrorInvalidOverflow, recErr.Kind)
	assert.Equal(t, MaxSampleValue, ns)
}

func TestClampSampleSecondUnitFitsInt64(t *testing.T) {
	// For second-unit metrics the nanosecond conversion hits the int64
	// bound before MaxSampleValue does; the clamp must shrink with the
	// unit so the product never wraps negative.
	fit := int64(math.MaxInt64) / int64(time.Second)

	ns, recErr := ClampSample(MaxSampleValue+1, UnitSecond)
	require.NotNil(t, recErr)
	assert.Equal(t, ErrorInvalidOverflow, recErr.Kind)
	assert.Equal(t, fit*int64(time.Second), ns)
	assert.GreaterOrEqual(t, ns, int64(0))

	// A sample under MaxSampleValue but over the int64-fit bound clamps
	// the same way.
	ns, recErr = ClampSample(fit+1, UnitSecond)
	require.NotNil(t, recErr)
	assert.Equal(t, ErrorInvalidOverflow, recErr.Kind)
	assert.Equal(t, fit*int64(time.Second), ns)

	ns, recErr = ClampSample(fit, UnitSecond)
	require.Nil(t, recErr)
	assert.Equal(t, fit*int64(time.Second), ns)
}

func TestClampSampleRejectsNegative(t *testing.T) {
	_, recErr := ClampSample(-5, UnitMillisecond)
	require.NotNil(t, recErr)
	assert.Equal(t, ErrorInvalidValue, recErr.Kind)
}

func TestClampSampleUnderflowSilent(t *testing.T) {
	ns, recErr := ClampSample(0, UnitMillisecond)
	require.Nil(t, recErr)
	assert.Equal(t, int64(1_000_000), ns)
}
