package faults

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilInjectorNeverFires(t *testing.T) {
	var in *Injector
	assert.Nil(t, in.Check(OpGet, []byte("key")))
	assert.Zero(t, in.Fired())
	in.Reset()
}

func TestEmptyInjectorProceeds(t *testing.T) {
	in := New()
	assert.Nil(t, in.Check(OpGet, []byte("key")))
	assert.Nil(t, in.Check(OpOpen, nil))
}

func TestFailDefaultsToErrInjected(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpGet, Kind: Fail})

	out := in.Check(OpGet, []byte("k"))
	require.NotNil(t, out)
	assert.Equal(t, Fail, out.Kind)
	assert.ErrorIs(t, out.Err, ErrInjected)
}

func TestFailCarriesCustomError(t *testing.T) {
	in := New()
	custom := errors.New("backing device gone")
	in.Inject(Spec{Op: OpPut, Kind: Fail, Err: custom})

	out := in.Check(OpPut, nil)
	require.NotNil(t, out)
	assert.ErrorIs(t, out.Err, custom)
}

func TestOpMustMatch(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpDelete, Kind: Fail})

	assert.Nil(t, in.Check(OpGet, []byte("k")))
	assert.Nil(t, in.Check(OpPut, []byte("k")))
	assert.NotNil(t, in.Check(OpDelete, []byte("k")))
}

func TestKeyPrefixMatching(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpGet, KeyPrefix: []byte{0xaa, 0xbb}, Kind: Fail})

	assert.NotNil(t, in.Check(OpGet, []byte{0xaa, 0xbb, 0xcc}))
	assert.NotNil(t, in.Check(OpGet, []byte{0xaa, 0xbb}))
	assert.Nil(t, in.Check(OpGet, []byte{0xaa, 0xcc}))
	assert.Nil(t, in.Check(OpGet, []byte{0xaa}), "shorter than the prefix cannot match")
	assert.Nil(t, in.Check(OpGet, nil))
}

func TestEmptyPrefixMatchesKeylessOps(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpCompact, Kind: Fail})

	assert.NotNil(t, in.Check(OpCompact, nil))
}

func TestCountLimitsActivations(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpGet, Kind: Fail, Count: 2})

	assert.NotNil(t, in.Check(OpGet, nil))
	assert.NotNil(t, in.Check(OpGet, nil))
	assert.Nil(t, in.Check(OpGet, nil), "an exhausted rule stops matching")
	assert.Equal(t, 2, in.Fired())
}

func TestRegistrationOrderDecides(t *testing.T) {
	in := New()
	first := errors.New("first")
	second := errors.New("second")
	in.Inject(Spec{Op: OpGet, Kind: Fail, Err: first, Count: 1})
	in.Inject(Spec{Op: OpGet, Kind: Fail, Err: second})

	out := in.Check(OpGet, nil)
	require.NotNil(t, out)
	assert.ErrorIs(t, out.Err, first)

	// Exhausting the first rule hands the match to the second.
	out = in.Check(OpGet, nil)
	require.NotNil(t, out)
	assert.ErrorIs(t, out.Err, second)
}

func TestNarrowRuleBeatsLaterBroadRule(t *testing.T) {
	in := New()
	narrow := errors.New("narrow")
	broad := errors.New("broad")
	in.Inject(Spec{Op: OpGet, KeyPrefix: []byte("ab"), Kind: Fail, Err: narrow})
	in.Inject(Spec{Op: OpGet, Kind: Fail, Err: broad})

	out := in.Check(OpGet, []byte("abacus"))
	require.NotNil(t, out)
	assert.ErrorIs(t, out.Err, narrow)

	out = in.Check(OpGet, []byte("zebra"))
	require.NotNil(t, out)
	assert.ErrorIs(t, out.Err, broad)
}

func TestDelayOutcome(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpScan, Kind: Delay, Delay: 250 * time.Millisecond})

	out := in.Check(OpScan, nil)
	require.NotNil(t, out)
	assert.Equal(t, Delay, out.Kind)
	assert.Equal(t, 250*time.Millisecond, out.Delay)
	assert.NoError(t, out.Err)
}

func TestProbabilisticNeedsSeededSource(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpGet, Kind: Fail, Probability: 0.99})

	for range 100 {
		assert.Nil(t, in.Check(OpGet, nil))
	}
	assert.Zero(t, in.Fired())
}

func TestProbabilisticSeededIsDeterministic(t *testing.T) {
	outcomes := func(seed int64) []bool {
		in := NewSeeded(seed)
		in.Inject(Spec{Op: OpGet, Kind: Fail, Probability: 0.5})
		var res []bool
		for range 64 {
			res = append(res, in.Check(OpGet, nil) != nil)
		}
		return res
	}

	a := outcomes(7)
	b := outcomes(7)
	assert.Equal(t, a, b, "same seed, same operation sequence, same faults")

	fired := 0
	for _, hit := range a {
		if hit {
			fired++
		}
	}
	assert.Positive(t, fired)
	assert.Less(t, fired, 64)
}

func TestResetDropsRulesAndCounter(t *testing.T) {
	in := New()
	in.Inject(Spec{Op: OpGet, Kind: Fail})
	require.NotNil(t, in.Check(OpGet, nil))
	require.Equal(t, 1, in.Fired())

	in.Reset()
	assert.Nil(t, in.Check(OpGet, nil))
	assert.Zero(t, in.Fired())
}

func TestCorruptBytes(t *testing.T) {
	orig := []byte("some stored value")
	mangled := CorruptBytes(orig)

	assert.Equal(t, []byte("some stored value"), orig, "the input is never touched")
	assert.Len(t, mangled, len(orig))
	assert.NotEqual(t, orig, mangled)

	// Deterministic: corrupting twice yields the same damage.
	assert.Equal(t, mangled, CorruptBytes(orig))

	assert.Equal(t, []byte{0xff}, CorruptBytes(nil))
	assert.Equal(t, []byte{0xff}, CorruptBytes([]byte{}))
}
