package mutation

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTier3(t *testing.T, cfg Tier3Config) *Tier3Mutator {
	t.Helper()
	m, err := NewTier3Mutator(cfg, nil)
	require.NoError(t, err)
	return m
}

// near-zero probability that still counts as configured
const offProb = 1e-12

func TestTier3ComparatorSubstitution(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"signal = close > open\n", "signal = close >= open\n"},
		{"signal = close >= open\n", "signal = close > open\n"},
		{"signal = close < open\n", "signal = close <= open\n"},
		{"signal = close <= open\n", "signal = close < open\n"},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.code), func(t *testing.T) {
			m := newTier3(t, Tier3Config{
				ComparatorProb: 1.0,
				ThresholdProb:  offProb,
				ArithmeticProb: offProb,
				Seed:           1,
			})
			res := m.Mutate(context.Background(), NewCandidate(tt.code, 0))
			require.True(t, res.Success, "rewrite failed: %v", res.Err)
			assert.Equal(t, tt.want, res.MutatedCode)
		})
	}
}

func TestTier3EqualityOperatorsStayPut(t *testing.T) {
	m := newTier3(t, Tier3Config{
		ComparatorProb: 1.0,
		ThresholdProb:  offProb,
		ArithmeticProb: offProb,
		Seed:           2,
	})
	res := m.Mutate(context.Background(), NewCandidate("signal = close == open\n", 0))
	assert.False(t, res.Success, "== offers no rewrite site")
	assert.Contains(t, res.Err.Error(), "no rewritable")
}

func TestTier3ArithmeticSubstitution(t *testing.T) {
	m := newTier3(t, Tier3Config{
		ComparatorProb: offProb,
		ThresholdProb:  offProb,
		ArithmeticProb: 1.0,
		Seed:           3,
	})
	res := m.Mutate(context.Background(), NewCandidate("x = high + low\n", 0))
	require.True(t, res.Success, "rewrite failed: %v", res.Err)
	assert.Equal(t, "x = high - low\n", res.MutatedCode)
}

func TestTier3ThresholdScalingStaysInRange(t *testing.T) {
	m := newTier3(t, Tier3Config{
		ComparatorProb: offProb,
		ThresholdProb:  1.0,
		ArithmeticProb: offProb,
		ThresholdScale: 0.2,
		Seed:           4,
	})
	for i := 0; i < 50; i++ {
		res := m.Mutate(context.Background(), NewCandidate("signal = momentum > 0.02\n", 0))
		require.True(t, res.Success, "rewrite failed: %v", res.Err)

		match := regexp.MustCompile(`momentum > (\S+)`).FindStringSubmatch(res.MutatedCode)
		require.NotNil(t, match)
		v, err := strconv.ParseFloat(match[1], 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0.02*0.8-1e-9)
		assert.LessOrEqual(t, v, 0.02*1.2+1e-9)
	}
}

func TestTier3RewritesSingleStatement(t *testing.T) {
	m := newTier3(t, Tier3Config{
		ComparatorProb: 1.0,
		ThresholdProb:  offProb,
		ArithmeticProb: offProb,
		Seed:           5,
	})
	code := "a = close > open\nb = high < low\n"

	for i := 0; i < 20; i++ {
		res := m.Mutate(context.Background(), NewCandidate(code, 0))
		require.True(t, res.Success)
		origLines := strings.Split(code, "\n")
		newLines := strings.Split(res.MutatedCode, "\n")
		require.Equal(t, len(origLines), len(newLines))
		changed := 0
		for j := range origLines {
			if origLines[j] != newLines[j] {
				changed++
			}
		}
		assert.Equal(t, 1, changed, "only one domain unit may be rewritten per call")
	}
}

func TestTier3FailsWithoutRewriteSites(t *testing.T) {
	m := newTier3(t, Tier3Config{Seed: 6})
	code := "x = close.shift(1)\n"

	res := m.Mutate(context.Background(), NewCandidate(code, 0))
	assert.False(t, res.Success)
	assert.Equal(t, code, res.MutatedCode)
	assert.Contains(t, res.Err.Error(), "no rewritable")
}

func TestTier3NoDrawMeansFailure(t *testing.T) {
	m := newTier3(t, Tier3Config{
		ComparatorProb: offProb,
		ThresholdProb:  offProb,
		ArithmeticProb: offProb,
		Seed:           7,
	})
	code := "signal = close > open\n"

	res := m.Mutate(context.Background(), NewCandidate(code, 0))
	assert.False(t, res.Success)
	assert.Equal(t, code, res.MutatedCode)
	assert.Contains(t, res.Err.Error(), "no rewrite applied")
}

func TestTier3Deterministic(t *testing.T) {
	a := newTier3(t, Tier3Config{Seed: 42})
	b := newTier3(t, Tier3Config{Seed: 42})
	cand := NewCandidate("mom = close.pct_change(10)\nsignal = mom > 0.02\nhedge = high * 0.5 + low * 0.5\n", 0)

	for i := 0; i < 15; i++ {
		ra := a.Mutate(context.Background(), cand)
		rb := b.Mutate(context.Background(), cand)
		require.Equal(t, ra.Success, rb.Success)
		assert.Equal(t, ra.MutatedCode, rb.MutatedCode)
	}
}

func TestTier3RejectsBadConfig(t *testing.T) {
	_, err := NewTier3Mutator(Tier3Config{ComparatorProb: 1.5}, nil)
	assert.Error(t, err)

	_, err = NewTier3Mutator(Tier3Config{ThresholdScale: 1.5}, nil)
	assert.Error(t, err)
}
