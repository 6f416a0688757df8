package dsl

import (
	"math"
	"sort"
)

// Series is an aligned column of float64 samples. Missing values are NaN,
// matching the dataframe semantics the snippet language mimics.
type Series []float64

// Shift moves values forward by n periods (positive n looks back). The
// vacated positions become NaN.
func (s Series) Shift(n int) Series {
	out := make(Series, len(s))
	for i := range out {
		j := i - n
		if j < 0 || j >= len(s) {
			out[i] = math.NaN()
		} else {
			out[i] = s[j]
		}
	}
	return out
}

// Diff is s - s.Shift(n).
func (s Series) Diff(n int) Series {
	out := make(Series, len(s))
	for i := range out {
		j := i - n
		if j < 0 || j >= len(s) {
			out[i] = math.NaN()
		} else {
			out[i] = s[i] - s[j]
		}
	}
	return out
}

// PctChange is the fractional change over n periods.
func (s Series) PctChange(n int) Series {
	out := make(Series, len(s))
	for i := range out {
		j := i - n
		if j < 0 || j >= len(s) || s[j] == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = s[i]/s[j] - 1
		}
	}
	return out
}

// RollingMean is the trailing n-period average, NaN until the window fills.
func (s Series) RollingMean(n int) Series {
	return s.rolling(n, func(w []float64) float64 {
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		return sum / float64(len(w))
	})
}

// RollingStd is the trailing n-period sample standard deviation.
func (s Series) RollingStd(n int) Series {
	return s.rolling(n, func(w []float64) float64 {
		if len(w) < 2 {
			return math.NaN()
		}
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= float64(len(w))
		ss := 0.0
		for _, v := range w {
			d := v - mean
			ss += d * d
		}
		return math.Sqrt(ss / float64(len(w)-1))
	})
}

// RollingMax is the trailing n-period maximum.
func (s Series) RollingMax(n int) Series {
	return s.rolling(n, func(w []float64) float64 {
		m := w[0]
		for _, v := range w[1:] {
			if v > m {
				m = v
			}
		}
		return m
	})
}

// RollingMin is the trailing n-period minimum.
func (s Series) RollingMin(n int) Series {
	return s.rolling(n, func(w []float64) float64 {
		m := w[0]
		for _, v := range w[1:] {
			if v < m {
				m = v
			}
		}
		return m
	})
}

// RollingSum is the trailing n-period sum.
func (s Series) RollingSum(n int) Series {
	return s.rolling(n, func(w []float64) float64 {
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		return sum
	})
}

func (s Series) rolling(n int, agg func([]float64) float64) Series {
	out := make(Series, len(s))
	if n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	for i := range s {
		if i+1 < n {
			out[i] = math.NaN()
			continue
		}
		window := s[i+1-n : i+1]
		hasNaN := false
		for _, v := range window {
			if math.IsNaN(v) {
				hasNaN = true
				break
			}
		}
		if hasNaN {
			out[i] = math.NaN()
		} else {
			out[i] = agg(window)
		}
	}
	return out
}

// Abs takes the absolute value elementwise.
func (s Series) Abs() Series {
	out := make(Series, len(s))
	for i, v := range s {
		out[i] = math.Abs(v)
	}
	return out
}

// Rank assigns 1-based average ranks over the whole series, NaN values
// keep NaN ranks.
func (s Series) Rank() Series {
	type iv struct {
		idx int
		val float64
	}
	vals := make([]iv, 0, len(s))
	for i, v := range s {
		if !math.IsNaN(v) {
			vals = append(vals, iv{i, v})
		}
	}
	sort.Slice(vals, func(a, b int) bool { return vals[a].val < vals[b].val })
	out := make(Series, len(s))
	for i := range out {
		out[i] = math.NaN()
	}
	for i := 0; i < len(vals); {
		j := i
		for j+1 < len(vals) && vals[j+1].val == vals[i].val {
			j++
		}
		rank := float64(i+j+2) / 2 // average of 1-based positions i+1..j+1
		for k := i; k <= j; k++ {
			out[vals[k].idx] = rank
		}
		i = j + 1
	}
	return out
}

// Last returns the final value of the series, NaN when empty.
func (s Series) Last() float64 {
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}

// apply maps f elementwise.
func (s Series) apply(f func(float64) float64) Series {
	out := make(Series, len(s))
	for i, v := range s {
		out[i] = f(v)
	}
	return out
}
