package detector

import "math"

const log2Pi = 1.8378770664093453

// logSumExp computes log(sum(exp(v))) without overflowing for large
// magnitude inputs.
func logSumExp(v []float64) float64 {
	if len(v) == 0 {
		return math.Inf(-1)
	}
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// gaussianLogDensity evaluates the log density of a Gaussian KDE built from
// points with bandwidth h at position x. If skip >= 0, the point at that
// index is left out of the estimate (used for leave-one-out scoring).
func gaussianLogDensity(points []float64, h float64, x float64, skip int) float64 {
	terms := make([]float64, 0, len(points))
	inv2h2 := 1.0 / (2 * h * h)
	for j, p := range points {
		if j == skip {
			continue
		}
		d := x - p
		terms = append(terms, -d*d*inv2h2)
	}
	n := float64(len(terms))
	return logSumExp(terms) - math.Log(n) - math.Log(h) - 0.5*log2Pi
}

// looLogLikelihood scores a candidate bandwidth as the total leave-one-out
// log-likelihood of the KDE over all points. Higher is better.
func looLogLikelihood(points []float64, h float64) float64 {
	var total float64
	for i, x := range points {
		total += gaussianLogDensity(points, h, x, i)
	}
	return total
}

// logSpace returns n values spaced geometrically between lo and hi
// (inclusive). lo and hi must be positive.
func logSpace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	logLo := math.Log(lo)
	logHi := math.Log(hi)
	step := (logHi - logLo) / float64(n-1)
	for i := range out {
		out[i] = math.Exp(logLo + float64(i)*step)
	}
	return out
}

// linSpace returns n values spaced uniformly between lo and hi (inclusive).
func linSpace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// localMinima returns the indices of interior values lower than their
// nearest unequal neighbors on both sides. Symmetric inputs can place a
// valley's bottom on a run of bitwise-equal grid values; such a flat run
// counts as one minimum, reported at its middle index. Runs touching either
// end of the slice are not minima.
func localMinima(v []float64) []int {
	var mins []int
	for i := 1; i < len(v)-1; {
		j := i
		for j < len(v)-1 && v[j+1] == v[i] {
			j++
		}
		if v[i] < v[i-1] && j < len(v)-1 && v[i] < v[j+1] {
			mins = append(mins, (i+j)/2)
		}
		i = j + 1
	}
	return mins
}
