package taskloop

// p2Estimator estimates a single quantile of a stream without storing the
// observations, using the P-squared algorithm (Jain & Chlamtac, "The P²
// Algorithm for Dynamic Calculation of Quantiles and Histograms Without
// Storing Observations", CACM 28(10), 1985). Updates and reads are O(1).
// Not safe for concurrent use.
type p2Estimator struct {
	p    float64    // target quantile in [0, 1]
	q    [5]float64 // marker heights
	n    [5]int     // actual marker positions
	np   [5]float64 // desired marker positions
	dn   [5]float64 // desired position increments
	seed [5]float64 // first five observations, before the markers exist
	nobs int
}

func newP2Estimator(p float64) *p2Estimator {
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return &p2Estimator{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// observe folds one value into the estimate.
func (e *p2Estimator) observe(x float64) {
	e.nobs++

	// The markers are seeded from the first five observations.
	if e.nobs <= 5 {
		e.seed[e.nobs-1] = x
		if e.nobs == 5 {
			e.placeMarkers()
		}
		return
	}

	// Locate the cell k with q[k] <= x < q[k+1], extending the extremes.
	var k int
	switch {
	case x < e.q[0]:
		e.q[0] = x
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if e.q[k] <= x && x < e.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := range e.np {
		e.np[i] += e.dn[i]
	}

	// Nudge the interior markers toward their desired positions, by the
	// parabolic formula when it keeps the heights ordered, linearly
	// otherwise.
	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			h := e.parabolic(i, sign)
			if !(e.q[i-1] < h && h < e.q[i+1]) {
				h = e.linear(i, sign)
			}
			e.q[i] = h
			e.n[i] += sign
		}
	}
}

// placeMarkers sorts the seed observations and installs them as the five
// initial markers.
func (e *p2Estimator) placeMarkers() {
	insertionSort(e.seed[:])
	for i := range e.q {
		e.q[i] = e.seed[i]
		e.n[i] = i
	}
	e.np = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
}

func (e *p2Estimator) parabolic(i, sign int) float64 {
	d := float64(sign)
	ni := float64(e.n[i])
	prev := float64(e.n[i-1])
	next := float64(e.n[i+1])
	a := (ni - prev + d) * (e.q[i+1] - e.q[i]) / (next - ni)
	b := (next - ni - d) * (e.q[i] - e.q[i-1]) / (ni - prev)
	return e.q[i] + d/(next-prev)*(a+b)
}

func (e *p2Estimator) linear(i, sign int) float64 {
	if sign == 1 {
		return e.q[i] + (e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])
	}
	return e.q[i] - (e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1])
}

// estimate returns the current quantile estimate. With fewer than five
// observations it falls back to the exact order statistic of what it has.
func (e *p2Estimator) estimate() float64 {
	if e.nobs == 0 {
		return 0
	}
	if e.nobs < 5 {
		var sorted [5]float64
		copy(sorted[:], e.seed[:e.nobs])
		insertionSort(sorted[:e.nobs])
		i := int(float64(e.nobs-1) * e.p)
		if i >= e.nobs {
			i = e.nobs - 1
		}
		return sorted[i]
	}
	return e.q[2]
}

func insertionSort(a []float64) {
	for i := 1; i < len(a); i++ {
		x := a[i]
		j := i - 1
		for j >= 0 && a[j] > x {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = x
	}
}
