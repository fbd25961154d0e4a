package complaint

import (
	"encoding/json"
	"fmt"
	"math"
)

// sumTolerance bounds how far a distribution may drift from 1.0.
const sumTolerance = 1e-3

// Distribution assigns a probability to every category, indexed by Category.
type Distribution [NumCategories]float64

// Uniform returns the distribution with equal mass on every category.
func Uniform() Distribution {
	var d Distribution
	for i := range d {
		d[i] = 1.0 / NumCategories
	}
	return d
}

// Top returns the highest-scoring category and its score. Equal scores resolve
// to the category that comes first in the fixed order.
func (d Distribution) Top() (Category, float64) {
	best := 0
	for i := 1; i < NumCategories; i++ {
		if d[i] > d[best] {
			best = i
		}
	}
	return Category(best), d[best]
}

// Score returns the probability assigned to c.
func (d Distribution) Score(c Category) float64 {
	if !c.Valid() {
		return 0
	}
	return d[c]
}

// Sum returns the total mass of the distribution.
func (d Distribution) Sum() float64 {
	var s float64
	for _, v := range d {
		s += v
	}
	return s
}

// Validate checks every value lies in [0,1] and the total is 1 within tolerance.
func (d Distribution) Validate() error {
	for i, v := range d {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("score for %s out of range: %v", Category(i), v)
		}
	}
	if s := d.Sum(); math.Abs(s-1) > sumTolerance {
		return fmt.Errorf("scores sum to %v, want 1", s)
	}
	return nil
}

// Normalize clamps negative or NaN entries to zero and rescales the rest to sum
// to one. It returns false when nothing is left to rescale.
func (d Distribution) Normalize() (Distribution, bool) {
	var out Distribution
	var total float64
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		out[i] = v
		total += v
	}
	if total == 0 {
		return Distribution{}, false
	}
	for i := range out {
		out[i] /= total
	}
	return out, true
}

// Map returns the distribution keyed by department label.
func (d Distribution) Map() map[string]float64 {
	m := make(map[string]float64, NumCategories)
	for i, v := range d {
		m[categoryLabels[i]] = v
	}
	return m
}

// DistributionFromMap builds a Distribution from a label-keyed map. Every label
// must be present and no others.
func DistributionFromMap(m map[string]float64) (Distribution, error) {
	var d Distribution
	if len(m) != NumCategories {
		return d, fmt.Errorf("%w: distribution has %d labels, want %d", ErrValidation, len(m), NumCategories)
	}
	for label, v := range m {
		c, err := ParseCategory(label)
		if err != nil {
			return d, err
		}
		d[c] = v
	}
	return d, nil
}

// MarshalJSON renders the distribution as an object keyed by label.
func (d Distribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

// UnmarshalJSON accepts only an object carrying all six labels.
func (d *Distribution) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	parsed, err := DistributionFromMap(m)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
