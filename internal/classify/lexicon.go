// Package classify turns free-text complaint descriptions into a probability
// distribution over the six department categories.
//
// The default backend is a weighted phrase lexicon compiled into a single
// Aho-Corasick automaton. A model is loaded once at startup with Load or
// LoadDefault and is immutable afterwards; callers hold the returned *Model
// rather than looking one up globally.
package classify

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

//go:embed model.yaml
var defaultArtifact []byte

type categorySpec struct {
	Bias  float64            `yaml:"bias"`
	Terms map[string]float64 `yaml:"terms"`
}

type artifact struct {
	Version    string                  `yaml:"version"`
	Scale      float64                 `yaml:"scale"`
	Categories map[string]categorySpec `yaml:"categories"`
}

type termWeight struct {
	category complaint.Category
	weight   float64
}

// Model is a loaded lexicon classifier. The zero value is not usable; a nil
// or zero Model reports complaint.ErrModelUnavailable.
type Model struct {
	version string
	scale   float64
	bias    [complaint.NumCategories]float64
	phrases []string
	weights [][]termWeight
	matcher *ahocorasick.Matcher
}

// LoadDefault builds the model compiled into the binary.
func LoadDefault() (*Model, error) {
	return Parse(bytes.NewReader(defaultArtifact))
}

// Load reads a model artifact from path. An empty path loads the default.
func Load(path string) (*Model, error) {
	if path == "" {
		return LoadDefault()
	}
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes, validates and compiles a model artifact.
func Parse(r io.Reader) (*Model, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var a artifact
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	return compile(&a)
}

func compile(a *artifact) (*Model, error) {
	var errs []error
	if strings.TrimSpace(a.Version) == "" {
		errs = append(errs, errors.New("model version is required"))
	}
	if a.Scale <= 0 || math.IsNaN(a.Scale) || math.IsInf(a.Scale, 0) {
		errs = append(errs, fmt.Errorf("model scale must be positive (got %v)", a.Scale))
	}

	m := &Model{version: a.Version, scale: a.Scale}
	index := make(map[string]int)
	seen := [complaint.NumCategories]bool{}

	labels := make([]string, 0, len(a.Categories))
	for label := range a.Categories {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		spec := a.Categories[label]
		c, err := complaint.ParseCategory(label)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		seen[c] = true
		m.bias[c] = spec.Bias
		if len(spec.Terms) == 0 {
			errs = append(errs, fmt.Errorf("category %s has no terms", c))
		}

		terms := make([]string, 0, len(spec.Terms))
		for term := range spec.Terms {
			terms = append(terms, term)
		}
		sort.Strings(terms)

		for _, term := range terms {
			phrase := normalize(term)
			if phrase == "" {
				errs = append(errs, fmt.Errorf("category %s has an empty term", c))
				continue
			}
			// pad so hits only land on whole words
			key := " " + phrase + " "
			i, ok := index[key]
			if !ok {
				i = len(m.phrases)
				index[key] = i
				m.phrases = append(m.phrases, key)
				m.weights = append(m.weights, nil)
			}
			m.weights[i] = append(m.weights[i], termWeight{category: c, weight: spec.Terms[term]})
		}
	}
	for _, c := range complaint.Categories() {
		if !seen[c] {
			errs = append(errs, fmt.Errorf("model has no entry for %s", c))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid model artifact: %w", errors.Join(errs...))
	}

	m.matcher = ahocorasick.NewStringMatcher(m.phrases)
	return m, nil
}

// Version identifies the loaded artifact.
func (m *Model) Version() string {
	if m == nil {
		return ""
	}
	return m.version
}

// Terms returns the number of distinct phrases in the model.
func (m *Model) Terms() int {
	if m == nil {
		return 0
	}
	return len(m.phrases)
}

// Classify scores text against every category. The result always sums to 1.
// Text with no known phrases yields equal logits, so the uniform distribution.
func (m *Model) Classify(_ context.Context, text string) (complaint.Distribution, error) {
	if m == nil || m.matcher == nil {
		return complaint.Distribution{}, complaint.ErrModelUnavailable
	}
	norm := normalize(text)
	if norm == "" {
		return complaint.Distribution{}, fmt.Errorf("%w: empty description", complaint.ErrValidation)
	}

	hits := m.matcher.MatchThreadSafe([]byte(" " + norm + " "))

	logits := m.bias
	for _, h := range hits {
		if h < 0 || h >= len(m.weights) {
			continue
		}
		for _, tw := range m.weights[h] {
			logits[tw.category] += tw.weight
		}
	}
	return softmax(logits, m.scale), nil
}

func softmax(logits [complaint.NumCategories]float64, scale float64) complaint.Distribution {
	peak := logits[0]
	for _, l := range logits[1:] {
		peak = math.Max(peak, l)
	}
	var d complaint.Distribution
	var sum float64
	for i, l := range logits {
		d[i] = math.Exp(scale * (l - peak))
		sum += d[i]
	}
	for i := range d {
		d[i] /= sum
	}
	return d
}

// normalize lowercases text and collapses every run of non-alphanumerics
// into a single space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
