package classify

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

func mustDefault(t *testing.T) *Model {
	t.Helper()
	m, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	return m
}

func TestLoadDefault(t *testing.T) {
	t.Parallel()

	m := mustDefault(t)
	if m.Version() == "" {
		t.Error("Version() is empty")
	}
	if m.Terms() == 0 {
		t.Error("Terms() = 0")
	}
}

func TestClassify_DepartmentPhrases(t *testing.T) {
	t.Parallel()

	m := mustDefault(t)

	tests := []struct {
		text string
		want complaint.Category
	}{
		{"The road near Main Street has deep potholes.", complaint.Road},
		{"Broken speed breakers are causing accidents.", complaint.Road},
		{"Street lights are not working on Nehru Nagar.", complaint.Electric},
		{"Transformer near the school is making loud noise.", complaint.Electric},
		{"Garbage has not been collected in our lane for 5 days.", complaint.Sanitation},
		{"Public toilets near the bus stand are extremely dirty.", complaint.Sanitation},
		{"Manhole cover missing at the junction near the temple.", complaint.Sewerage},
		{"Drainage water is overflowing near the park.", complaint.Sewerage},
		{"Low water pressure in our area for the last 3 days.", complaint.WaterSupply},
		{"Water pipeline burst near the main square.", complaint.WaterSupply},
		{"An old building's wall has collapsed near the market.", complaint.Building},
		{"The roof of the community hall is leaking badly.", complaint.Building},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			d, err := m.Classify(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if err := d.Validate(); err != nil {
				t.Fatalf("distribution invalid: %v", err)
			}
			got, score := d.Top()
			if got != tt.want {
				t.Errorf("Top() = %s (%.3f), want %s; scores %v", got, score, tt.want, d)
			}
		})
	}
}

func TestClassify_RoadScenarioIsConfident(t *testing.T) {
	t.Parallel()

	m := mustDefault(t)
	d, err := m.Classify(context.Background(), "The road near Main Street has deep potholes.")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	c, score := d.Top()
	if c != complaint.Road || score < 0.8 {
		t.Errorf("Top() = %s %.3f, want Road >= 0.8", c, score)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	m := mustDefault(t)
	text := "Sewage leakage causing foul smell across the street."
	first, err := m.Classify(context.Background(), text)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for range 20 {
		again, err := m.Classify(context.Background(), text)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if again != first {
			t.Fatalf("Classify not deterministic: %v vs %v", again, first)
		}
	}
}

func TestClassify_NoKnownPhrasesIsUniform(t *testing.T) {
	t.Parallel()

	m := mustDefault(t)
	d, err := m.Classify(context.Background(), "zzzz qqqq xxxx")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for i, v := range d {
		if math.Abs(v-1.0/complaint.NumCategories) > 1e-12 {
			t.Errorf("score[%d] = %v, want uniform", i, v)
		}
	}
	if c, _ := d.Top(); c != complaint.Building {
		t.Errorf("uniform Top() = %s, want first category", c)
	}
}

func TestClassify_WholeWordsOnly(t *testing.T) {
	t.Parallel()

	m := mustDefault(t)
	// "roadster" and "tarmac" contain lexicon terms as substrings only
	d, err := m.Classify(context.Background(), "A roadster parked on the tarmac")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d[complaint.Road] != d[complaint.Building] {
		t.Errorf("substring matched a term: %v", d)
	}
}

func TestClassify_Errors(t *testing.T) {
	t.Parallel()

	var nilModel *Model
	if _, err := nilModel.Classify(context.Background(), "potholes"); !errors.Is(err, complaint.ErrModelUnavailable) {
		t.Errorf("nil model err = %v, want ErrModelUnavailable", err)
	}
	if _, err := (&Model{}).Classify(context.Background(), "potholes"); !errors.Is(err, complaint.ErrModelUnavailable) {
		t.Errorf("zero model err = %v, want ErrModelUnavailable", err)
	}

	m := mustDefault(t)
	if _, err := m.Classify(context.Background(), "  ...  "); !errors.Is(err, complaint.ErrValidation) {
		t.Errorf("empty text err = %v, want ErrValidation", err)
	}
}

func TestClassify_Concurrent(t *testing.T) {
	t.Parallel()

	m := mustDefault(t)
	texts := []string{
		"deep potholes on the road",
		"garbage everywhere",
		"no water supply since morning",
		"transformer sparking",
	}
	want := make([]complaint.Category, len(texts))
	for i, txt := range texts {
		d, err := m.Classify(context.Background(), txt)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		want[i], _ = d.Top()
	}

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				idx := (g + i) % len(texts)
				d, err := m.Classify(context.Background(), texts[idx])
				if err != nil {
					t.Errorf("Classify: %v", err)
					return
				}
				if c, _ := d.Top(); c != want[idx] {
					t.Errorf("concurrent Top() = %s, want %s", c, want[idx])
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestParse_InvalidArtifacts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing categories",
			doc:     "version: v1\nscale: 1\ncategories:\n  Road Department:\n    terms:\n      road: 1\n",
			wantErr: "no entry for",
		},
		{
			name:    "unknown category",
			doc:     "version: v1\nscale: 1\ncategories:\n  Parks Department:\n    terms:\n      park: 1\n",
			wantErr: "unknown category",
		},
		{
			name:    "zero scale",
			doc:     "version: v1\nscale: 0\ncategories: {}\n",
			wantErr: "scale must be positive",
		},
		{
			name:    "no version",
			doc:     "scale: 1\ncategories: {}\n",
			wantErr: "version is required",
		},
		{
			name:    "unknown field",
			doc:     "version: v1\nscale: 1\nthreshold: 0.5\ncategories: {}\n",
			wantErr: "decode model artifact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_SharedPhraseAcrossCategories(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("version: test\nscale: 1\ncategories:\n")
	for _, c := range complaint.Categories() {
		b.WriteString("  " + c.String() + ":\n    terms:\n      filler" + strings.ReplaceAll(strings.ToLower(c.String()), " ", "") + ": 1\n")
	}
	doc := strings.Replace(b.String(),
		"      fillerroaddepartment: 1\n",
		"      fillerroaddepartment: 1\n      leak: 2\n", 1)
	doc = strings.Replace(doc,
		"      fillerwatersupplydepartment: 1\n",
		"      fillerwatersupplydepartment: 1\n      leak: 2\n", 1)

	m, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d, err := m.Classify(context.Background(), "a leak")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d[complaint.Road] != d[complaint.WaterSupply] {
		t.Errorf("shared phrase weighted unevenly: %v", d)
	}
	// tie between Road and Water Supply resolves to Road
	if c, _ := d.Top(); c != complaint.Road {
		t.Errorf("Top() = %s, want Road", c)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  Street-Lights!!  ": "street lights",
		"Pothole,road":        "pothole road",
		"":                    "",
		"...":                 "",
		"Ünïcode Road":        "ünïcode road",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
