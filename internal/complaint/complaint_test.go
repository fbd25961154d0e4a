package complaint

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestCategory_StringAndParse(t *testing.T) {
	t.Parallel()

	want := []string{
		"Building Department",
		"Electric Department",
		"Road Department",
		"Sanitation Department",
		"Sewerage Department",
		"Water Supply Department",
	}
	for i, c := range Categories() {
		if c.String() != want[i] {
			t.Errorf("Category(%d).String() = %q, want %q", i, c.String(), want[i])
		}
		got, err := ParseCategory(want[i])
		if err != nil {
			t.Fatalf("ParseCategory(%q): %v", want[i], err)
		}
		if got != c {
			t.Errorf("ParseCategory(%q) = %d, want %d", want[i], got, c)
		}
	}

	if _, err := ParseCategory("Parks Department"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseCategory(unknown) err = %v, want ErrValidation", err)
	}
	if Category(6).Valid() || Category(-1).Valid() {
		t.Error("out-of-range categories reported valid")
	}
}

func TestDistribution_Top(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		d         Distribution
		wantCat   Category
		wantScore float64
	}{
		{
			name:      "clear winner",
			d:         Distribution{0.02, 0.03, 0.91, 0.02, 0.01, 0.01},
			wantCat:   Road,
			wantScore: 0.91,
		},
		{
			name:      "tie goes to earlier category",
			d:         Distribution{0.05, 0.05, 0.05, 0.40, 0.40, 0.05},
			wantCat:   Sanitation,
			wantScore: 0.40,
		},
		{
			name:      "uniform picks first",
			d:         Uniform(),
			wantCat:   Building,
			wantScore: 1.0 / 6,
		},
		{
			name:      "last category",
			d:         Distribution{0.1, 0.1, 0.1, 0.1, 0.1, 0.5},
			wantCat:   WaterSupply,
			wantScore: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, s := tt.d.Top()
			if c != tt.wantCat {
				t.Errorf("Top() category = %s, want %s", c, tt.wantCat)
			}
			if s != tt.wantScore {
				t.Errorf("Top() score = %v, want %v", s, tt.wantScore)
			}
		})
	}
}

func TestDistribution_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		d       Distribution
		wantErr bool
	}{
		{"uniform", Uniform(), false},
		{"within tolerance", Distribution{0.5, 0.5, 0.0005, 0, 0, 0}, false},
		{"sum too low", Distribution{0.5, 0.3, 0, 0, 0, 0}, true},
		{"negative", Distribution{1.1, -0.1, 0, 0, 0, 0}, true},
		{"above one", Distribution{1.5, 0, 0, 0, 0, 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDistribution_Normalize(t *testing.T) {
	t.Parallel()

	d, ok := Distribution{2, 0, 6, -1, 0, 0}.Normalize()
	if !ok {
		t.Fatal("Normalize() ok = false")
	}
	if d[Building] != 0.25 || d[Road] != 0.75 || d[Sanitation] != 0 {
		t.Errorf("Normalize() = %v", d)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("normalized distribution invalid: %v", err)
	}

	if _, ok := (Distribution{}).Normalize(); ok {
		t.Error("Normalize() of zero distribution ok = true")
	}
}

func TestDistribution_JSON(t *testing.T) {
	t.Parallel()

	d := Distribution{0.1, 0.1, 0.5, 0.1, 0.1, 0.1}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"Road Department":0.5`) {
		t.Errorf("json = %s, want Road Department key", b)
	}

	var back Distribution
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != d {
		t.Errorf("round trip = %v, want %v", back, d)
	}

	missing := `{"Road Department":1}`
	if err := json.Unmarshal([]byte(missing), &back); err == nil {
		t.Error("Unmarshal with missing labels succeeded")
	}
}

func TestRecord_JSONUsesLabels(t *testing.T) {
	t.Parallel()

	r := Record{ID: "abc", PredictedCategory: WaterSupply, Urgency: UrgencyHigh, Status: StatusOpen, CategoryScores: Uniform()}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"predicted_category":"Water Supply Department"`) {
		t.Errorf("json = %s", b)
	}
}

func TestUrgency_Rank(t *testing.T) {
	t.Parallel()

	if !(UrgencyLow.Rank() < UrgencyMedium.Rank() && UrgencyMedium.Rank() < UrgencyHigh.Rank()) {
		t.Error("urgency ranks are not ordered low < medium < high")
	}
	if Urgency("urgent").Known() {
		t.Error(`Urgency("urgent").Known() = true`)
	}
	if _, err := ParseUrgency("critical"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseUrgency(critical) err = %v, want ErrValidation", err)
	}
	if u, err := ParseUrgency("medium"); err != nil || u != UrgencyMedium {
		t.Errorf("ParseUrgency(medium) = %q, %v", u, err)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"open", "in-progress", "closed"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q): %v", s, err)
		}
	}
	if _, err := ParseStatus("resolved"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseStatus(resolved) err = %v, want ErrValidation", err)
	}
}

func TestSubmission_Validate(t *testing.T) {
	t.Parallel()

	valid := func() Submission {
		return Submission{
			Description: "Large potholes on the main road",
			Location:    "MG Road, Sector 4",
			Submitter:   Identity{Name: "Asha", Email: "asha@example.com"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Submission)
		wantErr string
	}{
		{"valid", func(*Submission) {}, ""},
		{"valid override", func(s *Submission) { s.UrgencyOverride = UrgencyLow }, ""},
		{"short description", func(s *Submission) { s.Description = "hole" }, "description"},
		{"whitespace location", func(s *Submission) { s.Location = "   ab   " }, "location"},
		{"missing email", func(s *Submission) { s.Submitter.Email = "" }, "email"},
		{"malformed email", func(s *Submission) { s.Submitter.Email = "not an address" }, "not a valid address"},
		{"display name in email", func(s *Submission) { s.Submitter.Email = "Asha <asha@example.com>" }, "not a valid address"},
		{"missing name", func(s *Submission) { s.Submitter.Name = " " }, "name"},
		{"unknown override", func(s *Submission) { s.UrgencyOverride = "urgent" }, "urgency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		page, limit int
		want        ListFilter
	}{
		{0, 0, ListFilter{Limit: 10, Offset: 0}},
		{1, 10, ListFilter{Limit: 10, Offset: 0}},
		{3, 5, ListFilter{Limit: 5, Offset: 10}},
		{2, 500, ListFilter{Limit: 100, Offset: 100}},
		{-4, -1, ListFilter{Limit: 10, Offset: 0}},
		{92233720368547760, 100, ListFilter{Limit: 100, Offset: (MaxPage - 1) * 100}},
		{math.MaxInt, 1, ListFilter{Limit: 1, Offset: MaxPage - 1}},
	}
	for _, tt := range tests {
		got := Page("", tt.page, tt.limit)
		if got != tt.want {
			t.Errorf("Page(%d, %d) = %+v, want %+v", tt.page, tt.limit, got, tt.want)
		}
		if got.Offset < 0 {
			t.Errorf("Page(%d, %d) offset overflowed to %d", tt.page, tt.limit, got.Offset)
		}
	}
}
