package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/triage"
)

var _ triage.Store = (*Store)(nil)

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func rec(email string, offset time.Duration) *complaint.Record {
	return &complaint.Record{
		Name:              "Test User",
		Email:             email,
		Location:          "Ward 9, Sector 3",
		Description:       "Garbage not collected",
		Urgency:           complaint.UrgencyMedium,
		PredictedCategory: complaint.Sanitation,
		CategoryScores:    complaint.Uniform(),
		CreatedAt:         base.Add(offset),
		Status:            complaint.StatusOpen,
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	in := rec("a@example.com", 0)
	id, err := s.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" {
		t.Fatal("Insert returned empty id")
	}
	if in.ID != "" {
		t.Error("Insert mutated the caller's record")
	}

	got, ok, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if got.ID != id || got.Email != "a@example.com" || got.PredictedCategory != complaint.Sanitation {
		t.Errorf("Get = %+v", got)
	}

	// returned value is a copy
	got.Status = complaint.StatusClosed
	again, _, _ := s.Get(ctx, id)
	if again.Status != complaint.StatusOpen {
		t.Error("mutating a returned record changed the store")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_IdenticalRecordsGetDistinctIDs(t *testing.T) {
	t.Parallel()

	s := New()
	a, _ := s.Insert(context.Background(), rec("a@example.com", 0))
	b, _ := s.Insert(context.Background(), rec("a@example.com", 0))
	if a == b {
		t.Fatalf("duplicate id %q", a)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	// inserted out of chronological order
	idMid, _ := s.Insert(ctx, rec("a@example.com", time.Hour))
	idOld, _ := s.Insert(ctx, rec("b@example.com", 0))
	idNew, _ := s.Insert(ctx, rec("a@example.com", 2*time.Hour))

	all, err := s.List(ctx, complaint.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{idNew, idMid, idOld}
	if len(all) != len(want) {
		t.Fatalf("List len = %d, want %d", len(all), len(want))
	}
	for i, r := range all {
		if r.ID != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, r.ID, want[i])
		}
	}

	mine, _ := s.List(ctx, complaint.ListFilter{Email: "a@example.com"})
	if len(mine) != 2 || mine[0].ID != idNew || mine[1].ID != idMid {
		t.Errorf("List(email) = %v", ids(mine))
	}
}

func TestStore_ListPaging(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var inserted []string
	for i := range 7 {
		id, _ := s.Insert(ctx, rec("p@example.com", time.Duration(i)*time.Minute))
		inserted = append(inserted, id)
	}

	tests := []struct {
		name string
		f    complaint.ListFilter
		want []string
	}{
		{"first page", complaint.Page("", 1, 3), []string{inserted[6], inserted[5], inserted[4]}},
		{"second page", complaint.Page("", 2, 3), []string{inserted[3], inserted[2], inserted[1]}},
		{"partial last page", complaint.Page("", 3, 3), []string{inserted[0]}},
		{"past the end", complaint.Page("", 4, 3), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.List(ctx, tt.f)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if fmt.Sprint(ids(got)) != fmt.Sprint(tt.want) {
				t.Errorf("List = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestStore_SetStatus(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	id, _ := s.Insert(ctx, rec("a@example.com", 0))

	got, ok, err := s.SetStatus(ctx, id, complaint.StatusInProgress)
	if err != nil || !ok {
		t.Fatalf("SetStatus: ok=%v err=%v", ok, err)
	}
	if got.Status != complaint.StatusInProgress {
		t.Errorf("Status = %q", got.Status)
	}
	stored, _, _ := s.Get(ctx, id)
	if stored.Status != complaint.StatusInProgress {
		t.Errorf("stored Status = %q", stored.Status)
	}

	if _, ok, _ := s.SetStatus(ctx, "missing", complaint.StatusClosed); ok {
		t.Error("SetStatus on missing id reported ok")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Insert(ctx, rec(fmt.Sprintf("u%d@example.com", i%5), time.Duration(i)*time.Second))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.List(ctx, complaint.ListFilter{Limit: 10})
		}()
	}
	wg.Wait()

	if s.Len() != 50 {
		t.Errorf("Len() = %d, want 50", s.Len())
	}
	all, _ := s.List(ctx, complaint.ListFilter{})
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("List not sorted at %d", i)
		}
	}
}

func ids(rs []*complaint.Record) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
