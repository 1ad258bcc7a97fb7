package aqi

import "testing"

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		aqi  int
		want Category
	}{
		{0, Good},
		{50, Good},
		{51, Moderate},
		{100, Moderate},
		{101, UnhealthyForSensitiveGroups},
		{150, UnhealthyForSensitiveGroups},
		{151, Unhealthy},
		{200, Unhealthy},
		{201, VeryUnhealthy},
		{300, VeryUnhealthy},
		{301, Hazardous},
		{999, Hazardous},
	}

	for _, tt := range tests {
		if got := CategoryFor(tt.aqi); got != tt.want {
			t.Errorf("CategoryFor(%d) = %s, want %s", tt.aqi, got, tt.want)
		}
	}
}

func TestCategoryFor_PartitionsIntoSixContiguousIntervals(t *testing.T) {
	seen := map[Category]bool{}
	prev := CategoryFor(0)
	seen[prev] = true
	changes := 0
	for v := 1; v <= 1000; v++ {
		cur := CategoryFor(v)
		if cur.Severity() < prev.Severity() {
			t.Fatalf("category decreased at %d: %s -> %s", v, prev, cur)
		}
		if cur != prev {
			if seen[cur] {
				t.Fatalf("category %s reappeared at %d", cur, v)
			}
			if cur.Severity() != prev.Severity()+1 {
				t.Fatalf("category skipped at %d: %s -> %s", v, prev, cur)
			}
			changes++
		}
		seen[cur] = true
		prev = cur
	}
	if len(seen) != 6 || changes != 5 {
		t.Errorf("saw %d categories with %d transitions, want 6 and 5", len(seen), changes)
	}
}

func TestCategoryForValue_Truncates(t *testing.T) {
	if got := CategoryForValue(50.9); got != Good {
		t.Errorf("CategoryForValue(50.9) = %s, want Good", got)
	}
	if got := CategoryForValue(51.0); got != Moderate {
		t.Errorf("CategoryForValue(51.0) = %s, want Moderate", got)
	}
}

func TestCategoryColorAndAdvice(t *testing.T) {
	colors := map[string]bool{}
	for _, c := range Categories {
		if c.Advice() == "" {
			t.Errorf("%s has no advice", c)
		}
		colors[c.Color()] = true
	}
	if len(colors) != len(Categories) {
		t.Errorf("expected distinct colours per category, got %d", len(colors))
	}
	if Category("bogus").Severity() != -1 {
		t.Error("unknown category should have severity -1")
	}
}
