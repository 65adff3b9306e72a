package statusui

import "testing"

func TestNearestTaskIDFindsCloseTypo(t *testing.T) {
	known := []string{"t400", "t401", "t500.2"}
	id, dist, ok := NearestTaskID("t4O0", known)
	if !ok {
		t.Fatalf("expected a close match to be found for a one-character typo")
	}
	if id != "t400" {
		t.Errorf("expected t400 as the nearest match, got %q", id)
	}
	if dist == 0 {
		t.Errorf("expected a nonzero distance for a typo, got 0")
	}
}

func TestNearestTaskIDExactMatch(t *testing.T) {
	known := []string{"t400", "t401"}
	id, dist, ok := NearestTaskID("t400", known)
	if !ok || id != "t400" || dist != 0 {
		t.Errorf("expected an exact match with distance 0, got id=%q dist=%d ok=%v", id, dist, ok)
	}
}

func TestNearestTaskIDNoKnownIDs(t *testing.T) {
	_, _, ok := NearestTaskID("t400", nil)
	if ok {
		t.Error("expected no match against an empty known set")
	}
}

func TestNearestTaskIDTooFarToSuggest(t *testing.T) {
	known := []string{"t400"}
	_, _, ok := NearestTaskID("completely-different-id", known)
	if ok {
		t.Error("expected a distant query not to be offered as a typo correction")
	}
}

func TestRenderTaskLookupBoxWithCorrection(t *testing.T) {
	out := RenderTaskLookupBox(TaskLookupViewModel{Query: "t4O0", TypoCorrection: "t400", TypoDistance: 1})
	if out == "" {
		t.Error("expected non-empty rendered output")
	}
}

func TestRenderTaskLookupBoxNoMatch(t *testing.T) {
	out := RenderTaskLookupBox(TaskLookupViewModel{Query: "bogus", NoMatch: true})
	if out == "" {
		t.Error("expected non-empty rendered output even with no suggestions")
	}
}
