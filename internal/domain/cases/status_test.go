package cases

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatusDraft, StatusInProgress},
		{StatusDraft, StatusCancelled},
		{StatusInProgress, StatusComplete},
		{StatusInProgress, StatusCancelled},
		{StatusComplete, StatusInProgress},
		{StatusCancelled, StatusInProgress},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to string }{
		{StatusDraft, StatusComplete},
		{StatusComplete, StatusDraft},
		{StatusComplete, StatusCancelled},
		{StatusCancelled, StatusComplete},
		{StatusCancelled, StatusDraft},
		{StatusInProgress, StatusDraft},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be forbidden", tc.from, tc.to)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name          string
		current       string
		hasPrediction bool
		hasSavedRec   bool
		want          string
	}{
		{"empty case stays draft", StatusDraft, false, false, StatusDraft},
		{"prediction moves to in_progress", StatusDraft, true, false, StatusInProgress},
		{"saved recommendation completes", StatusInProgress, true, true, StatusComplete},
		{"complete is sticky", StatusComplete, true, false, StatusComplete},
		{"cancelled is sticky", StatusCancelled, true, true, StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.current, tc.hasPrediction, tc.hasSavedRec); got != tc.want {
				t.Errorf("DeriveStatus(%s, %v, %v) = %s, want %s",
					tc.current, tc.hasPrediction, tc.hasSavedRec, got, tc.want)
			}
		})
	}
}
