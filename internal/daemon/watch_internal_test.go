package daemon

import "testing"

func TestRelevant(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/d/20240501/vcam1/vcam1_12:00:00.000000.fits", true},
		{"/d/20240501/vcam1/vcam1_12:00:00.000000.fits.gz", true},
		{"/d/20240501/vcam1/vcam1_12:00:00.000000.txt", true},
		{"/d/20240501/vcam1/notes.md", false},
		{"/d/20240501/vcam1/vcam1_12:00:00.000000.fits.1714564800000000000", false},
	}
	for _, tc := range tests {
		if got := relevant(tc.path); got != tc.want {
			t.Errorf("relevant(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
