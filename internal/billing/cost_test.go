package billing

import "testing"

func TestCountWords(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"Hello, world!", 2},
		{"It's a test", 4}, // apostrophe splits into word tokens
		{"  spaced   out  ", 2},
		{"version 2.0 shipped", 4},
	}
	for _, tc := range cases {
		if got := CountWords(tc.in); got != tc.want {
			t.Fatalf("CountWords(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPixelArea(t *testing.T) {
	if got := PixelArea(1000, 1000); got != 1_000_000 {
		t.Fatalf("PixelArea(1000,1000) = %d", got)
	}
	if got := PixelArea(-1, 100); got != 0 {
		t.Fatalf("negative dimensions must measure zero, got %d", got)
	}
	// large dimensions must not overflow 32-bit arithmetic
	if got := PixelArea(100_000, 100_000); got != 10_000_000_000 {
		t.Fatalf("PixelArea(100000,100000) = %d", got)
	}
}
