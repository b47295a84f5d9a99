package handlers

import (
	"math"
	"strings"
	"testing"

	"memebot/internal/catalog"
	"memebot/internal/memeapi"
)

func memeOptionFixture(name, typ string, min, max *float64) catalog.MemeOption {
	return catalog.MemeOption{
		Name:        name,
		Type:        typ,
		Minimum:     min,
		Maximum:     max,
		ParserFlags: catalog.ParserFlags{Long: true, Short: true},
	}
}

func TestParseResizeArgs(t *testing.T) {
	tests := []struct {
		in     string
		width  int
		height int
		ok     bool
	}{
		{"100x200", 100, 200, true},
		{"100X200", 100, 200, true},
		{"100*200", 100, 200, true},
		{"100x", 100, 0, true},
		{"x200", 0, 200, true},
		{"abc", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, err := parseResizeArgs(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("parseResizeArgs(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if !tt.ok {
			continue
		}
		if got := deref(w); got != tt.width {
			t.Errorf("parseResizeArgs(%q) width = %d, want %d", tt.in, got, tt.width)
		}
		if got := deref(h); got != tt.height {
			t.Errorf("parseResizeArgs(%q) height = %d, want %d", tt.in, got, tt.height)
		}
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func TestParseCropArgs(t *testing.T) {
	info := memeapi.ImageInfo{Width: 400, Height: 200}

	tests := []struct {
		in                       string
		left, top, right, bottom int
		ok                       bool
	}{
		{"0,0,100,100", 0, 0, 100, 100, true},
		{"10 20 30 40", 10, 20, 30, 40, true},
		// centered 100x100 crop of a 400x200 image
		{"100x100", 150, 50, 250, 150, true},
		// 1:1 center crop limited by the short edge
		{"1:1", 100, 0, 300, 200, true},
		{"1比1", 100, 0, 300, 200, true},
		{"nonsense", 0, 0, 0, 0, false},
	}
	for _, tt := range tests {
		l, top, r, b, err := parseCropArgs(tt.in, info)
		if tt.ok != (err == nil) {
			t.Errorf("parseCropArgs(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && (l != tt.left || top != tt.top || r != tt.right || b != tt.bottom) {
			t.Errorf("parseCropArgs(%q) = (%d,%d,%d,%d), want (%d,%d,%d,%d)",
				tt.in, l, top, r, b, tt.left, tt.top, tt.right, tt.bottom)
		}
	}
}

func TestParseGifDurationArgs(t *testing.T) {
	avg := 0.1
	info := memeapi.ImageInfo{AverageDuration: &avg}

	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"20fps", 0.05, true},
		{"0.05s", 0.05, true},
		{"50ms", 0.05, true},
		{"2x", 0.05, true},
		{"2倍速", 0.05, true},
		{"200%", 0.05, true},
		{"0.5x", 0.2, true},
		{"gibberish", 0, false},
		// 100x of a 0.1s baseline lands under the 0.02s floor
		{"100x", 0, false},
	}
	for _, tt := range tests {
		got, err := parseGifDurationArgs(tt.in, info)
		if tt.ok != (err == nil) {
			t.Errorf("parseGifDurationArgs(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseGifDurationArgs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseGifDurationFloorMessage(t *testing.T) {
	avg := 0.1
	_, err := parseGifDurationArgs("100fps", memeapi.ImageInfo{AverageDuration: &avg})
	if err == nil || !strings.Contains(err.Error(), "0.02s") {
		t.Fatalf("err = %v, want frame interval floor message", err)
	}
}

func TestFormatMemeOptionFlagsAndRanges(t *testing.T) {
	minV, maxV := 0.0, 10.0
	out := formatMemeOption(memeOptionFixture("number", "integer", &minV, &maxV))
	for _, want := range []string{"--number", "-n", "<INTEGER>", "最小: 0", "最大: 10"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatMemeOption missing %q in %q", want, out)
		}
	}

	boolOut := formatMemeOption(memeOptionFixture("circle", "boolean", nil, nil))
	if strings.Contains(boolOut, "<BOOLEAN>") {
		t.Errorf("boolean options take no value placeholder: %q", boolOut)
	}
}
