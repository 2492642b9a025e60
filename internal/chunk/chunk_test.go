package chunk

import "testing"

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		cfg     Config
		wantLen int
	}{
		{
			name:    "short text is a single segment",
			text:    "Hello there. How are you?",
			cfg:     Config{TargetChars: 280, MaxChars: 400},
			wantLen: 1,
		},
		{
			name: "long text splits on sentence boundaries",
			text: "The quick brown fox jumps over the lazy dog. " +
				"This sentence is here to pad out the segment so it must split. " +
				"A third sentence keeps going to make sure we exceed max chars here too.",
			cfg:     Config{TargetChars: 40, MaxChars: 90},
			wantLen: 0, // checked via >1 below
		},
		{
			name:    "empty text yields no segments",
			text:    "   ",
			cfg:     Config{TargetChars: 280, MaxChars: 400},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.cfg)
			if tt.name == "long text splits on sentence boundaries" {
				if len(got) <= 1 {
					t.Fatalf("expected multiple segments, got %d: %v", len(got), got)
				}
				for _, seg := range got {
					if RuneLen(seg) > tt.cfg.MaxChars {
						t.Errorf("segment exceeds max_chars: %q (%d runes)", seg, RuneLen(seg))
					}
				}
				return
			}
			if len(got) != tt.wantLen {
				t.Errorf("Split() returned %d segments, want %d: %v", len(got), tt.wantLen, got)
			}
		})
	}
}

func TestSplitNeverCrossesParagraphBreaks(t *testing.T) {
	text := "First paragraph, short.\n\nSecond paragraph, also short."
	got := Split(text, Config{TargetChars: 280, MaxChars: 400})
	if len(got) != 2 {
		t.Fatalf("expected one segment per paragraph, got %d: %v", len(got), got)
	}
	if got[0] != "First paragraph, short." || got[1] != "Second paragraph, also short." {
		t.Errorf("unexpected segments: %v", got)
	}
}

func TestMergeShort(t *testing.T) {
	segments := []string{"Hi.", "This is a longer sentence that stands on its own.", "Ok."}
	merged := MergeShort(segments, 10)

	if len(merged) != 2 {
		t.Fatalf("expected short segments to merge into neighbors, got %d: %v", len(merged), merged)
	}
	for _, seg := range merged {
		if RuneLen(seg) < 10 {
			t.Errorf("segment still under min_segment_chars: %q", seg)
		}
	}
}

func TestMergeShortNoop(t *testing.T) {
	segments := []string{"This sentence is plenty long on its own."}
	merged := MergeShort(segments, 10)
	if len(merged) != 1 || merged[0] != segments[0] {
		t.Errorf("expected no change for a single already-long segment, got %v", merged)
	}
}
