package normalize

import (
	"testing"

	"github.com/unalkalkan/pronounce/pkg/types"
)

func TestTextFoldsQuotesDashesAndEllipsesRegardlessOfQuoteMode(t *testing.T) {
	profile := types.DefaultReadingProfile()
	if profile.QuoteMode != "normal" {
		t.Fatalf("expected default reading profile quote_mode to be 'normal', got %q", profile.QuoteMode)
	}

	got := Text(`She said “hello” — then paused… “weird,” right?`, profile)
	want := `She said "hello" - then paused... "weird," right?`
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestTextPreservesParagraphBreaks(t *testing.T) {
	input := "First paragraph   spans\nseveral   lines.\n\nSecond paragraph here."
	got := Text(input, types.DefaultReadingProfile())
	want := "First paragraph spans several lines.\n\nSecond paragraph here."
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestTextDropsBlankParagraphs(t *testing.T) {
	input := "One.\n\n\n\n   \n\nTwo."
	got := Text(input, types.DefaultReadingProfile())
	want := "One.\n\nTwo."
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
