package provider

import (
	"testing"

	"github.com/unalkalkan/pronounce/pkg/types"
)

func TestOpusCodecEncodeSegmentRejectsMismatchedFormat(t *testing.T) {
	codec, err := NewOpusCodec(types.CodecConfig{})
	if err != nil {
		t.Fatalf("NewOpusCodec: %v", err)
	}
	pcm := make([]int16, 480)
	if _, err := codec.EncodeSegment(pcm, 16000, 1); err == nil {
		t.Error("expected error for sample rate mismatch")
	}
}

func TestOpusCodecEncodeSegmentProducesValidOgg(t *testing.T) {
	codec, err := NewOpusCodec(types.CodecConfig{})
	if err != nil {
		t.Fatalf("NewOpusCodec: %v", err)
	}
	pcm := make([]int16, 24000) // 1 second of silence at 24kHz
	encoded, err := codec.EncodeSegment(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("EncodeSegment: %v", err)
	}
	if len(encoded) == 0 {
		t.Fatal("expected non-empty encoded stream")
	}
	if string(encoded[0:4]) != "OggS" {
		t.Fatalf("expected stream to start with the Ogg capture pattern, got %q", encoded[0:4])
	}

	packets, err := demuxOggPackets(encoded)
	if err != nil {
		t.Fatalf("demuxOggPackets: %v", err)
	}
	if len(packets) < 2 {
		t.Fatalf("expected at least OpusHead+OpusTags packets, got %d", len(packets))
	}
	if string(packets[0][:8]) != "OpusHead" {
		t.Errorf("expected first packet to be OpusHead, got %q", packets[0][:8])
	}
	if string(packets[1][:8]) != "OpusTags" {
		t.Errorf("expected second packet to be OpusTags, got %q", packets[1][:8])
	}

	audio := stripOpusHeaderPackets(packets)
	// 1s of audio at 20ms/frame should yield ~50 audio packets.
	if len(audio) < 45 || len(audio) > 55 {
		t.Errorf("expected roughly 50 audio packets, got %d", len(audio))
	}
}

func TestOpusCodecConcatInsertsSilenceBetweenSegments(t *testing.T) {
	codec, err := NewOpusCodec(types.CodecConfig{})
	if err != nil {
		t.Fatalf("NewOpusCodec: %v", err)
	}
	seg, err := codec.EncodeSegment(make([]int16, 2400), 24000, 1)
	if err != nil {
		t.Fatalf("EncodeSegment: %v", err)
	}

	withoutPause, err := codec.Concat([][]byte{seg, seg}, []int{0, 0})
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	withPause, err := codec.Concat([][]byte{seg, seg}, []int{150, 0})
	if err != nil {
		t.Fatalf("Concat with pause: %v", err)
	}
	if len(withPause) <= len(withoutPause) {
		t.Errorf("expected pause to add frames: withPause=%d withoutPause=%d", len(withPause), len(withoutPause))
	}

	// The last entry of pauseMs is documented as ignored.
	noTrailingPause, err := codec.Concat([][]byte{seg, seg}, []int{0, 500})
	if err != nil {
		t.Fatalf("Concat trailing pause: %v", err)
	}
	if len(noTrailingPause) != len(withoutPause) {
		t.Errorf("expected trailing pauseMs entry to be ignored, got %d want %d", len(noTrailingPause), len(withoutPause))
	}

	if string(withoutPause[0:4]) != "OggS" {
		t.Fatalf("expected merged output to start with the Ogg capture pattern, got %q", withoutPause[0:4])
	}
	packets, err := demuxOggPackets(withoutPause)
	if err != nil {
		t.Fatalf("demuxOggPackets merged stream: %v", err)
	}
	// One OpusHead/OpusTags pair for the whole merged stream, not one per segment.
	headerCount := 0
	for _, p := range packets {
		if len(p) >= 8 && (string(p[:8]) == "OpusHead" || string(p[:8]) == "OpusTags") {
			headerCount++
		}
	}
	if headerCount != 2 {
		t.Errorf("expected exactly one OpusHead+OpusTags pair in the merged stream, got %d header packets", headerCount)
	}
}

func TestDemuxOggPacketsRejectsGarbage(t *testing.T) {
	if _, err := demuxOggPackets([]byte("not an ogg stream")); err == nil {
		t.Error("expected error for non-Ogg input")
	}
}
