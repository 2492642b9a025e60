package provider

import (
	"fmt"

	"github.com/hraban/opus"

	"github.com/unalkalkan/pronounce/pkg/types"
)

// opusFrameMs is the fixed duration of one Opus frame in milliseconds
// (20ms, the libopus default); samplesPerPacket derives the per-frame
// sample count from it.
const opusFrameMs = 20

// defaultOggSerial is the Ogg logical bitstream serial number used for
// every stream this codec writes. Each segment/merge output is its own
// standalone file, so a fixed serial carries no collision risk.
const defaultOggSerial = 1

// OpusCodec implements AudioCodec on top of github.com/hraban/opus,
// wrapping the raw Opus packets it produces in an Ogg container per the
// Opus-in-Ogg mapping (RFC 7845): an OpusHead page, an OpusTags page,
// then one audio page per packet, the last page flagged end-of-stream.
type OpusCodec struct {
	config types.CodecConfig
}

// NewOpusCodec creates a codec bound to the configured sample rate,
// channel count, and target bitrate.
func NewOpusCodec(config types.CodecConfig) (*OpusCodec, error) {
	if config.SampleRate == 0 {
		config.SampleRate = 24000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.BitrateBps == 0 {
		config.BitrateBps = 32000
	}
	return &OpusCodec{config: config}, nil
}

func (c *OpusCodec) Name() string {
	return "opus"
}

// samplesPerPacket is the per-channel sample count of one fixed 20ms
// frame at the codec's configured sample rate, used both for framing PCM
// into packets and for granule-position accounting when muxing.
func (c *OpusCodec) samplesPerPacket() int {
	return c.config.SampleRate * opusFrameMs / 1000
}

// EncodeSegment resamples nothing (the Synthesizer is expected to already
// produce audio at the codec's configured sample rate), encodes pcm
// frame-by-frame into raw Opus packets, and muxes them into a standalone
// Ogg/Opus stream.
func (c *OpusCodec) EncodeSegment(pcm []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate != c.config.SampleRate || channels != c.config.Channels {
		return nil, fmt.Errorf("opus codec: pcm sample_rate/channels (%d/%d) do not match codec config (%d/%d)",
			sampleRate, channels, c.config.SampleRate, c.config.Channels)
	}

	packets, err := c.encodeRawPackets(pcm)
	if err != nil {
		return nil, err
	}
	return muxOpusStream(defaultOggSerial, c.config.SampleRate, c.config.Channels, packets, c.samplesPerPacket()), nil
}

// encodeRawPackets splits pcm into fixed 20ms frames (padding the final,
// short frame with silence) and Opus-encodes each one, returning the raw
// packets in encoding order with no container framing.
func (c *OpusCodec) encodeRawPackets(pcm []int16) ([][]byte, error) {
	enc, err := opus.NewEncoder(c.config.SampleRate, c.config.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus codec: new encoder: %w", err)
	}
	if err := enc.SetBitrate(c.config.BitrateBps); err != nil {
		return nil, fmt.Errorf("opus codec: set bitrate: %w", err)
	}

	frameLen := c.samplesPerPacket() * c.config.Channels
	data := make([]byte, 4000)
	var packets [][]byte

	for offset := 0; offset < len(pcm); offset += frameLen {
		end := offset + frameLen
		frame := pcm[offset:min(end, len(pcm))]
		if len(frame) < frameLen {
			padded := make([]int16, frameLen)
			copy(padded, frame)
			frame = padded
		}
		n, err := enc.Encode(frame, data)
		if err != nil {
			return nil, fmt.Errorf("opus codec: encode frame: %w", err)
		}
		packet := make([]byte, n)
		copy(packet, data[:n])
		packets = append(packets, packet)
	}

	return packets, nil
}

// Concat demuxes each already-encoded Ogg/Opus segment back to its raw
// audio packets (discarding its per-segment OpusHead/OpusTags), inserts
// pauseMs[i] worth of silence packets after every segment i but the
// last, and muxes the whole ordered packet stream into one merged
// Ogg/Opus stream.
func (c *OpusCodec) Concat(segments [][]byte, pauseMs []int) ([]byte, error) {
	var allPackets [][]byte
	for i, seg := range segments {
		packets, err := demuxOggPackets(seg)
		if err != nil {
			return nil, fmt.Errorf("opus codec: demux segment %d: %w", i, err)
		}
		allPackets = append(allPackets, stripOpusHeaderPackets(packets)...)

		if i < len(segments)-1 && i < len(pauseMs) && pauseMs[i] > 0 {
			silence, err := c.silencePackets(pauseMs[i])
			if err != nil {
				return nil, fmt.Errorf("opus codec: silence packets: %w", err)
			}
			allPackets = append(allPackets, silence...)
		}
	}
	return muxOpusStream(defaultOggSerial, c.config.SampleRate, c.config.Channels, allPackets, c.samplesPerPacket()), nil
}

// silencePackets encodes ms milliseconds of silence into raw Opus
// packets, rounded up to the nearest 20ms frame.
func (c *OpusCodec) silencePackets(ms int) ([][]byte, error) {
	samples := c.config.SampleRate * ms / 1000 * c.config.Channels
	pcm := make([]int16, samples)
	return c.encodeRawPackets(pcm)
}

func (c *OpusCodec) Close() error {
	return nil
}
