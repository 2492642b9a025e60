package provider

import (
	"encoding/binary"
	"fmt"
)

// This file implements just enough of RFC 3533 (the Ogg bitstream
// format) and RFC 7845 (the Opus-in-Ogg mapping) to write and read back
// the single-logical-stream files this codec produces: one Ogg stream,
// one Opus track, no chaining, no multiplexed tracks. No pack example
// vendors an Ogg muxer, so this rides only encoding/binary and a
// hand-rolled CRC32 (the checksum Ogg itself specifies, which is not the
// same polynomial/reflection as hash/crc32's IEEE table).

const (
	oggCapturePattern = "OggS"

	oggHeaderContinued = 0x01
	oggHeaderBOS       = 0x02
	oggHeaderEOS       = 0x04

	oggPageHeaderSize = 27
)

var oggCRCTable [256]uint32

func init() {
	const poly = 0x04c11db7
	for i := 0; i < 256; i++ {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r = r << 1
			}
		}
		oggCRCTable[i] = r
	}
}

// oggCRC computes Ogg's page checksum: a 32-bit CRC with polynomial
// 0x04c11db7, no reflection, zero initial value, no final XOR.
func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// oggLacingValues returns the segment-table entries for one packet of
// the given length, per Ogg's lacing rule: as many 255s as fit, then one
// terminating value in [0,254].
func oggLacingValues(length int) []byte {
	var out []byte
	for length >= 255 {
		out = append(out, 255)
		length -= 255
	}
	out = append(out, byte(length))
	return out
}

// buildOggPage serializes one Ogg page carrying packets, computing and
// patching in the page checksum last (it must be zero during the CRC
// pass per RFC 3533 §6).
func buildOggPage(serial, seq uint32, granule int64, headerType byte, packets [][]byte) ([]byte, error) {
	var segTable []byte
	var body []byte
	for _, p := range packets {
		segTable = append(segTable, oggLacingValues(len(p))...)
		body = append(body, p...)
	}
	if len(segTable) > 255 {
		return nil, fmt.Errorf("ogg: page segment table overflow (%d segments)", len(segTable))
	}

	page := make([]byte, oggPageHeaderSize+len(segTable)+len(body))
	copy(page[0:4], oggCapturePattern)
	page[4] = 0 // stream structure version
	page[5] = headerType
	binary.LittleEndian.PutUint64(page[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(page[14:18], serial)
	binary.LittleEndian.PutUint32(page[18:22], seq)
	// page[22:26] (checksum) left zero for the CRC pass
	page[26] = byte(len(segTable))
	copy(page[27:27+len(segTable)], segTable)
	copy(page[27+len(segTable):], body)

	crc := oggCRC(page)
	binary.LittleEndian.PutUint32(page[22:26], crc)
	return page, nil
}

// opusHeadPacket builds the mandatory first packet of an Opus-in-Ogg
// stream (RFC 7845 §5.1).
func opusHeadPacket(channels, sampleRate int) []byte {
	buf := make([]byte, 19)
	copy(buf[0:8], "OpusHead")
	buf[8] = 1 // version
	buf[9] = byte(channels)
	binary.LittleEndian.PutUint16(buf[10:12], 0) // pre-skip
	binary.LittleEndian.PutUint32(buf[12:16], uint32(sampleRate))
	binary.LittleEndian.PutUint16(buf[16:18], 0) // output gain
	buf[18] = 0                                  // channel mapping family (single stream)
	return buf
}

// opusTagsPacket builds the mandatory second packet (RFC 7845 §5.2): the
// vendor string "pronounce" followed by an empty comment list.
func opusTagsPacket() []byte {
	vendor := []byte("pronounce")
	buf := make([]byte, 0, 8+4+len(vendor)+4)
	buf = append(buf, []byte("OpusTags")...)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(vendor)))
	buf = append(buf, lenBuf...)
	buf = append(buf, vendor...)
	binary.LittleEndian.PutUint32(lenBuf, 0) // zero comments
	buf = append(buf, lenBuf...)
	return buf
}

// muxOpusStream wraps audioPackets (raw Opus packets, one per fixed
// samplesPerPacket-sample frame) into a complete Ogg/Opus stream: a BOS
// page carrying OpusHead, a page carrying OpusTags, one page per audio
// packet with a running 48kHz-referenced granule position (RFC 7845
// §4's clock, independent of the encoder's actual sample rate), and EOS
// set on the final page.
func muxOpusStream(serial uint32, sampleRate, channels int, audioPackets [][]byte, samplesPerPacket int) []byte {
	var out []byte

	head, _ := buildOggPage(serial, 0, 0, oggHeaderBOS, [][]byte{opusHeadPacket(channels, sampleRate)})
	out = append(out, head...)

	tagsHeaderType := byte(0)
	if len(audioPackets) == 0 {
		tagsHeaderType = oggHeaderEOS
	}
	tags, _ := buildOggPage(serial, 1, 0, tagsHeaderType, [][]byte{opusTagsPacket()})
	out = append(out, tags...)

	granuleStep := int64(samplesPerPacket) * 48000 / int64(sampleRate)
	var granule int64
	seq := uint32(2)
	for i, packet := range audioPackets {
		granule += granuleStep
		headerType := byte(0)
		if i == len(audioPackets)-1 {
			headerType = oggHeaderEOS
		}
		page, err := buildOggPage(serial, seq, granule, headerType, [][]byte{packet})
		if err != nil {
			// A single Opus packet never approaches the 255-segment cap
			// (max ~65KB), so this only fires on a malformed packet.
			continue
		}
		out = append(out, page...)
		seq++
	}

	return out
}

// demuxOggPackets walks an Ogg stream's pages in order and reassembles
// the packets they carry, including packets that continue across a page
// boundary.
func demuxOggPackets(data []byte) ([][]byte, error) {
	var packets [][]byte
	var current []byte

	offset := 0
	for offset < len(data) {
		if offset+oggPageHeaderSize > len(data) || string(data[offset:offset+4]) != oggCapturePattern {
			return nil, fmt.Errorf("ogg: bad capture pattern at offset %d", offset)
		}
		numSeg := int(data[offset+26])
		segTableStart := offset + oggPageHeaderSize
		if segTableStart+numSeg > len(data) {
			return nil, fmt.Errorf("ogg: truncated segment table at offset %d", offset)
		}
		segTable := data[segTableStart : segTableStart+numSeg]

		pos := segTableStart + numSeg
		for _, segLen := range segTable {
			if pos+int(segLen) > len(data) {
				return nil, fmt.Errorf("ogg: truncated packet data at offset %d", pos)
			}
			current = append(current, data[pos:pos+int(segLen)]...)
			pos += int(segLen)
			if segLen < 255 {
				packets = append(packets, current)
				current = nil
			}
		}
		offset = pos
	}

	return packets, nil
}

// stripOpusHeaderPackets drops the OpusHead/OpusTags packets a
// standalone Opus-in-Ogg stream starts with, leaving only audio packets.
func stripOpusHeaderPackets(packets [][]byte) [][]byte {
	audio := make([][]byte, 0, len(packets))
	for _, p := range packets {
		if len(p) >= 8 {
			switch string(p[:8]) {
			case "OpusHead", "OpusTags":
				continue
			}
		}
		audio = append(audio, p)
	}
	return audio
}
