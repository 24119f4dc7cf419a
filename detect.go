package vdec

// InputPadding is the number of zeroed bytes every access-unit buffer must
// carry beyond its length. Decoder look-ahead reads past the payload end;
// the slack keeps those reads in bounds (FFmpeg's input buffer padding).
const InputPadding = 64

// PadAccessUnit returns a copy of data whose backing array extends
// InputPadding zeroed bytes past its length, satisfying the Submit buffer
// contract. Callers that already over-allocate at source do not need it.
func PadAccessUnit(data []byte) []byte {
	out := make([]byte, len(data), len(data)+InputPadding)
	copy(out, data)
	return out
}

// DetectVideoCodec detects the video codec from one access unit.
// Supports detection of:
//   - H.264/AVC: Annex-B format (ITU-T H.264)
//   - H.265/HEVC: Annex-B format (ITU-T H.265)
//   - AV1: low-overhead OBU stream (AV1 Bitstream Specification)
//
// Returns VideoCodecUnknown if the codec cannot be determined.
func DetectVideoCodec(data []byte) VideoCodec {
	if len(data) < 4 {
		return VideoCodecUnknown
	}

	if isAnnexBStartCode(data) {
		nalus := SplitNALUs(data)
		if len(nalus) == 0 {
			return VideoCodecUnknown
		}
		header := nalus[0][0]
		if header&0x80 != 0 {
			// forbidden_zero_bit set in both H.264 and H.265
			return VideoCodecUnknown
		}
		if isH264NALType(header & 0x1F) {
			return VideoCodecH264
		}
		if isH265NALType(header >> 1 & 0x3F) {
			return VideoCodecH265
		}
		return VideoCodecUnknown
	}

	if isAV1OBU(data) {
		return VideoCodecAV1
	}

	return VideoCodecUnknown
}

// IsKeyframe reports whether the access unit carries a key frame the
// decoder can start (or restart) from:
//   - H.264: an IDR slice (NAL type 5)
//   - H.265: an IRAP slice (NAL types 16-21: BLA, IDR, CRA)
//   - AV1: a sequence-header OBU, which low-latency encoders emit with
//     every key frame
//
// Unknown codecs and undetectable payloads report false.
func IsKeyframe(codec VideoCodec, data []byte) bool {
	switch codec {
	case VideoCodecH264:
		for _, nalu := range SplitNALUs(data) {
			if nalu[0]&0x80 == 0 && nalu[0]&0x1F == 5 {
				return true
			}
		}
	case VideoCodecH265:
		for _, nalu := range SplitNALUs(data) {
			t := nalu[0] >> 1 & 0x3F
			if nalu[0]&0x80 == 0 && t >= 16 && t <= 21 {
				return true
			}
		}
	case VideoCodecAV1:
		return av1HasSequenceHeader(data)
	}
	return false
}

// SplitNALUs walks an Annex-B access unit and returns the NAL unit payloads
// without their start codes. Returns nil when data carries no start code.
// The returned slices alias data.
func SplitNALUs(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 && i > start {
				end := i
				// A 4-byte start code owns the zero before this one
				if end > start && data[end-1] == 0 {
					end--
				}
				if end > start {
					nalus = append(nalus, data[start:end])
				}
			}
			start = i + 3
			i += 3
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// isAnnexBStartCode checks for H.264/H.265 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (used at stream start and after certain NALUs)
//   - 3-byte start code: 0x000001 (used between NALUs)
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return false
}

// isH264NALType checks if NAL type is valid H.264.
// Per ITU-T H.264 Table 7-1, valid NAL unit types are:
//   - 1: Non-IDR slice, 2-4: Slice data partitions A/B/C
//   - 5: IDR slice, 6: SEI, 7: SPS, 8: PPS, 9: AUD, 10: End of seq, 11: End of stream, 12: Filler
//   - 19: Coded slice of aux picture, 20-21: Coded slice extensions
func isH264NALType(nalType byte) bool {
	return (nalType >= 1 && nalType <= 12) || (nalType >= 19 && nalType <= 21)
}

// isH265NALType checks if NAL type is valid H.265.
// Per ITU-T H.265 Table 7-1, types 0-31 are VCL (16-21 being the IRAP
// pictures a decoder can start from), 32-40 are VPS/SPS/PPS/AUD/SEI and
// friends; 41+ are reserved.
func isH265NALType(nalType byte) bool {
	return nalType <= 40
}

// isAV1OBU checks for AV1 OBU (Open Bitstream Unit) format.
// Per AV1 Bitstream Specification Section 5.3.2, OBU header is:
//   - obu_forbidden_bit (1 bit): must be 0
//   - obu_type (4 bits): 1=Seq header, 2=Temporal delimiter, 3=Frame header, 4=Tile group,
//     5=Metadata, 6=Frame, 7=Redundant frame header, 8=Tile list, 15=Padding
//   - obu_extension_flag (1 bit), obu_has_size_field (1 bit), obu_reserved_1bit (1 bit)
func isAV1OBU(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	obuForbidden := (data[0] >> 7) & 0x01
	obuType := (data[0] >> 3) & 0x0F
	if obuForbidden != 0 {
		return false
	}
	return (obuType >= 1 && obuType <= 8) || obuType == 15
}

// av1HasSequenceHeader walks the OBUs of a low-overhead AV1 access unit
// looking for a sequence-header OBU (type 1). OBUs without a size field
// extend to the end of the access unit, so the walk stops there.
func av1HasSequenceHeader(data []byte) bool {
	i := 0
	for i < len(data) {
		header := data[i]
		if header&0x80 != 0 {
			return false
		}
		obuType := (header >> 3) & 0x0F
		if obuType == 1 {
			return true
		}
		hasExtension := header&0x04 != 0
		hasSize := header&0x02 != 0
		i++
		if hasExtension {
			i++
		}
		if !hasSize {
			// Last OBU of the unit; nothing left to inspect.
			return false
		}
		if i >= len(data) {
			return false
		}
		size, n, ok := readLEB128(data[i:])
		if !ok || size > uint64(len(data)) {
			return false
		}
		i += n + int(size)
	}
	return false
}

// readLEB128 decodes an unsigned LEB128 value per AV1 Bitstream
// Specification Section 4.10.5. Returns the value, the number of bytes
// consumed, and whether decoding succeeded within the 8-byte limit.
func readLEB128(data []byte) (uint64, int, bool) {
	var value uint64
	for i := 0; i < 8 && i < len(data); i++ {
		b := data[i]
		value |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, true
		}
	}
	return 0, 0, false
}
