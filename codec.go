package vdec

// VideoCodec identifies the compressed video codec family.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecH265
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical payload type for this codec.
// Note: Actual payload type is negotiated via SDP.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecH264:
		return 102
	case VideoCodecH265:
		return 104
	case VideoCodecAV1:
		return 35
	default:
		return 96
	}
}

// DeviceType identifies a hardware accelerator device kind, mirroring the
// device types FFmpeg can open. DeviceTypeNone means no accelerator.
type DeviceType int

const (
	DeviceTypeNone DeviceType = iota
	DeviceTypeVAAPI
	DeviceTypeVDPAU
	DeviceTypeCUDA
	DeviceTypeVideoToolbox
	DeviceTypeD3D11VA
	DeviceTypeQSV
	DeviceTypeDRM
)

func (d DeviceType) String() string {
	switch d {
	case DeviceTypeVAAPI:
		return "vaapi"
	case DeviceTypeVDPAU:
		return "vdpau"
	case DeviceTypeCUDA:
		return "cuda"
	case DeviceTypeVideoToolbox:
		return "videotoolbox"
	case DeviceTypeD3D11VA:
		return "d3d11va"
	case DeviceTypeQSV:
		return "qsv"
	case DeviceTypeDRM:
		return "drm"
	default:
		return "none"
	}
}

// DeviceTypeFromString maps a device name back to its DeviceType.
// Unrecognized names map to DeviceTypeNone.
func DeviceTypeFromString(s string) DeviceType {
	switch s {
	case "vaapi":
		return DeviceTypeVAAPI
	case "vdpau":
		return DeviceTypeVDPAU
	case "cuda":
		return DeviceTypeCUDA
	case "videotoolbox":
		return DeviceTypeVideoToolbox
	case "d3d11va":
		return DeviceTypeD3D11VA
	case "qsv":
		return DeviceTypeQSV
	case "drm":
		return DeviceTypeDRM
	default:
		return DeviceTypeNone
	}
}
