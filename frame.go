// Core frame and access-unit types used across the vdec package.
package vdec

import "image"

// PixelFormat represents video pixel formats, including the opaque
// hardware formats a hardware-accelerated decoder may produce.
type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatI420             // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12             // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatP010             // 10-bit YUV 4:2:0 semi-planar

	// Hardware formats. Frames carrying one of these keep their pixels in
	// accelerator memory; Data/Stride are empty and Native holds the
	// driver's frame handle.
	PixelFormatVAAPI
	PixelFormatVDPAU
	PixelFormatCUDA
	PixelFormatVideoToolbox
	PixelFormatD3D11
	PixelFormatQSV
	PixelFormatDRMPrime
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatP010:
		return "P010"
	case PixelFormatVAAPI:
		return "VAAPI"
	case PixelFormatVDPAU:
		return "VDPAU"
	case PixelFormatCUDA:
		return "CUDA"
	case PixelFormatVideoToolbox:
		return "VideoToolbox"
	case PixelFormatD3D11:
		return "D3D11"
	case PixelFormatQSV:
		return "QSV"
	case PixelFormatDRMPrime:
		return "DRMPrime"
	default:
		return "None"
	}
}

// IsHardware reports whether frames in this format are accelerator-resident.
func (p PixelFormat) IsHardware() bool {
	switch p {
	case PixelFormatVAAPI, PixelFormatVDPAU, PixelFormatCUDA,
		PixelFormatVideoToolbox, PixelFormatD3D11, PixelFormatQSV,
		PixelFormatDRMPrime:
		return true
	default:
		return false
	}
}

// PlaneCount returns the number of pixel planes for this format.
// Hardware formats report zero; their layout is driver-private.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12, PixelFormatP010:
		return 2 // Y, UV
	default:
		return 0
	}
}

// planeLayout returns tightly packed per-plane strides and heights for a
// CPU-resident format. Hardware formats return nil slices.
func (p PixelFormat) planeLayout(width, height int) (strides, heights []int) {
	cw := (width + 1) / 2
	ch := (height + 1) / 2
	switch p {
	case PixelFormatI420:
		return []int{width, cw, cw}, []int{height, ch, ch}
	case PixelFormatNV12:
		return []int{width, 2 * cw}, []int{height, ch}
	case PixelFormatP010:
		return []int{2 * width, 4 * cw}, []int{height, ch}
	default:
		return nil, nil
	}
}

// BufferSize returns the total byte size of a tightly packed frame in this
// format, or 0 for hardware formats.
func (p PixelFormat) BufferSize(width, height int) int {
	strides, heights := p.planeLayout(width, height)
	total := 0
	for i := range strides {
		total += strides[i] * heights[i]
	}
	return total
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	return PixelFormatI420.BufferSize(width, height)
}

// Frame represents one decoded video frame.
// The Data slices may point to decoder-owned memory; a frame returned by a
// session is valid only until the next ReceiveFrame call. Use Clone to keep
// pixels beyond that.
type Frame struct {
	Data      [][]byte    // Plane data (empty for hardware-resident frames)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Presentation timestamp passed through from the access unit
	Native    any         // Driver frame handle for hardware-resident frames
}

// IsHardware reports whether the frame's pixels are accelerator-resident.
func (f *Frame) IsHardware() bool {
	return f.Format.IsHardware()
}

// Clone creates a deep copy of the frame's CPU planes.
// Hardware-resident frames clone metadata only; Native is not carried over.
func (f *Frame) Clone() *Frame {
	clone := &Frame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// YCbCr returns the frame as an image.YCbCr sharing the frame's plane
// memory. Only planar 8-bit 4:2:0 frames (I420) can be viewed this way;
// other formats return nil. The image is valid as long as the frame is.
func (f *Frame) YCbCr() *image.YCbCr {
	if f.Format != PixelFormatI420 || len(f.Data) < 3 {
		return nil
	}
	return &image.YCbCr{
		Y:              f.Data[0],
		Cb:             f.Data[1],
		Cr:             f.Data[2],
		YStride:        f.Stride[0],
		CStride:        f.Stride[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
}

// FrameType indicates whether an access unit carries a keyframe or a delta
// frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// AccessUnit holds one decodable unit of compressed video, as handed over
// by the network depacketizer.
type AccessUnit struct {
	Data      []byte    // Compressed bitstream, one frame's worth
	Timestamp int64     // Presentation timestamp, passed through to the decoded frame
	FrameType FrameType // Optional caller hint; FrameTypeUnknown if not known
}

// Clone creates a deep copy of the access unit.
func (u *AccessUnit) Clone() *AccessUnit {
	clone := &AccessUnit{
		Timestamp: u.Timestamp,
		FrameType: u.FrameType,
	}
	if u.Data != nil {
		clone.Data = make([]byte, len(u.Data))
		copy(clone.Data, u.Data)
	}
	return clone
}
