// Package vdec decodes low-latency H.264, HEVC, and AV1 video streams, the
// kind a remote desktop or game streaming client receives, into raw frames.
//
// Key pieces include:
//   - Session: one elementary stream in, decoded frames out, with backend
//     probing, hardware acceleration, and a bounded frame ring
//   - DecodePipeline: a goroutine wrapping a Session with callbacks
//   - Access unit helpers: codec detection, keyframe detection, padding
//   - ProbeDevices for discovering usable hardware accelerators
//
// # Architecture
//
//	Decode: AccessUnitSource -> Session (probe -> decode -> transfer) -> Frame callback
//
// A Session probes a fixed candidate list of FFmpeg decoder backends per
// codec, most specific first, and keeps the first one that opens. With
// hardware acceleration enabled it binds an accelerator device (VAAPI,
// CUDA, VideoToolbox, ...) and either hands out accelerator-resident
// frames or transfers them to CPU memory on request.
//
// # Native Libraries
//
// By default the package uses purego (CGO_ENABLED=0) and loads
// libvdec_ffmpeg, a thin wrapper over libavcodec. Set VDEC_LIB_PATH to the
// directory containing the wrapper. With CGO enabled the package links
// libavcodec directly through go-astiav and the wrapper is not needed.
//
// # Build Tags
//
//   - noffmpeg: disable the FFmpeg backend entirely; sessions cannot open
//     but the bitstream helpers remain usable
//
// # Supported Codecs
//
// H.264, HEVC (H.265), and AV1. Backend availability depends on how the
// linked FFmpeg was built; vendor-specific backends (nvv4l2, nvmpi, omx,
// v4l2m2m, dav1d) are tried automatically where they apply.
package vdec
