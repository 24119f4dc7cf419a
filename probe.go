package vdec

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Candidate backend names per codec family, tried strictly in order. The
// software tables lead with the embedded-SoC decoders (Jetson, Rockchip,
// Raspberry Pi, generic V4L2) and end with the generic backend; under a
// hardware preference only the generic backend is tried, since acceleration
// is negotiated on it directly.
var softwareCandidates = map[VideoCodec][]string{
	VideoCodecH264: {"h264_nvv4l2", "h264_nvmpi", "h264_omx", "h264_v4l2m2m", "h264"},
	VideoCodecH265: {"hevc_nvv4l2", "hevc_nvmpi", "hevc_omx", "hevc_v4l2m2m", "hevc"},
	VideoCodecAV1:  {"libdav1d", "av1"},
}

var hardwareCandidates = map[VideoCodec][]string{
	VideoCodecH264: {"h264"},
	VideoCodecH265: {"hevc"},
	VideoCodecAV1:  {"av1"},
}

// DecoderCandidates returns the ordered backend names the probe will try for
// a codec family under the given acceleration preference. The returned slice
// is a copy.
func DecoderCandidates(codec VideoCodec, hardware bool) []string {
	table := softwareCandidates
	if hardware {
		table = hardwareCandidates
	}
	names := table[codec]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// probeDecoder walks the candidate list for the session's codec and returns
// the first backend the driver opens. Backends that are not compiled in are
// skipped silently; open failures are logged and the probe moves on. The
// chosen backend name is logged at Info.
func probeDecoder(drv Driver, cfg SessionConfig, log *logrus.Entry) (Decoder, error) {
	dcfg := DecoderConfig{
		Codec:                cfg.Codec,
		Width:                cfg.Width,
		Height:               cfg.Height,
		HardwareAcceleration: cfg.HardwareAcceleration,
		SliceThreading:       cfg.SliceThreading,
		ThreadCount:          cfg.ThreadCount,
		Logger:               log,
	}

	for _, name := range DecoderCandidates(cfg.Codec, cfg.HardwareAcceleration) {
		dec, err := drv.Open(name, dcfg)
		if err != nil {
			if errors.Is(err, ErrBackendUnavailable) {
				continue
			}
			log.WithFields(logrus.Fields{
				"backend": name,
				"error":   err,
			}).Debug("decoder backend failed to open")
			continue
		}

		log.WithFields(logrus.Fields{
			"backend": dec.BackendName(),
			"device":  dec.HardwareDevice(),
		}).Info("using decoder backend")
		return dec, nil
	}

	return nil, fmt.Errorf("%w: no backend opened for %s", ErrNoDecoder, cfg.Codec)
}
