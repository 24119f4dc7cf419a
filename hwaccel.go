package vdec

import (
	"io"

	"github.com/sirupsen/logrus"
)

// HardwareConfig describes one hardware configuration advertised by a
// decoder backend: the device kind it can use and the pixel format its
// frames will carry. Only configurations bound through a device context are
// usable here; others are ignored by the negotiator.
type HardwareConfig struct {
	DeviceType            DeviceType
	PixelFormat           PixelFormat
	SupportsDeviceContext bool
}

// device is an opened accelerator device handle. The decoder context and the
// transfer path share it; the owning driver maps Close onto the binding's
// own reference counting.
type device interface {
	io.Closer
	Type() DeviceType
}

// deviceFactory creates a device of the given type, or fails if the host
// cannot provide one.
type deviceFactory func(DeviceType) (device, error)

// negotiateDevice walks the backend's advertised configurations in order and
// returns the first device that can actually be created, together with the
// hardware pixel format frames will use. Creation failures are logged and
// the walk continues; exhausting the list returns (nil, PixelFormatNone),
// which callers treat as "use the software pixel format".
func negotiateDevice(configs []HardwareConfig, create deviceFactory, log *logrus.Entry) (device, PixelFormat) {
	for _, hc := range configs {
		if !hc.SupportsDeviceContext {
			continue
		}

		dev, err := create(hc.DeviceType)
		if err != nil {
			log.WithFields(logrus.Fields{
				"device": hc.DeviceType,
				"error":  err,
			}).Debug("hardware device creation failed")
			continue
		}

		log.WithFields(logrus.Fields{
			"device": hc.DeviceType,
			"format": hc.PixelFormat,
		}).Debug("hardware device created")
		return dev, hc.PixelFormat
	}
	return nil, PixelFormatNone
}

// chooseFormat returns the format-selection strategy installed on a decoder
// context after successful negotiation. The decoder invokes it during stream
// configuration with the formats it can produce; the strategy accepts only
// the negotiated hardware format and signals PixelFormatNone otherwise,
// which abandons this hardware attempt without touching the session.
func chooseFormat(want PixelFormat) func([]PixelFormat) PixelFormat {
	return func(offered []PixelFormat) PixelFormat {
		for _, pf := range offered {
			if pf == want {
				return pf
			}
		}
		return PixelFormatNone
	}
}
