package vdec

// ProbeDevices reports the hardware accelerator devices the default decode
// driver can open on this machine. An empty result means sessions opened
// with hardware acceleration will fall back to CPU decoding.
//
// Probing opens and immediately releases a device context per accelerator
// kind, so it is not free; callers should cache the result.
func ProbeDevices() []DeviceType {
	return ProbeDriverDevices("")
}

// ProbeDriverDevices reports the accelerator devices available through a
// named driver. An empty name selects the default driver. Unknown driver
// names report no devices.
func ProbeDriverDevices(driver string) []DeviceType {
	drv, err := driverFor(driver)
	if err != nil {
		return nil
	}
	return drv.Devices()
}
