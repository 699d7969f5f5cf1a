package player

// SelectDevice picks the device to drive playback on: the currently active
// device first, else the first non-restricted device, else the first
// device. With no devices at all it returns ErrNoPlaybackDevice.
func SelectDevice(devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoPlaybackDevice
	}

	for _, d := range devices {
		if d.Active {
			return d, nil
		}
	}
	for _, d := range devices {
		if !d.Restricted {
			return d, nil
		}
	}
	return devices[0], nil
}
