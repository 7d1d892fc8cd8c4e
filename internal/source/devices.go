package source

import (
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"

	"beatline/internal/config"
)

// Function seams over the PortAudio device API, swapped in tests.
var (
	paDevices      = portaudio.Devices
	paDefaultInput = portaudio.DefaultInputDevice
)

// Initialize sets up the PortAudio subsystem. Must be called before any
// capture and paired with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}
	return nil
}

// Terminate shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// InputDevice resolves a capture device. MinDeviceID (-1) selects the
// system default input; other IDs index the PortAudio device list and
// must have input channels.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		device, err := paDefaultInput()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInputDevices, err)
		}
		return device, nil
	}

	devices, err := paDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("%w: invalid device ID %d", ErrNoInputDevices, deviceID)
	}
	device := devices[deviceID]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("%w: device %d (%s) has no input channels", ErrUnsupported, deviceID, device.Name)
	}
	return device, nil
}

// Device is a plain snapshot of a PortAudio device for listings.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Devices returns all PortAudio devices. The subsystem must already be
// initialized.
func Devices() ([]Device, error) {
	infos, err := paDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		}
	}
	return devices, nil
}

// DescribeDevices writes a human-readable device listing. For each
// device it shows the ID, name, direction, channel counts and default
// sample rate.
func DescribeDevices(w io.Writer) error {
	devices, err := Devices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")
	for _, device := range devices {
		direction := ""
		switch {
		case device.MaxInputChannels > 0 && device.MaxOutputChannels > 0:
			direction = "Input/Output"
		case device.MaxInputChannels > 0:
			direction = "Input"
		case device.MaxOutputChannels > 0:
			direction = "Output"
		}

		fmt.Fprintf(w, "[%d] %s (%s)\n", device.ID, device.Name, direction)
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", device.MaxInputChannels, device.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n\n", device.DefaultSampleRate)
	}
	return nil
}
