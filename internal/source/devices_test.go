package source

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gordonklaus/portaudio"

	"beatline/internal/config"
)

func stubDevices(t *testing.T, devices []*portaudio.DeviceInfo, enumErr error) {
	t.Helper()
	origDevices, origDefault := paDevices, paDefaultInput
	paDevices = func() ([]*portaudio.DeviceInfo, error) {
		return devices, enumErr
	}
	paDefaultInput = func() (*portaudio.DeviceInfo, error) {
		for _, d := range devices {
			if d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		return nil, errors.New("no default input device")
	}
	t.Cleanup(func() {
		paDevices, paDefaultInput = origDevices, origDefault
	})
}

func testDeviceList() []*portaudio.DeviceInfo {
	return []*portaudio.DeviceInfo{
		{Name: "Speakers", MaxInputChannels: 0, MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{Name: "Built-in Microphone", MaxInputChannels: 1, MaxOutputChannels: 0, DefaultSampleRate: 44100},
		{Name: "USB Interface", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 48000},
	}
}

func TestInputDeviceDefault(t *testing.T) {
	stubDevices(t, testDeviceList(), nil)

	device, err := InputDevice(config.MinDeviceID)
	if err != nil {
		t.Fatalf("InputDevice(-1): %v", err)
	}
	if device.Name != "Built-in Microphone" {
		t.Errorf("default device = %q, want the first input-capable one", device.Name)
	}
}

func TestInputDeviceByIndex(t *testing.T) {
	stubDevices(t, testDeviceList(), nil)

	device, err := InputDevice(2)
	if err != nil {
		t.Fatalf("InputDevice(2): %v", err)
	}
	if device.Name != "USB Interface" {
		t.Errorf("device = %q, want USB Interface", device.Name)
	}
}

func TestInputDeviceErrors(t *testing.T) {
	stubDevices(t, testDeviceList(), nil)

	if _, err := InputDevice(7); !errors.Is(err, ErrNoInputDevices) {
		t.Errorf("out-of-range ID: err = %v, want ErrNoInputDevices", err)
	}
	if _, err := InputDevice(0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("output-only device: err = %v, want ErrUnsupported", err)
	}
}

func TestInputDeviceNoDefault(t *testing.T) {
	stubDevices(t, nil, nil)

	_, err := InputDevice(config.MinDeviceID)
	if !errors.Is(err, ErrNoInputDevices) {
		t.Errorf("err = %v, want ErrNoInputDevices", err)
	}
}

func TestDevicesSnapshot(t *testing.T) {
	stubDevices(t, testDeviceList(), nil)

	devices, err := Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("got %d devices, want 3", len(devices))
	}
	if devices[1].ID != 1 || devices[1].Name != "Built-in Microphone" {
		t.Errorf("device 1 = %+v", devices[1])
	}
	if devices[2].MaxInputChannels != 2 || devices[2].DefaultSampleRate != 48000 {
		t.Errorf("device 2 = %+v", devices[2])
	}
}

func TestDevicesEnumerationError(t *testing.T) {
	stubDevices(t, nil, errors.New("host api down"))

	if _, err := Devices(); err == nil {
		t.Error("expected enumeration error")
	}
}

func TestDescribeDevices(t *testing.T) {
	stubDevices(t, testDeviceList(), nil)

	var buf bytes.Buffer
	if err := DescribeDevices(&buf); err != nil {
		t.Fatalf("DescribeDevices: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"[0] Speakers (Output)",
		"[1] Built-in Microphone (Input)",
		"[2] USB Interface (Input/Output)",
		"Default sample rate: 44100 Hz",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}
