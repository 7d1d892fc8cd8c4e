// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"beatline/internal/analysis"
	"beatline/internal/dsp"
	applog "beatline/internal/log"
	"beatline/pkg/bitint"
)

// Boundaries shared by validation and the capture layer.
const (
	MinDeviceID   = -1     // -1 selects the system default input device
	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MaxWindowSize = 8192   // Maximum analysis window (power of 2)

	MinMetronomeBPM = 40
	MaxMetronomeBPM = 220
)

// Config is the full runtime configuration, loaded from YAML with
// environment overrides applied on top.
type Config struct {
	LogLevel  string    `yaml:"log_level"` // "debug", "info", "warn", "error"
	Analysis  Analysis  `yaml:"analysis"`  // Beat and onset detection tuning.
	Capture   Capture   `yaml:"capture"`   // Audio input and windowing settings.
	Fallback  Fallback  `yaml:"fallback"`  // Synthetic metronome failover settings.
	Transport Transport `yaml:"transport"` // Outbound event delivery settings.
}

// Analysis tunes the beat, onset and quality estimators.
type Analysis struct {
	HistorySize      int      `yaml:"history_size"`              // Energy ring capacity for the adaptive threshold.
	Sensitivity      float64  `yaml:"sensitivity"`               // Stddev multiplier above mean energy.
	MinBeatInterval  Duration `yaml:"min_beat_interval"`         // Refractory period between beats.
	FluxHistorySize  int      `yaml:"flux_history_size"`         // Spectral flux ring capacity.
	FluxMultiplier   float64  `yaml:"flux_threshold_multiplier"` // Stddev multiplier above mean flux.
	FluxMinInterval  Duration `yaml:"flux_min_interval"`         // Refractory period between onsets.
	Smoothing        float64  `yaml:"smoothing"`                 // Quality EMA factor, close to 1 is slow.
	SilenceThreshold float64  `yaml:"silence_threshold"`         // RMS level below which input counts as silent.
}

// Capture holds audio input and spectral windowing settings.
type Capture struct {
	DeviceID          int     `yaml:"device_id"`          // PortAudio input device index (-1 for default).
	SampleRate        float64 `yaml:"sample_rate"`        // Sample rate in Hz.
	WindowSize        int     `yaml:"window_size"`        // Analysis window length, power of two.
	FramesPerBuffer   int     `yaml:"frames_per_buffer"`  // Capture chunk size delivered per callback.
	Channels          int     `yaml:"channels"`           // Input channels to open (analysis folds to mono).
	LowLatency        bool    `yaml:"low_latency"`        // Request the device's low latency profile.
	FFTWindow         string  `yaml:"fft_window"`         // Window function name ("hann", "hamming", ...).
	GateThreshold     float64 `yaml:"gate_threshold"`     // Peak amplitude below which the FFT is skipped.
	SpectrumSmoothing float64 `yaml:"spectrum_smoothing"` // Temporal smoothing on spectral magnitudes.
}

// Fallback controls the synthetic metronome failover.
type Fallback struct {
	AutoSilence  bool     `yaml:"auto_silence"`  // Engage the metronome after sustained silence.
	SilenceHold  Duration `yaml:"silence_hold"`  // How long silence must persist before failover.
	MetronomeBPM float64  `yaml:"metronome_bpm"` // Tempo used when no signature overrides it.
}

// Transport holds outbound delivery settings.
type Transport struct {
	WebsocketEnabled bool     `yaml:"websocket_enabled"`
	WebsocketAddr    string   `yaml:"websocket_addr"`     // Listen address for the /events endpoint.
	UDPEnabled       bool     `yaml:"udp_enabled"`        // Send payload packets over UDP.
	UDPTargetAddress string   `yaml:"udp_target_address"` // Target "host:port" for UDP packets.
	UDPSendInterval  Duration `yaml:"udp_send_interval"`  // Interval between UDP sends.
}

// Defaults returns the built-in configuration. Analysis defaults mirror
// the detector constants so a zero config file behaves identically to an
// absent one.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Analysis: Analysis{
			HistorySize:      analysis.DefaultHistorySize,
			Sensitivity:      analysis.DefaultSensitivity,
			MinBeatInterval:  Duration(analysis.DefaultMinBeatInterval),
			FluxHistorySize:  analysis.DefaultFluxHistorySize,
			FluxMultiplier:   analysis.DefaultFluxMultiplier,
			FluxMinInterval:  Duration(analysis.DefaultFluxMinInterval),
			Smoothing:        analysis.DefaultQualitySmoothing,
			SilenceThreshold: analysis.DefaultSilenceThreshold,
		},
		Capture: Capture{
			DeviceID:          MinDeviceID,
			SampleRate:        44100,
			WindowSize:        dsp.DefaultFFTSize,
			FramesPerBuffer:   512,
			Channels:          1,
			LowLatency:        false,
			FFTWindow:         "hann",
			GateThreshold:     dsp.DefaultGateThreshold,
			SpectrumSmoothing: dsp.DefaultSmoothing,
		},
		Fallback: Fallback{
			AutoSilence:  true,
			SilenceHold:  Duration(6500 * time.Millisecond),
			MetronomeBPM: 120,
		},
		Transport: Transport{
			WebsocketEnabled: false,
			WebsocketAddr:    ":8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  Duration(33 * time.Millisecond), // ~30Hz
		},
	}
}

// LoadConfig loads configuration from the YAML file at path. An empty
// path searches the working directory for "beatline.yaml" then
// "config.yaml" and falls back to defaults when neither exists.
// Environment overrides apply after the file, then the result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		for _, candidate := range []string{"beatline.yaml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error, fatal", c.LogLevel)
	}

	if c.Capture.SampleRate < MinSampleRate || c.Capture.SampleRate > MaxSampleRate {
		return fmt.Errorf("capture.sample_rate %.0f outside [%d, %d]", c.Capture.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if !bitint.IsPowerOfTwo(c.Capture.WindowSize) || c.Capture.WindowSize > MaxWindowSize {
		return fmt.Errorf("capture.window_size %d must be a power of two up to %d", c.Capture.WindowSize, MaxWindowSize)
	}
	if c.Capture.FramesPerBuffer <= 0 || c.Capture.FramesPerBuffer > c.Capture.WindowSize {
		return fmt.Errorf("capture.frames_per_buffer %d must be positive and at most the window size", c.Capture.FramesPerBuffer)
	}
	if c.Capture.Channels != 1 && c.Capture.Channels != 2 {
		return fmt.Errorf("capture.channels %d must be 1 or 2", c.Capture.Channels)
	}
	if c.Capture.DeviceID < MinDeviceID {
		return fmt.Errorf("capture.device_id %d is invalid", c.Capture.DeviceID)
	}
	if _, err := dsp.ParseWindowFunc(c.Capture.FFTWindow); err != nil {
		return fmt.Errorf("capture.fft_window: %w", err)
	}

	if c.Analysis.HistorySize <= 0 || c.Analysis.FluxHistorySize <= 0 {
		return fmt.Errorf("analysis history sizes must be positive")
	}
	if c.Analysis.Sensitivity <= 0 || c.Analysis.FluxMultiplier <= 0 {
		return fmt.Errorf("analysis threshold multipliers must be positive")
	}
	if c.Analysis.MinBeatInterval <= 0 || c.Analysis.FluxMinInterval <= 0 {
		return fmt.Errorf("analysis refractory intervals must be positive")
	}
	if c.Analysis.Smoothing < 0 || c.Analysis.Smoothing >= 1 {
		return fmt.Errorf("analysis.smoothing %.3f must be in [0, 1)", c.Analysis.Smoothing)
	}
	if c.Analysis.SilenceThreshold < 0 {
		return fmt.Errorf("analysis.silence_threshold must not be negative")
	}

	if c.Fallback.AutoSilence && c.Fallback.SilenceHold <= 0 {
		return fmt.Errorf("fallback.silence_hold must be positive when auto_silence is on")
	}
	if c.Fallback.MetronomeBPM < MinMetronomeBPM || c.Fallback.MetronomeBPM > MaxMetronomeBPM {
		return fmt.Errorf("fallback.metronome_bpm %.0f outside [%d, %d]", c.Fallback.MetronomeBPM, MinMetronomeBPM, MaxMetronomeBPM)
	}

	if c.Transport.WebsocketEnabled && c.Transport.WebsocketAddr == "" {
		return fmt.Errorf("transport.websocket_addr must be set when the websocket transport is enabled")
	}
	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address %q needs a host:port", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	return nil
}

// applyEnvOverrides maps BEATLINE_* environment variables over the
// loaded configuration. Unparseable values are logged and skipped.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("BEATLINE_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Debugf("Config: log_level overridden from env: %s", val)
	}
	if val, ok := os.LookupEnv("BEATLINE_DEVICE_ID"); ok {
		if id, err := strconv.Atoi(val); err == nil {
			c.Capture.DeviceID = id
			applog.Debugf("Config: capture.device_id overridden from env: %d", id)
		} else {
			applog.Warnf("Config: ignoring BEATLINE_DEVICE_ID=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("BEATLINE_SAMPLE_RATE"); ok {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Capture.SampleRate = rate
			applog.Debugf("Config: capture.sample_rate overridden from env: %.0f", rate)
		} else {
			applog.Warnf("Config: ignoring BEATLINE_SAMPLE_RATE=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("BEATLINE_AUTO_SILENCE"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Fallback.AutoSilence = b
			applog.Debugf("Config: fallback.auto_silence overridden from env: %v", b)
		} else {
			applog.Warnf("Config: ignoring BEATLINE_AUTO_SILENCE=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("BEATLINE_SILENCE_HOLD"); ok {
		if d, err := parseDurationValue(val); err == nil {
			c.Fallback.SilenceHold = d
			applog.Debugf("Config: fallback.silence_hold overridden from env: %s", d)
		} else {
			applog.Warnf("Config: ignoring BEATLINE_SILENCE_HOLD=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("BEATLINE_METRONOME_BPM"); ok {
		if bpm, err := strconv.ParseFloat(val, 64); err == nil {
			c.Fallback.MetronomeBPM = bpm
			applog.Debugf("Config: fallback.metronome_bpm overridden from env: %.0f", bpm)
		} else {
			applog.Warnf("Config: ignoring BEATLINE_METRONOME_BPM=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("BEATLINE_WS_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Transport.WebsocketEnabled = b
			applog.Debugf("Config: transport.websocket_enabled overridden from env: %v", b)
		}
	}
	if val, ok := os.LookupEnv("BEATLINE_WS_ADDR"); ok {
		c.Transport.WebsocketAddr = val
		applog.Debugf("Config: transport.websocket_addr overridden from env: %s", val)
	}
	if val, ok := os.LookupEnv("BEATLINE_UDP_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = b
			applog.Debugf("Config: transport.udp_enabled overridden from env: %v", b)
		}
	}
	if val, ok := os.LookupEnv("BEATLINE_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		applog.Debugf("Config: transport.udp_target_address overridden from env: %s", val)
	}
	if val, ok := os.LookupEnv("BEATLINE_UDP_SEND_INTERVAL"); ok {
		if d, err := parseDurationValue(val); err == nil {
			c.Transport.UDPSendInterval = d
			applog.Debugf("Config: transport.udp_send_interval overridden from env: %s", d)
		} else {
			applog.Warnf("Config: ignoring BEATLINE_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}
}
