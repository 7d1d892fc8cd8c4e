// SPDX-License-Identifier: MIT
// Package cmd builds the beatline command tree and owns the tick loop
// that drives the engine while a run is live.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"beatline/internal/config"
	"beatline/internal/engine"
	"beatline/internal/event"
	applog "beatline/internal/log"
	"beatline/internal/rhythm"
	"beatline/internal/source"
	"beatline/internal/transport"
	"beatline/internal/transport/udp"
	"beatline/internal/tui"
	"beatline/pkg/build"
)

// tickInterval paces Engine.Update. 50 ticks a second stays well inside
// the detector refractory windows while keeping beat latency low.
const tickInterval = 20 * time.Millisecond

// options collects flag values until a command resolves them against
// the loaded config.
type options struct {
	configPath string
	deviceID   int
	sampleRate float64
	bpm        float64
	listenAddr string
	udpTarget  string
	recordPath string
	tuiMode    bool
	metronome  bool
	verbose    bool

	dropAfter time.Duration
	dropFor   time.Duration
}

// Execute parses the command line and runs the selected command. The
// bare binary behaves like "run".
func Execute() error {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "beatline",
		Short:         "Real-time rhythm analysis for live audio",
		Version:       build.Get().String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd, opts)
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze the live microphone input",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd, opts)
		},
	}

	trackCmd := &cobra.Command{
		Use:   "track <file>",
		Short: "Analyze an audio file (WAV, MP3, FLAC) on a playback clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, opts, args[0])
		},
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Analyze a rendered beat train, no hardware needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}
	simulateCmd.Flags().DurationVar(&opts.dropAfter, "drop-after", 0,
		"Mute the beat train this long into playback to script a silence failover")
	simulateCmd.Flags().DurationVar(&opts.dropFor, "drop-for", 8*time.Second,
		"How long the scripted dropout lasts")

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return source.DescribeDevices(os.Stdout)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(build.Get())
		},
	}

	rootCmd.AddCommand(runCmd, trackCmd, simulateCmd, devicesCmd, versionCmd)

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Config file path. Defaults to beatline.yaml then config.yaml in the working directory")
	rootCmd.PersistentFlags().IntVarP(&opts.deviceID, "device", "d", config.MinDeviceID,
		"Input device ID. Use 'devices' to see what is available")
	rootCmd.PersistentFlags().Float64VarP(&opts.sampleRate, "sample-rate", "s", 44100,
		"Capture sample rate in Hertz (Hz)")
	rootCmd.PersistentFlags().Float64VarP(&opts.bpm, "bpm", "b", 120,
		"Fallback metronome tempo")
	rootCmd.PersistentFlags().StringVarP(&opts.listenAddr, "listen", "w", "",
		"Serve rhythm events as JSON over WebSocket on this address")
	rootCmd.PersistentFlags().StringVarP(&opts.udpTarget, "udp", "u", "",
		"Stream snapshot packets to this UDP host:port")
	rootCmd.PersistentFlags().StringVarP(&opts.recordPath, "record", "r", "",
		"Record the capture input to this WAV file")
	rootCmd.PersistentFlags().BoolVarP(&opts.tuiMode, "tui", "t", false,
		"Show the live meter")
	rootCmd.PersistentFlags().BoolVarP(&opts.metronome, "metronome", "m", false,
		"Start on the synthetic metronome instead of a live source")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show debug output")

	rootCmd.SetArgs(os.Args[1:])
	return rootCmd.Execute()
}

func runLive(cmd *cobra.Command, opts *options) error {
	cfg, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	return runEngine(cfg, opts, func(eng *engine.Engine) error {
		if opts.metronome {
			eng.StartMetronome()
			return nil
		}
		eng.StartMicrophone()
		return nil
	})
}

func runTrack(cmd *cobra.Command, opts *options, path string) error {
	cfg, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	return runEngine(cfg, opts, func(eng *engine.Engine) error {
		eng.LoadTrack(path)
		return nil
	})
}

func runSimulate(cmd *cobra.Command, opts *options) error {
	cfg, err := setup(cmd, opts)
	if err != nil {
		return err
	}

	dropFor := opts.dropFor
	if opts.dropAfter <= 0 {
		dropFor = 0
	}

	return runEngine(cfg, opts, func(eng *engine.Engine) error {
		syn, err := source.NewSynthetic(cfg.Capture, cfg.Fallback.MetronomeBPM, opts.dropAfter, dropFor)
		if err != nil {
			return err
		}
		return eng.Attach(syn)
	})
}

// setup loads the config, layers changed flags on top, re-validates and
// applies the log level.
func setup(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Capture.DeviceID = opts.deviceID
	}
	if flags.Changed("sample-rate") {
		cfg.Capture.SampleRate = opts.sampleRate
	}
	if flags.Changed("bpm") {
		cfg.Fallback.MetronomeBPM = opts.bpm
	}
	if opts.listenAddr != "" {
		cfg.Transport.WebsocketEnabled = true
		cfg.Transport.WebsocketAddr = opts.listenAddr
	}
	if opts.udpTarget != "" {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = opts.udpTarget
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
	return cfg, nil
}

// runEngine owns one analysis run: engine, sinks, optional recording
// tap, then the tick loop until the meter quits or a signal arrives.
func runEngine(cfg *config.Config, opts *options, start func(*engine.Engine) error) error {
	bus := event.NewBus()
	eng := engine.NewEngine(cfg, bus, nil)
	defer eng.Close()

	closeSinks, err := openSinks(cfg, bus, eng)
	if err != nil {
		return err
	}
	defer closeSinks()

	if opts.recordPath != "" {
		// Recording can only begin once the microphone is live, so arm
		// it off the state channel. Re-fires after a retry reacquires
		// the device; the silence-recovery re-fire is a no-op.
		dispose := bus.OnStateChange(func(sc rhythm.StateChange) {
			if sc.State != rhythm.SourceMicrophone {
				return
			}
			err := eng.StartRecording(opts.recordPath)
			if err != nil && !errors.Is(err, source.ErrAlreadyRecording) {
				applog.Warnf("Main: recording not started: %v", err)
			}
		})
		defer dispose()
		defer func() {
			if err := eng.StopRecording(); err != nil {
				applog.Errorf("Main: finalizing recording: %v", err)
			}
		}()
	}

	if err := start(eng); err != nil {
		return err
	}

	if opts.tuiMode {
		return runWithMeter(bus, eng)
	}
	return runHeadless(eng)
}

// openSinks starts every configured outbound sink and returns a
// shutdown func that closes them in reverse order.
func openSinks(cfg *config.Config, bus *event.Bus, eng *engine.Engine) (func(), error) {
	var closers []func() error
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				applog.Warnf("Main: sink close: %v", err)
			}
		}
	}

	logSink := transport.NewLogSink(bus)
	if err := logSink.Start(); err != nil {
		return nil, err
	}
	closers = append(closers, logSink.Close)

	if cfg.Transport.WebsocketEnabled {
		hub := transport.NewHub(cfg.Transport.WebsocketAddr, bus)
		if err := hub.Start(); err != nil {
			shutdown()
			return nil, err
		}
		closers = append(closers, hub.Close)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			shutdown()
			return nil, err
		}
		closers = append(closers, sender.Close)

		pub, err := udp.NewPublisher(cfg.Transport.UDPSendInterval.Std(), sender, eng.Snapshot)
		if err != nil {
			shutdown()
			return nil, err
		}
		if err := pub.Start(); err != nil {
			shutdown()
			return nil, err
		}
		closers = append(closers, pub.Close)
	}

	return shutdown, nil
}

// runWithMeter ticks the engine from a side goroutine while the meter
// owns the terminal. Logs are muted for the duration; the meter shows
// the same state they would.
func runWithMeter(bus *event.Bus, eng *engine.Engine) error {
	applog.SetOutput(io.Discard)
	defer applog.SetOutput(os.Stderr)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				eng.Update(now)
			case <-done:
				return
			}
		}
	}()

	err := tui.RunMeter(bus, eng.Snapshot, eng.Signature)
	close(done)
	wg.Wait()
	return err
}

// runHeadless ticks the engine on the calling goroutine until an
// interrupt or termination signal arrives.
func runHeadless(eng *engine.Engine) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	applog.Infof("Main: analyzing, interrupt to stop")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			eng.Update(now)
		case <-stop:
			applog.Infof("Main: shutting down")
			return nil
		}
	}
}
