package cli

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/specialistvlad/audiogrid/internal/app"
	"github.com/spf13/cobra"
)

// Version is the current audiogrid version.
var Version = "0.3.0"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

type flagValues struct {
	configFile      string
	document        string
	saveDocument    string
	snapshotDB      string
	snapshotName    string
	snapshotKeep    int
	remoteURL       string
	remoteNamespace string
	remoteInsecure  bool
	sampleRate      float64
	bufferSize      int
	inputs          int
	outputs         int
	pollInterval    time.Duration
	runFor          time.Duration
	logFormat       string
	logLevel        string
	healthPort      int
}

// newRootCommand builds the audiogrid command. done receives the validated
// configuration; it is not called for --help or --version.
func newRootCommand(done func(*app.Config)) *cobra.Command {
	var fv flagValues
	defaults := app.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "audiogrid [DOCUMENT_PATH]",
		Short: "audiogrid - a real-time audio and MIDI processing graph",
		Long: `audiogrid renders a graph of audio and MIDI nodes against an audio device.

DOCUMENT_PATH is a graph document (.hcl) or a directory containing one. Without
it the last graph saved in the snapshot database is restored.`,
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.DefaultConfig()
			if fv.configFile != "" {
				if err := app.LoadConfigFile(fv.configFile, &cfg); err != nil {
					return &ExitError{Code: 2, Message: err.Error()}
				}
			}
			applyFlags(cmd, &fv, &cfg)
			if len(args) == 1 && !cmd.Flags().Changed("document") {
				cfg.DocumentPath = args[0]
			}
			cfg.LogFormat = strings.ToLower(cfg.LogFormat)
			cfg.LogLevel = strings.ToLower(cfg.LogLevel)

			config, err := app.NewConfig(cfg)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			slog.Debug("CLI parser finished successfully.", "config", config)
			done(config)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&fv.configFile, "config", "c", "", "Path to a YAML configuration file. Flags override its values.")
	f.StringVarP(&fv.document, "document", "d", "", "Path to the graph document or a directory containing one.")
	f.StringVar(&fv.saveDocument, "save", "", "Write the graph to this document file on exit.")
	f.StringVar(&fv.snapshotDB, "snapshot-db", "", "SQLite database keeping the last graph. Empty disables snapshots.")
	f.StringVar(&fv.snapshotName, "snapshot-name", defaults.SnapshotName, "Name the last graph is saved under.")
	f.IntVar(&fv.snapshotKeep, "snapshot-keep", defaults.SnapshotKeep, "Number of snapshots kept per name. 0 keeps all.")
	f.StringVar(&fv.remoteURL, "remote-url", "", "Socket.IO URL of a remote editor. Empty disables the bridge.")
	f.StringVar(&fv.remoteNamespace, "remote-namespace", "/", "Socket.IO namespace of the remote editor.")
	f.BoolVar(&fv.remoteInsecure, "remote-insecure", false, "Skip TLS certificate verification for the remote editor.")
	f.Float64Var(&fv.sampleRate, "sample-rate", defaults.Device.SampleRate, "Device sample rate in Hz.")
	f.IntVar(&fv.bufferSize, "buffer-size", defaults.Device.BufferSize, "Device buffer size in frames.")
	f.IntVar(&fv.inputs, "inputs", defaults.Device.InputChannels, "Number of device input channels.")
	f.IntVar(&fv.outputs, "outputs", defaults.Device.OutputChannels, "Number of device output channels.")
	f.DurationVar(&fv.pollInterval, "poll-interval", defaults.PollInterval, "Interval between controller housekeeping rounds.")
	f.DurationVar(&fv.runFor, "run-for", 0, "Stop after this duration. 0 runs until interrupted.")
	f.StringVar(&fv.logFormat, "log-format", defaults.LogFormat, "Log output format. Options: 'text' or 'json'.")
	f.StringVar(&fv.logLevel, "log-level", defaults.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	f.IntVar(&fv.healthPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")

	return cmd
}

// applyFlags copies the flags set on the command line onto cfg.
func applyFlags(cmd *cobra.Command, fv *flagValues, cfg *app.Config) {
	set := cmd.Flags().Changed
	if set("document") {
		cfg.DocumentPath = fv.document
	}
	if set("save") {
		cfg.SaveDocument = fv.saveDocument
	}
	if set("snapshot-db") {
		cfg.SnapshotPath = fv.snapshotDB
	}
	if set("snapshot-name") {
		cfg.SnapshotName = fv.snapshotName
	}
	if set("snapshot-keep") {
		cfg.SnapshotKeep = fv.snapshotKeep
	}
	if set("remote-url") {
		cfg.RemoteURL = fv.remoteURL
	}
	if set("remote-namespace") || cfg.RemoteNamespace == "" {
		cfg.RemoteNamespace = fv.remoteNamespace
	}
	if set("remote-insecure") {
		cfg.RemoteInsecure = fv.remoteInsecure
	}
	if set("sample-rate") {
		cfg.Device.SampleRate = fv.sampleRate
	}
	if set("buffer-size") {
		cfg.Device.BufferSize = fv.bufferSize
	}
	if set("inputs") {
		cfg.Device.InputChannels = fv.inputs
	}
	if set("outputs") {
		cfg.Device.OutputChannels = fv.outputs
	}
	if set("poll-interval") {
		cfg.PollInterval = fv.pollInterval
	}
	if set("run-for") {
		cfg.RunFor = fv.runFor
	}
	if set("log-format") {
		cfg.LogFormat = fv.logFormat
	}
	if set("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if set("healthcheck-port") {
		cfg.HealthcheckPort = fv.healthPort
	}
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	var parsed *app.Config
	cmd := newRootCommand(func(cfg *app.Config) { parsed = cfg })
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if parsed == nil {
		// --help or --version
		return nil, true, nil
	}
	return parsed, false, nil
}
