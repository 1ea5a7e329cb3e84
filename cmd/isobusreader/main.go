package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"github.com/aldas/go-isobus-client"
	"github.com/aldas/go-isobus-client/actisense"
	"github.com/aldas/go-isobus-client/capture"
	"github.com/aldas/go-isobus-client/definitions"
	"github.com/aldas/go-isobus-client/output"
	"github.com/aldas/go-isobus-client/server"
	"github.com/aldas/go-isobus-client/socketcan"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	configFile := flag.String("config", "", "YAML config file")
	definitionsPath := flag.String("definitions", "", "path to message definitions CSV file")
	inputKind := flag.String("input", "", "input kind (file, stdin, serial, socketcan)")
	inputFormat := flag.String("input-format", "", "line format of file, stdin or serial input (capture, rawascii)")
	deviceAddr := flag.String("device", "", "path to capture file, serial device (/dev/ttyUSB0) or SocketCAN interface (can0)")
	baudRate := flag.Int("baud", 0, "serial device baud rate")
	outputFormat := flag.String("output-format", "", "in which format decoded messages are printed out (json, capture, none)")
	pgnFilter := flag.String("filter", "", "comma separated list of PGNs to filter")
	csvFields := flag.String("csv-fields", "", "list of PGNs and their signals to be written in CSV. `65267:_time_ms,Latitude,Longitude;61444:_time_ms(100ms),Engine speed`")
	httpPort := flag.Int("http-port", 0, "port for HTTP API serving latest values, 0 disables")
	verify := flag.Bool("verify", false, "replays capture file and verifies decoded values against expectations in file")
	debug := flag.Bool("debug", false, "enables debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "definitions":
			cfg.Definitions = *definitionsPath
		case "input":
			cfg.Input.Kind = *inputKind
		case "input-format":
			cfg.Input.Format = *inputFormat
		case "device":
			cfg.Input.Device = *deviceAddr
		case "baud":
			cfg.Input.Baud = *baudRate
		case "output-format":
			cfg.Output.Format = *outputFormat
		case "csv-fields":
			cfg.Output.CSVFields = *csvFields
		case "http-port":
			cfg.HTTP.Port = *httpPort
		case "verify":
			cfg.Verify = *verify
		case "debug":
			cfg.Debug = *debug
		case "filter":
			filter, err := string2intSlice(*pgnFilter)
			if err != nil {
				logger.Fatal().Err(err).Msg("invalid pgn filter given")
			}
			cfg.Filter = filter
		}
	})
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	}
	if err := cfg.validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited program")
	}
}

func run(ctx context.Context, cfg Config, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) error {
	table, err := definitions.Load(os.DirFS(filepath.Dir(cfg.Definitions)), filepath.Base(cfg.Definitions))
	if err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}
	registry, err := definitions.BuildRegistryWithConfig(table, definitions.Config{
		Logger:     &logger,
		StaleAfter: cfg.StaleAfter,
	})
	if err != nil {
		return fmt.Errorf("failed to build decoders: %w", err)
	}
	logger.Info().Int("decoders", registry.Len()).Msg("loaded message definitions")

	if cfg.Verify {
		return verifyCapture(ctx, cfg, stdin, stdout, registry)
	}

	reader, err := openInput(cfg, stdin, logger)
	if err != nil {
		return err
	}
	var closeOnce sync.Once
	closeReader := func() {
		closeOnce.Do(func() {
			if err := reader.Close(); err != nil {
				logger.Debug().Err(err).Msg("failed to close input")
			}
		})
	}
	defer closeReader()

	store := output.NewStore()
	writers := output.Multi{store}
	switch cfg.Output.Format {
	case outputJSON:
		writers = append(writers, output.NewJSONOutput(stdout))
	case outputCapture:
		writers = append(writers, capture.NewWriter(stdout))
	}
	if cfg.Output.CSVFields != "" {
		fields, err := output.ParseCSVFields(cfg.Output.CSVFields)
		if err != nil {
			return err
		}
		writers = append(writers, output.NewCSVOutput(cfg.Output.CSVDir, fields))
	}
	if cfg.InfluxDB.Host != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.Host, cfg.InfluxDB.Token)
		defer client.Close()
		influxOutput := output.NewInfluxOutput(client.WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket), cfg.InfluxDB.Measurement)
		defer influxOutput.Flush()
		writers = append(writers, influxOutput)
	}

	eg, ctx := errgroup.WithContext(ctx)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	if cfg.HTTP.Port > 0 {
		srv := server.New(cfg.HTTP.Port, store, server.WithLogger(logger))
		eg.Go(func() error {
			return srv.Run(ctx)
		})
	}

	eg.Go(func() error {
		// blocking reads (serial, stdin) are interrupted by closing the reader
		<-readCtx.Done()
		closeReader()
		return nil
	})

	eg.Go(func() error {
		defer cancelRead()
		err := readLoop(readCtx, cfg, reader, registry, writers, store, logger)
		stats := store.Stats()
		logger.Info().
			Uint64("frames", stats.Frames).
			Uint64("messages", stats.Messages).
			Uint64("errors", stats.Errors).
			Msg("finished reading")
		if err == nil && cfg.HTTP.Port > 0 {
			logger.Info().Msg("input exhausted, serving HTTP API until interrupted")
		}
		return err
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func readLoop(
	ctx context.Context,
	cfg Config,
	reader isobus.FrameReader,
	registry *isobus.Registry,
	writer isobus.MessageWriter,
	store *output.Store,
	logger zerolog.Logger,
) error {
	errorCountRead := 0
	for {
		frame, err := reader.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			store.DecodeFailed()
			if errors.Is(err, isobus.ErrMalformedFrame) ||
				errors.Is(err, capture.ErrInvalidLine) ||
				errors.Is(err, actisense.ErrInvalidRawASCII) {
				logger.Warn().Err(err).Msg("skipping invalid frame")
				continue
			}
			errorCountRead++
			logger.Error().Err(err).Msg("failed to read frame")
			if errorCountRead > 20 {
				return err
			}
			continue
		}
		errorCountRead = 0
		store.FrameRead()

		if len(cfg.Filter) > 0 && !contains(cfg.Filter, frame.PGN) {
			continue
		}

		msg, ok, err := registry.DecodeFrame(frame)
		if err != nil {
			store.DecodeFailed()
			logger.Warn().Err(err).Str("raw", frame.RawMessage).Msg("failed to decode frame")
			continue
		}
		if !ok {
			continue
		}
		if err := writer.Write(msg); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
}

func openInput(cfg Config, stdin io.Reader, logger zerolog.Logger) (isobus.FrameReader, error) {
	switch cfg.Input.Kind {
	case inputStdin:
		return newLineReader(cfg.Input.Format, io.NopCloser(stdin), logger), nil
	case inputFile:
		f, err := os.Open(cfg.Input.Device)
		if err != nil {
			return nil, err
		}
		return newLineReader(cfg.Input.Format, f, logger), nil
	case inputSerial:
		port, err := serial.OpenPort(&serial.Config{
			Name: cfg.Input.Device,
			Baud: cfg.Input.Baud,
			Size: 8,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("device", cfg.Input.Device).Int("baud", cfg.Input.Baud).Msg("opened serial device")
		return newLineReader(cfg.Input.Format, port, logger), nil
	case inputSocketCAN:
		device := socketcan.NewDevice(socketcan.DeviceConfig{
			InterfaceName: cfg.Input.Device,
			Logger:        &logger,
		})
		if err := device.Initialize(); err != nil {
			return nil, err
		}
		logger.Info().Str("interface", cfg.Input.Device).Msg("opened SocketCAN interface")
		return device, nil
	}
	return nil, fmt.Errorf("unknown input kind: %v", cfg.Input.Kind)
}

func newLineReader(format string, reader io.ReadCloser, logger zerolog.Logger) isobus.FrameReader {
	if format == formatRawASCII {
		return actisense.NewRawASCIIDevice(reader, actisense.WithLogger(logger))
	}
	return capture.NewReader(reader)
}

func verifyCapture(ctx context.Context, cfg Config, stdin io.Reader, stdout io.Writer, registry *isobus.Registry) error {
	var source io.Reader = stdin
	if cfg.Input.Kind == inputFile {
		f, err := os.Open(cfg.Input.Device)
		if err != nil {
			return err
		}
		defer f.Close()
		source = f
	}

	report, err := capture.VerifyAll(ctx, capture.NewReader(source), registry)
	if err != nil {
		return err
	}
	for _, f := range report.Failures {
		fmt.Fprintf(stdout, "# FAIL %v\n", f.Error())
	}
	fmt.Fprintf(stdout, "# Verified lines: %v, messages: %v, failures: %v\n", report.Lines, report.Messages, len(report.Failures))
	if len(report.Failures) > 0 {
		return fmt.Errorf("verification failed for %v lines", len(report.Failures))
	}
	return nil
}
