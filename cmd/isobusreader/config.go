package main

import (
	"errors"
	"fmt"
	"gopkg.in/yaml.v2"
	"os"
	"strconv"
	"strings"
)

const (
	inputFile      = "file"
	inputStdin     = "stdin"
	inputSerial    = "serial"
	inputSocketCAN = "socketcan"

	formatCapture  = "capture"
	formatRawASCII = "rawascii"

	outputJSON    = "json"
	outputCapture = "capture"
	outputNone    = "none"
)

// Config is isobusreader configuration. It is loaded from YAML file and flags override values from file.
type Config struct {
	// Definitions is path to message definitions CSV file
	Definitions string `yaml:"definitions"`
	// StaleAfter is max gap in seconds between fragments of multi-frame message
	StaleAfter float64  `yaml:"stale_after"`
	Filter     []uint32 `yaml:"filter,flow"`
	Debug      bool     `yaml:"debug"`
	// Verify replays capture file and compares decoded values against expectations recorded in file
	Verify bool `yaml:"verify"`

	Input struct {
		Kind   string `yaml:"kind"`
		Device string `yaml:"device"`
		Baud   int    `yaml:"baud"`
		// Format is line format of file, stdin and serial input. `capture` or Actisense `rawascii`
		Format string `yaml:"format"`
	} `yaml:"input"`

	Output struct {
		Format    string `yaml:"format"`
		CSVFields string `yaml:"csv_fields"`
		CSVDir    string `yaml:"csv_dir"`
	} `yaml:"output"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
		Measurement  string `yaml:"measurement"`
	} `yaml:"influxdb"`

	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
}

func defaultConfig() Config {
	c := Config{}
	c.Input.Kind = inputFile
	c.Input.Baud = 115200
	c.Input.Format = formatCapture
	c.Output.Format = outputJSON
	c.Output.CSVDir = "."
	return c
}

func loadConfig(path string) (Config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling yaml file: %w", err)
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Definitions == "" {
		return errors.New("missing definitions path")
	}
	switch c.Input.Kind {
	case inputStdin:
	case inputFile, inputSerial, inputSocketCAN:
		if c.Input.Device == "" {
			return fmt.Errorf("missing device for input kind: %v", c.Input.Kind)
		}
	default:
		return fmt.Errorf("unknown input kind: %v", c.Input.Kind)
	}
	switch c.Input.Format {
	case formatCapture, formatRawASCII:
	default:
		return fmt.Errorf("unknown input format: %v", c.Input.Format)
	}
	switch c.Output.Format {
	case outputJSON, outputCapture, outputNone:
	default:
		return fmt.Errorf("unknown output format: %v", c.Output.Format)
	}
	if c.Verify && c.Input.Kind != inputFile && c.Input.Kind != inputStdin {
		return errors.New("verify can only be used with file or stdin input")
	}
	if c.Verify && c.Input.Format != formatCapture {
		return errors.New("verify can only be used with capture input format")
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("stale_after can not be negative: %v", c.StaleAfter)
	}
	if c.InfluxDB.Host != "" && (c.InfluxDB.Organization == "" || c.InfluxDB.Bucket == "") {
		return errors.New("influxdb organization and bucket are required when host is set")
	}
	return nil
}

func string2intSlice(s string) ([]uint32, error) {
	result := make([]uint32, 0, 10)
	for _, p := range strings.Split(s, ",") {
		pgn, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		result = append(result, uint32(pgn))
	}
	return result, nil
}

func contains[T comparable](elems []T, v T) bool {
	for _, s := range elems {
		if v == s {
			return true
		}
	}
	return false
}
