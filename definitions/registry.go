package definitions

import (
	"fmt"
	"github.com/aldas/go-isobus-client"
	"github.com/rs/zerolog"
)

const (
	// PGNGNSSPositionData is NMEA2000 GNSS Position Data PGN that is sent as 7 frames
	PGNGNSSPositionData = 129029
	// SourceGNSSReceiver is source address GNSS position data is decoded from
	SourceGNSSReceiver = 28
	// gnssPositionDataLength is message length in bytes
	gnssPositionDataLength = 51
)

// Config configures how registry is built from definition table
type Config struct {
	// Logger is used by registry and reassembling decoders. Defaults to no-op logger.
	Logger *zerolog.Logger
	// StaleAfter is maximum timestamp gap in seconds between fragments of multi-frame messages. Zero means default.
	StaleAfter float64
	// DisableBuiltins instructs not to register hard-coded decoders (PGN 129029)
	DisableBuiltins bool
}

// BuildRegistry creates registry with decoders for every group in definition table and builtin decoders.
func BuildRegistry(table Table) (*isobus.Registry, error) {
	return BuildRegistryWithConfig(table, Config{})
}

// BuildRegistryWithConfig creates registry with decoders for every group in definition table. When table has multiple
// groups with same PGN and source (but different manufacturer or length) the group that appears later is used.
func BuildRegistryWithConfig(table Table, config Config) (*isobus.Registry, error) {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}
	registry := isobus.NewRegistry(isobus.WithLogger(logger))

	for _, g := range table.Groups {
		gc, err := g.GroupConfig()
		if err != nil {
			return nil, err
		}
		decoder, err := isobus.NewGroupDecoder(gc)
		if err != nil {
			return nil, err
		}
		if _, exists := registry.Lookup(gc.PGN, gc.Source); exists {
			logger.Debug().
				Uint32("pgn", gc.PGN).
				Uint8("source", gc.Source).
				Str("manufacturer", gc.Manufacturer).
				Msg("replacing earlier definitions for PGN and source")
		}
		registry.Replace(decoder)
	}

	if !config.DisableBuiltins {
		opts := []isobus.ReassemblyOption{isobus.WithReassemblyLogger(logger)}
		if config.StaleAfter > 0 {
			opts = append(opts, isobus.WithStaleAfter(config.StaleAfter))
		}
		registry.Replace(GNSSPositionDecoder(opts...))
	}
	return registry, nil
}

// GNSSPositionDecoder creates decoder for PGN 129029 GNSS Position Data from source 28. Only high resolution latitude
// and longitude are decoded from the assembled message.
func GNSSPositionDecoder(opts ...isobus.ReassemblyOption) *isobus.ReassemblyDecoder {
	signals := make([]isobus.SignalSpec, 0, 2)
	for _, def := range []struct {
		name     string
		position float64
	}{
		{name: "Latitude", position: 9},
		{name: "Longitude", position: 17},
	} {
		s := isobus.MustSignalSpec(def.name, def.position, 64)
		s.Description = def.name
		s.Units = "deg"
		s.Scale = 1e-16
		s.Signed = true
		signals = append(signals, s)
	}

	decoder, err := isobus.NewGroupDecoder(isobus.GroupConfig{
		PGN:           PGNGNSSPositionData,
		Source:        SourceGNSSReceiver,
		PayloadLength: gnssPositionDataLength,
		Signals:       map[isobus.Opcode][]isobus.SignalSpec{isobus.NoOpcode: signals},
	})
	if err != nil {
		panic(fmt.Sprintf("builtin PGN %v definition is invalid: %v", PGNGNSSPositionData, err))
	}
	return isobus.NewReassemblyDecoder(decoder, opts...)
}
