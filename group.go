package isobus

import (
	"fmt"
)

// GroupConfig is decoder definition for single PGN and source address pair.
type GroupConfig struct {
	PGN    uint32
	Source uint8
	// Manufacturer is informational and not used for decoding
	Manufacturer string
	// PayloadLength is expected message length in bytes. Lengths over 8 bytes are multi-frame messages and allow
	// signals past first 64 bits. Zero means single frame (8 bytes).
	PayloadLength int

	// OpcodeSelector is field that selects signal set for multiplexed payloads. Required when any signal set is keyed
	// by opcode other than NoOpcode.
	OpcodeSelector *SignalSpec
	Signals        map[Opcode][]SignalSpec
}

// GroupDecoder decodes all signals of single PGN and source address pair. GroupDecoder is immutable and safe for
// concurrent use.
type GroupDecoder struct {
	key            Key
	payloadLength  int
	opcodeSelector *SignalSpec
	signals        map[Opcode][]SignalSpec
}

// NewGroupDecoder creates decoder from config. Configuration is validated here so decoding itself never fails for
// configuration reasons.
func NewGroupDecoder(config GroupConfig) (*GroupDecoder, error) {
	maxBits := 64
	if config.PayloadLength > 8 {
		maxBits = config.PayloadLength * 8
	}

	if config.OpcodeSelector != nil {
		if err := validateSignal(config, *config.OpcodeSelector, 64); err != nil {
			return nil, err
		}
	}

	signals := make(map[Opcode][]SignalSpec, len(config.Signals))
	for opcode, specs := range config.Signals {
		if opcode.IsSet() && config.OpcodeSelector == nil {
			return nil, fmt.Errorf("%w: opcode decoder not found for PGN: %v, src: %v", ErrConfiguration, config.PGN, config.Source)
		}
		for _, s := range specs {
			if err := validateSignal(config, s, maxBits); err != nil {
				return nil, err
			}
		}
		signals[opcode] = append([]SignalSpec{}, specs...)
	}

	var selector *SignalSpec
	if config.OpcodeSelector != nil {
		tmp := *config.OpcodeSelector
		selector = &tmp
	}

	return &GroupDecoder{
		key:            Key{PGN: config.PGN, Source: config.Source},
		payloadLength:  config.PayloadLength,
		opcodeSelector: selector,
		signals:        signals,
	}, nil
}

func validateSignal(config GroupConfig, s SignalSpec, maxBits int) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("PGN: %v, src: %v, %w", config.PGN, config.Source, err)
	}
	if s.EndBit() > maxBits {
		return fmt.Errorf(
			"%w: PGN: %v, src: %v, signal `%v` ends at bit %v which is past payload end %v",
			ErrConfiguration, config.PGN, config.Source, s.Name, s.EndBit(), maxBits,
		)
	}
	return nil
}

// Key returns PGN and source address this decoder handles
func (d *GroupDecoder) Key() Key {
	return d.key
}

// PayloadLength returns expected payload length in bytes (0 for single frame)
func (d *GroupDecoder) PayloadLength() int {
	return d.payloadLength
}

// Signals returns signal definitions for given opcode
func (d *GroupDecoder) Signals(opcode Opcode) []SignalSpec {
	return append([]SignalSpec{}, d.signals[opcode]...)
}

// Opcode returns which signal set frame payload selects
func (d *GroupDecoder) Opcode(frame Frame) (Opcode, bool) {
	if d.opcodeSelector == nil {
		return NoOpcode, true
	}
	return opcodeFromDecoded(d.opcodeSelector.Decode(frame.PayloadBytes))
}

// Decode decodes all signals for frame. Unknown opcode results message with empty signal values. When multiple
// signals have same name last one wins.
func (d *GroupDecoder) Decode(frame Frame) (Message, bool, error) {
	if frame.PGN != d.key.PGN {
		return Message{}, false, fmt.Errorf("%w: invalid PGN, expected %v, got %v", ErrKeyMismatch, d.key.PGN, frame.PGN)
	}
	if frame.Source != d.key.Source {
		return Message{}, false, fmt.Errorf("%w: invalid source, expected %v, got %v", ErrKeyMismatch, d.key.Source, frame.Source)
	}

	var specs []SignalSpec
	if opcode, ok := d.Opcode(frame); ok {
		specs = d.signals[opcode]
	}

	values := make(map[string]float64, len(specs))
	for _, s := range specs {
		values[s.Name] = s.Decode(frame.PayloadBytes)
	}

	return Message{
		PGN:          d.key.PGN,
		Info:         frame,
		SignalValues: values,
	}, true, nil
}
