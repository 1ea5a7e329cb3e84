package definitions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"github.com/aldas/go-isobus-client"
	"io"
	"io/fs"
	"math"
	"strconv"
	"strings"
)

// OpcodeSelectorName is signal name that marks signal as opcode selector for its group
const OpcodeSelectorName = "pgn usage opcode"

var (
	// ErrInvalidTable is returned when definition table can not be parsed
	ErrInvalidTable = errors.New("invalid definition table")
)

var requiredColumns = []string{
	"pgn_id",
	"manufacturer",
	"pgn_length_bytes",
	"source_address",
	"opcode",
	"spn_name",
	"spn_description",
	"spn_start_position",
	"spn_bit_length",
	"scale_factor",
	"offset",
	"units",
}

// optional column
const columnSigned = "signed"

// GroupKey identifies group of signal definitions
type GroupKey struct {
	PGN           uint32
	Manufacturer  string
	PayloadLength int
	Source        uint8
}

// Record is single row of definition table
type Record struct {
	// Line is line number in source file
	Line int

	Opcode      isobus.Opcode
	Name        string
	Description string
	// Position is decimal "byte.bit" position where byte is 1-based
	Position  float64
	BitLength uint8
	Scale     float64
	Offset    float64
	Units     string
	Signed    bool
}

// IsOpcodeSelector returns true when record defines opcode selector field of the group
func (r Record) IsOpcodeSelector() bool {
	return strings.EqualFold(strings.TrimSpace(r.Name), OpcodeSelectorName)
}

// SignalSpec converts record to signal spec
func (r Record) SignalSpec() (isobus.SignalSpec, error) {
	pos, err := isobus.BitPositionFromDecimal(r.Position)
	if err != nil {
		return isobus.SignalSpec{}, fmt.Errorf("line %v: %w", r.Line, err)
	}
	s := isobus.SignalSpec{
		Name:        r.Name,
		Description: r.Description,
		Units:       r.Units,
		BitPosition: pos,
		BitWidth:    r.BitLength,
		Scale:       r.Scale,
		Offset:      r.Offset,
		Signed:      r.Signed,
	}
	if err := s.Validate(); err != nil {
		return isobus.SignalSpec{}, fmt.Errorf("line %v: %w", r.Line, err)
	}
	return s, nil
}

// Group is signal definitions with same key in order they appeared in table
type Group struct {
	Key     GroupKey
	Records []Record
}

// Table is parsed definition table. Groups are in order of first appearance.
type Table struct {
	Groups []Group
}

// Load loads definition table CSV file from filesystem
func Load(filesystem fs.FS, path string) (Table, error) {
	f, err := filesystem.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	return ParseCSV(f)
}

// ParseCSV parses definition table from CSV. First row is header naming the columns. Lines starting with `#` are
// comments.
func ParseCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Table{}, fmt.Errorf("%w: missing header row", ErrInvalidTable)
	}
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return Table{}, fmt.Errorf("%w: missing column `%v`", ErrInvalidTable, name)
		}
	}

	table := Table{}
	groupIndex := map[GroupKey]int{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		line, _ := reader.FieldPos(0)

		key, record, err := parseRow(columns, row, line)
		if err != nil {
			return Table{}, err
		}
		idx, ok := groupIndex[key]
		if !ok {
			idx = len(table.Groups)
			groupIndex[key] = idx
			table.Groups = append(table.Groups, Group{Key: key})
		}
		table.Groups[idx].Records = append(table.Groups[idx].Records, record)
	}
	return table, nil
}

type rowParser struct {
	columns map[string]int
	row     []string
	line    int
	err     error
}

func (p *rowParser) value(column string) string {
	idx, ok := p.columns[column]
	if !ok || idx >= len(p.row) {
		return ""
	}
	return strings.TrimSpace(p.row[idx])
}

func (p *rowParser) fail(column string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: line %v, column `%v`: %v", ErrInvalidTable, p.line, column, err)
	}
}

func (p *rowParser) uint(column string, bitSize int) uint64 {
	n, err := strconv.ParseUint(p.value(column), 10, bitSize)
	if err != nil {
		p.fail(column, err)
	}
	return n
}

func (p *rowParser) float(column string, def float64) float64 {
	raw := p.value(column)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(column, err)
	}
	return n
}

func (p *rowParser) bool(column string) bool {
	raw := p.value(column)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(column, err)
	}
	return b
}

func (p *rowParser) opcode(column string) isobus.Opcode {
	raw := p.value(column)
	if raw == "" {
		return isobus.NoOpcode
	}
	if n, err := strconv.ParseInt(raw, 0, 64); err == nil {
		return isobus.OpcodeValue(n)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		p.fail(column, fmt.Errorf("opcode is not an integer: `%v`", raw))
		return isobus.NoOpcode
	}
	return isobus.OpcodeValue(int64(f))
}

func parseRow(columns map[string]int, row []string, line int) (GroupKey, Record, error) {
	p := &rowParser{columns: columns, row: row, line: line}

	key := GroupKey{
		PGN:           uint32(p.uint("pgn_id", 32)),
		Manufacturer:  p.value("manufacturer"),
		PayloadLength: int(p.uint("pgn_length_bytes", 16)),
		Source:        uint8(p.uint("source_address", 8)),
	}
	record := Record{
		Line:        line,
		Opcode:      p.opcode("opcode"),
		Name:        p.value("spn_name"),
		Description: p.value("spn_description"),
		Position:    p.float("spn_start_position", 0),
		BitLength:   uint8(p.uint("spn_bit_length", 8)),
		Scale:       p.float("scale_factor", 1),
		Offset:      p.float("offset", 0),
		Units:       p.value("units"),
		Signed:      p.bool(columnSigned),
	}
	if record.Name == "" {
		p.fail("spn_name", errors.New("signal name is empty"))
	}
	return key, record, p.err
}

// GroupConfig converts group definitions to decoder config. Record named "PGN usage opcode" becomes opcode selector,
// other records are split by their opcode.
func (g Group) GroupConfig() (isobus.GroupConfig, error) {
	config := isobus.GroupConfig{
		PGN:           g.Key.PGN,
		Source:        g.Key.Source,
		Manufacturer:  g.Key.Manufacturer,
		PayloadLength: g.Key.PayloadLength,
		Signals:       map[isobus.Opcode][]isobus.SignalSpec{},
	}
	for _, r := range g.Records {
		s, err := r.SignalSpec()
		if err != nil {
			return isobus.GroupConfig{}, fmt.Errorf("PGN: %v, src: %v, %w", g.Key.PGN, g.Key.Source, err)
		}
		if r.IsOpcodeSelector() {
			config.OpcodeSelector = &s
			continue
		}
		config.Signals[r.Opcode] = append(config.Signals[r.Opcode], s)
	}
	return config, nil
}
