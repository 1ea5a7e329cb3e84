package output

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"github.com/aldas/go-isobus-client"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CSVOutput appends selected signal values of selected PGNs into CSV files. Each PGN is written to its own file
// named `<pgn>_<hash of field names>.csv` so changing field list starts a new file.
type CSVOutput struct {
	dir  string
	pgns []CSVPGNFields

	lock sync.Mutex
}

// NewCSVOutput creates CSV output writing files into given directory
func NewCSVOutput(dir string, pgns []CSVPGNFields) *CSVOutput {
	return &CSVOutput{dir: dir, pgns: pgns}
}

// PGNs returns PGNs that CSV output is configured for
func (o *CSVOutput) PGNs() []uint32 {
	result := make([]uint32, 0, len(o.pgns))
	for _, p := range o.pgns {
		result = append(result, p.PGN)
	}
	return result
}

// Write appends message as row when its PGN is configured for CSV output
func (o *CSVOutput) Write(msg isobus.Message) error {
	for _, p := range o.pgns {
		if p.PGN != msg.PGN {
			continue
		}
		values, ok, err := p.Match(msg)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		o.lock.Lock()
		err = writeCSV(filepath.Join(o.dir, p.FileName), p.Names, values)
		o.lock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(fileName string, names []string, values []string) error {
	fileExists := false
	fi, err := os.Stat(fileName)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("csv file check failure, err: %s", err)
	}
	if fi != nil {
		fileExists = true
		if fi.IsDir() {
			return fmt.Errorf("csv file overlaps with directory, file: %s", fileName)
		}
	}

	csvFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer csvFile.Close()

	csvwriter := csv.NewWriter(csvFile)

	if !fileExists {
		if err := csvwriter.Write(names); err != nil {
			return fmt.Errorf("csv failed to write header, err: %s", err)
		}
	}
	if err := csvwriter.Write(values); err != nil {
		return fmt.Errorf("csv failed to write row, err: %s", err)
	}
	csvwriter.Flush()

	return csvwriter.Error()
}

// CSVPGNFields is list of fields written for PGN
type CSVPGNFields struct {
	PGN      uint32
	FileName string
	Names    []string
	fields   []field
}

type field struct {
	name     string
	truncate time.Duration
}

// Match converts message to CSV row. Special fields `_time`, `_time_ms`, `_time_nano` (frame timestamp, optionally
// truncated as `_time_ms(100ms)`), `_src`, `_dst` and `_prio` are taken from frame, other fields are signal values.
// False is returned when message does not contain any of the signal fields. Error is returned when `_dst` is
// requested and frame header can not be decoded.
func (c CSVPGNFields) Match(msg isobus.Message) ([]string, bool, error) {
	if c.PGN != msg.PGN {
		return nil, false, nil
	}
	now := timestampToTime(msg.Info.Timestamp)

	hasSignal := false
	fields := make([]string, 0, len(c.fields))
	for _, fID := range c.fields {
		v := ""
		tmpNow := now
		if fID.truncate > 0 {
			tmpNow = now.Truncate(fID.truncate)
		}
		switch fID.name {
		case "_time":
			v = strconv.FormatInt(tmpNow.Unix(), 10)
		case "_time_ms":
			v = strconv.FormatInt(tmpNow.UnixMilli(), 10)
		case "_time_nano":
			v = strconv.FormatInt(tmpNow.UnixNano(), 10)
		case "_src":
			v = strconv.FormatInt(int64(msg.Info.Source), 10)
		case "_dst":
			header, err := msg.Info.Header()
			if err != nil {
				return nil, false, fmt.Errorf("csv field `_dst` for PGN %v: %w", msg.PGN, err)
			}
			v = strconv.FormatInt(int64(header.Destination), 10)
		case "_prio":
			v = strconv.FormatInt(int64(msg.Info.Priority), 10)
		default:
			if fv, ok := msg.SignalValues[fID.name]; ok {
				hasSignal = true
				if !(math.IsInf(fv, 0) || math.IsNaN(fv)) {
					v = strconv.FormatFloat(fv, 'g', -1, 64)
				}
			}
		}
		fields = append(fields, v)
	}
	if !hasSignal {
		return nil, false, nil
	}
	return fields, true, nil
}

// ParseCSVFields parses CSV output field definitions. Format is `<pgn>:<field>,<field>;<pgn>:<field>`. For example:
// `65267:_time_ms,Latitude,Longitude;61444:_time_ms(100ms),Engine speed`
func ParseCSVFields(raw string) ([]CSVPGNFields, error) {
	result := make([]CSVPGNFields, 0)
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ";")
	for _, p := range parts {
		pgnRaw, fieldsRaw, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		pgn, err := strconv.ParseUint(strings.TrimSpace(pgnRaw), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("csv fields: failed to parse PGN, err: %w", err)
		}

		tmpNames := make([]string, 0)
		tmpFields := make([]field, 0)
		for _, f := range strings.Split(fieldsRaw, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			var trunc time.Duration
			if strings.HasPrefix(f, "_time") {
				start := strings.IndexByte(f, '(')
				end := strings.LastIndexByte(f, ')')
				if start != -1 && start+1 < end {
					tRaw, err := time.ParseDuration(f[start+1 : end])
					if err != nil {
						return nil, fmt.Errorf("csv fields: invalid _time format, err: %w", err)
					}
					trunc = tRaw
				}
				if start != -1 {
					f = f[0:start]
				}
			}
			tmpFields = append(tmpFields, field{
				name:     f,
				truncate: trunc,
			})
			tmpNames = append(tmpNames, f)
		}
		if len(tmpNames) == 0 {
			continue
		}

		hashBytes := md5.Sum([]byte(strings.Join(tmpNames, ",")))
		hash := hex.EncodeToString(hashBytes[:])

		result = append(result, CSVPGNFields{
			PGN:      uint32(pgn),
			FileName: fmt.Sprintf("%v_%v.csv", pgn, hash),
			Names:    tmpNames,
			fields:   tmpFields,
		})
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}
