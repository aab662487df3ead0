package database

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
)

var ErrMalformedFile = errors.New("malformed C-MAPSS file")

// FileKind selects the layout of a C-MAPSS text file.
type FileKind string

const (
	FileTrain FileKind = "train"
	FileTest  FileKind = "test"
	FileRUL   FileKind = "rul"
)

const batchSize = 500

// ImportCMAPSS loads one whitespace separated C-MAPSS file into its table.
// Training rows get rul = last cycle of the unit - cycle. RUL files carry one
// value per line, the line number being the unit number. It returns the number
// of rows written.
func (s *Store) ImportCMAPSS(ctx context.Context, kind FileKind, dataset string, r io.Reader) (int, error) {
	dataset = strings.ToUpper(strings.TrimSpace(dataset))
	if dataset == "" {
		return 0, fmt.Errorf("%w: dataset is required", ErrMalformedFile)
	}

	switch kind {
	case FileTrain:
		readings, err := parseReadings(r, dataset)
		if err != nil {
			return 0, err
		}
		last := map[int]int{}
		for _, rd := range readings {
			if rd.TimeInCycles > last[rd.UnitNumber] {
				last[rd.UnitNumber] = rd.TimeInCycles
			}
		}
		records := make([]TrainingRecord, len(readings))
		for i, rd := range readings {
			records[i] = TrainingRecord{Reading: rd, RUL: last[rd.UnitNumber] - rd.TimeInCycles}
		}
		return len(records), insertBatches(ctx, s.db, records)
	case FileTest:
		readings, err := parseReadings(r, dataset)
		if err != nil {
			return 0, err
		}
		records := make([]TestRecord, len(readings))
		for i, rd := range readings {
			records[i] = TestRecord{Reading: rd}
		}
		return len(records), insertBatches(ctx, s.db, records)
	case FileRUL:
		records, err := parseRUL(r, dataset)
		if err != nil {
			return 0, err
		}
		return len(records), insertBatches(ctx, s.db, records)
	default:
		return 0, fmt.Errorf("%w: unknown file kind %q", ErrMalformedFile, kind)
	}
}

func insertBatches[T any](ctx context.Context, db *bun.DB, records []T) error {
	if len(records) == 0 {
		return nil
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < len(records); start += batchSize {
			end := min(start+batchSize, len(records))
			batch := records[start:end]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("insert rows %d-%d: %w", start, end, err)
			}
		}
		return nil
	})
}

func parseReadings(r io.Reader, dataset string) ([]Reading, error) {
	var out []Reading
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < len(readingColumns) {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrMalformedFile, line, len(fields), len(readingColumns))
		}
		values := make([]float64, len(readingColumns))
		for i := range values {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %v", ErrMalformedFile, line, readingColumns[i], err)
			}
			values[i] = v
		}
		rd := Reading{Dataset: dataset}
		rd.setValues(values)
		out = append(out, rd)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return out, nil
}

func parseRUL(r io.Reader, dataset string) ([]RULRecord, error) {
	var out []RULRecord
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.Fields(text)[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: unit %d: %v", ErrMalformedFile, len(out)+1, err)
		}
		out = append(out, RULRecord{UnitNumber: len(out) + 1, Dataset: dataset, RUL: int(v)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return out, nil
}

// setValues assigns values in readingColumns order.
func (r *Reading) setValues(v []float64) {
	r.UnitNumber = int(v[0])
	r.TimeInCycles = int(v[1])
	r.OperationalSetting1 = v[2]
	r.OperationalSetting2 = v[3]
	r.OperationalSetting3 = v[4]
	r.SensorMeasurement1 = v[5]
	r.SensorMeasurement2 = v[6]
	r.SensorMeasurement3 = v[7]
	r.SensorMeasurement4 = v[8]
	r.SensorMeasurement5 = v[9]
	r.SensorMeasurement6 = v[10]
	r.SensorMeasurement7 = v[11]
	r.SensorMeasurement8 = v[12]
	r.SensorMeasurement9 = v[13]
	r.SensorMeasurement10 = v[14]
	r.SensorMeasurement11 = v[15]
	r.SensorMeasurement12 = v[16]
	r.SensorMeasurement13 = v[17]
	r.SensorMeasurement14 = v[18]
	r.SensorMeasurement15 = v[19]
	r.SensorMeasurement16 = v[20]
	r.SensorMeasurement17 = v[21]
	r.SensorMeasurement18 = v[22]
	r.SensorMeasurement19 = v[23]
	r.SensorMeasurement20 = v[24]
	r.SensorMeasurement21 = v[25]
}
