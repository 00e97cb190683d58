package securestore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/agrimon/agrimon/internal/errors"
)

// ArchiveRow is one time-bucketed aggregate in Parquet format. Archives
// hold summaries only, never raw values, so they can leave the encrypted
// store.
type ArchiveRow struct {
	SensorID string  `parquet:"sensor_id,zstd"`
	Period   string  `parquet:"period,zstd"`
	Count    int64   `parquet:"count"`
	Mean     float64 `parquet:"mean"`
	Min      float64 `parquet:"min"`
	Max      float64 `parquet:"max"`
	StdDev   float64 `parquet:"stddev"`
	Median   float64 `parquet:"median"`
}

// ExportArchive writes the per-sensor bucket aggregates for [start, end]
// to a zstd-compressed Parquet file and returns the number of rows
// written.
func (s *Store) ExportArchive(ctx context.Context, path string, start, end time.Time, interval string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "create archive directory: %v", err)
	}

	sensors, err := s.Sensors(ctx)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "create archive file: %v", err)
	}
	writer := parquet.NewGenericWriter[ArchiveRow](f, parquet.Compression(&parquet.Zstd))

	var written int64
	for _, sensorID := range sensors {
		buckets, err := s.AggregatedData(ctx, sensorID, start, end, interval)
		if err != nil {
			f.Close()
			return written, err
		}

		rows := make([]ArchiveRow, len(buckets))
		for i, b := range buckets {
			rows[i] = ArchiveRow{
				SensorID: sensorID,
				Period:   b.Period,
				Count:    int64(b.Summary.Count),
				Mean:     b.Summary.Mean,
				Min:      b.Summary.Min,
				Max:      b.Summary.Max,
				StdDev:   b.Summary.StdDev,
				Median:   b.Summary.Median,
			}
		}
		if len(rows) == 0 {
			continue
		}

		n, err := writer.Write(rows)
		if err != nil {
			f.Close()
			return written, errors.Wrapf(errors.ErrStorage, "write archive rows: %v", err)
		}
		written += int64(n)
	}

	if err := writer.Close(); err != nil {
		f.Close()
		return written, errors.Wrapf(errors.ErrStorage, "close archive writer: %v", err)
	}
	if err := f.Close(); err != nil {
		return written, errors.Wrapf(errors.ErrStorage, "close archive file: %v", err)
	}

	log.Info("archive exported", "path", path, "rows", written)
	return written, nil
}
