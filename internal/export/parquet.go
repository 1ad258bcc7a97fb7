// Package export writes supervised training frames as Parquet datasets.
package export

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lox/aqiforecast/internal/features"
	"github.com/lox/aqiforecast/internal/fileutil"
)

// TrainingRecord is one supervised sample as stored on disk.
type TrainingRecord struct {
	Time        int64    `parquet:"name=time,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	PM25        float64  `parquet:"name=pm25,type=DOUBLE"`
	PM10        *float64 `parquet:"name=pm10,type=DOUBLE,repetitiontype=OPTIONAL"`
	NO2         *float64 `parquet:"name=no2,type=DOUBLE,repetitiontype=OPTIONAL"`
	Temperature *float64 `parquet:"name=temperature,type=DOUBLE,repetitiontype=OPTIONAL"`
	Humidity    *float64 `parquet:"name=humidity,type=DOUBLE,repetitiontype=OPTIONAL"`
	WindSpeed   *float64 `parquet:"name=wind_speed,type=DOUBLE,repetitiontype=OPTIONAL"`
	AQIExternal *float64 `parquet:"name=aqi_external,type=DOUBLE,repetitiontype=OPTIONAL"`
	Hour        int32    `parquet:"name=hour,type=INT32"`
	DayOfWeek   int32    `parquet:"name=dayofweek,type=INT32"`
	Month       int32    `parquet:"name=month,type=INT32"`
	AQI         float64  `parquet:"name=aqi,type=DOUBLE"`
	Target      float64  `parquet:"name=target,type=DOUBLE"`
	TargetTime  int64    `parquet:"name=target_time,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// Writer exports each horizon's training frame to dir.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Path returns the dataset file for a horizon.
func (w *Writer) Path(horizon int) string {
	return filepath.Join(w.dir, fmt.Sprintf("training_data_%dh.parquet", horizon))
}

// ExportTrainingFrame writes samples to training_data_{h}h.parquet, replacing
// any previous export atomically.
func (w *Writer) ExportTrainingFrame(horizon int, samples []features.Sample, columns []string) error {
	path := w.Path(horizon)
	err := fileutil.WriteAtomic(path, 0644, func(out io.Writer) error {
		return writeRecords(out, samples)
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", filepath.Base(path), err)
	}
	log.Printf("export: wrote %d samples to %s (features: %s)", len(samples), path, strings.Join(columns, ","))
	return nil
}

func writeRecords(out io.Writer, samples []features.Sample) (err error) {
	pw, err := writer.NewParquetWriterFromWriter(out, new(TrainingRecord), 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, s := range samples {
		if err := pw.Write(toRecord(s)); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	// WriteStop can panic on malformed schemas.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stop parquet writer: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("stop parquet writer: %w", err)
	}
	return nil
}

func toRecord(s features.Sample) TrainingRecord {
	return TrainingRecord{
		Time:        s.ObservedAt.UnixMilli(),
		PM25:        s.PM25.Float64,
		PM10:        optional(s.PM10),
		NO2:         optional(s.NO2),
		Temperature: optional(s.Temperature),
		Humidity:    optional(s.Humidity),
		WindSpeed:   optional(s.WindSpeed),
		AQIExternal: optional(s.AQIExternal),
		Hour:        int32(s.Hour),
		DayOfWeek:   int32(s.DayOfWeek),
		Month:       int32(s.Month),
		AQI:         s.AQI.Float64,
		Target:      s.Target,
		TargetTime:  s.TargetAt.UnixMilli(),
	}
}

func optional(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
