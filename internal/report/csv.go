// Package report keeps a CSV history of scan results and summarizes it.
package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"geogram/internal/model"
)

var header = []string{
	"found_at",
	"ip",
	"port",
	"type",
	"callsign",
	"name",
	"version",
	"description",
	"location",
	"latitude",
	"longitude",
	"connected_devices",
}

// WriteCSV writes scan results to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.ScanResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// AppendCSV appends scan results to the file at path, writing the header
// only when the file is new or empty.
func AppendCSV(path string, items []model.ScanResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeRecords(writer *csv.Writer, items []model.ScanResult) error {
	for _, r := range items {
		record := []string{
			r.FoundAt.UTC().Format(time.RFC3339Nano),
			r.IP,
			strconv.Itoa(r.Port),
			string(r.Type),
			r.Callsign,
			r.Name,
			r.Version,
			r.Description,
			r.Location,
			formatFloat(r.Latitude),
			formatFloat(r.Longitude),
			formatInt(r.ConnectedDevices),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
