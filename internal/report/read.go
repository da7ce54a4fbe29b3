package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"geogram/internal/model"
)

// ReadCSV loads scan results from a CSV file.
func ReadCSV(path string) ([]model.ScanResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.ScanResult, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == header[0] {
		start = 1
	}

	items := make([]model.ScanResult, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		port, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("invalid port at line %d: %w", i+1, err)
		}
		items = append(items, model.ScanResult{
			FoundAt:          ts,
			IP:               rec[1],
			Port:             port,
			Type:             model.DeviceType(rec[3]),
			Callsign:         rec[4],
			Name:             rec[5],
			Version:          rec[6],
			Description:      rec[7],
			Location:         rec[8],
			Latitude:         parseFloat(rec[9]),
			Longitude:        parseFloat(rec[10]),
			ConnectedDevices: parseInt(rec[11]),
		})
	}

	return items, nil
}

func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
