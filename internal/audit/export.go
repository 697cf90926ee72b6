package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportHeader is the fixed column order of the CSV export.
var ExportHeader = []string{"Timestamp", "EventType", "Severity", "CallerEmail", "CallerRole", "Resource", "Action", "Success", "IP", "Details"}

// EncodeCSV writes the header followed by one row per event, in the given
// order.
func EncodeCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ExportHeader); err != nil {
		return nil, err
	}
	for _, evt := range events {
		row, err := exportRow(evt)
		if err != nil {
			return nil, err
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRow(evt Event) ([]string, error) {
	details := ""
	if len(evt.Details) > 0 {
		raw, err := json.Marshal(evt.Details)
		if err != nil {
			return nil, fmt.Errorf("encode details of %s: %w", evt.ID, err)
		}
		details = string(raw)
	}
	return []string{
		evt.Metadata.Timestamp.UTC().Format(time.RFC3339Nano),
		string(evt.Type),
		string(evt.Severity),
		evt.CallerEmail,
		string(evt.CallerRole),
		string(evt.Resource),
		string(evt.Action),
		strconv.FormatBool(evt.Success),
		evt.Metadata.IP,
		details,
	}, nil
}
