package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// Export encodes entries in the given format
func Export(entries []Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	case ExportFormatCSV:
		return exportCSV(entries)
	}
	return nil, fmt.Errorf("unsupported export format: %q", format)
}

// exportJSON exports entries as a JSON array
func exportJSON(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// exportCSV exports entries as CSV with details as a JSON column
func exportCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "CreatedAt", "UserID", "Action", "ResourceType", "ResourceID", "Details"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		details, err := json.Marshal(entry.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode details: %w", err)
		}
		row := []string{
			entry.ID,
			entry.CreatedAt.UTC().Format(time.RFC3339),
			derefString(entry.UserID),
			entry.Action,
			entry.ResourceType,
			derefString(entry.ResourceID),
			string(details),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
