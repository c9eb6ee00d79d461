package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

// WriteCSV encodes audit entries as CSV with a header row.
func WriteCSV(rows []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"timestamp", "actor_id", "action", "entity_type", "entity_id", "field", "before", "after", "metadata"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		meta := ""
		if len(row.Metadata) > 0 {
			encoded, err := json.Marshal(row.Metadata)
			if err != nil {
				return nil, err
			}
			meta = string(encoded)
		}
		record := []string{
			row.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			string(row.Action),
			row.EntityType,
			row.EntityID,
			row.FieldChanged,
			row.BeforeValue,
			row.AfterValue,
			meta,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
