package pg

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- Nullable helpers ---

func nilTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}

// --- PostgreSQL array helpers ---

// pqStringArray converts a Go string slice to a PostgreSQL text[] literal.
func pqStringArray(arr []string) interface{} {
	if len(arr) == 0 {
		return "{}"
	}
	quoted := make([]string, len(arr))
	for i, s := range arr {
		quoted[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// pqUUIDArray converts UUIDs to a PostgreSQL uuid[] literal.
func pqUUIDArray(ids []uuid.UUID) interface{} {
	if len(ids) == 0 {
		return "{}"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// scanStringArray parses a PostgreSQL text[] column (scanned as []byte)
// into a Go string slice. Handles quoted elements.
func scanStringArray(data []byte, dest *[]string) {
	if len(data) == 0 {
		return
	}
	s := strings.TrimSuffix(strings.TrimPrefix(string(data), "{"), "}")
	if s == "" {
		return
	}
	for _, part := range splitArray(s) {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, `"`) && strings.HasSuffix(part, `"`) && len(part) >= 2 {
			part = strings.ReplaceAll(strings.ReplaceAll(part[1:len(part)-1], `\"`, `"`), `\\`, `\`)
		}
		*dest = append(*dest, part)
	}
}

// scanUUIDArray parses a uuid[] column into a UUID slice, skipping
// malformed elements.
func scanUUIDArray(data []byte, dest *[]uuid.UUID) {
	if len(data) == 0 {
		return
	}
	s := strings.TrimSuffix(strings.TrimPrefix(string(data), "{"), "}")
	if s == "" {
		return
	}
	for _, part := range strings.Split(s, ",") {
		if id, err := uuid.Parse(strings.TrimSpace(part)); err == nil {
			*dest = append(*dest, id)
		}
	}
}

// splitArray splits a Postgres array body on commas outside quotes.
func splitArray(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			inQuote = !inQuote
		case r == ',' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// --- JSON helpers ---

func marshalMetadata(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func unmarshalMetadata(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
