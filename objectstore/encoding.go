package objectstore

import (
	"encoding/json"
	"time"
)

func decodeJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
