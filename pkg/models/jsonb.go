package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Bool reads a boolean key, tolerating absence and wrong types
func (j JSONB) Bool(key string) bool {
	if j == nil {
		return false
	}
	v, ok := j[key].(bool)
	return ok && v
}

// String reads a string key, returning "" when absent
func (j JSONB) String(key string) string {
	if j == nil {
		return ""
	}
	v, _ := j[key].(string)
	return v
}
