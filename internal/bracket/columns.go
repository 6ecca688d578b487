package bracket

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON-encoded TEXT columns.

type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return marshalColumn(l)
}

func (l *StringList) Scan(src any) error {
	return scanColumn(src, l)
}

type PlayerList []Player

func (l PlayerList) Value() (driver.Value, error) {
	if l == nil {
		l = PlayerList{}
	}
	return marshalColumn(l)
}

func (l *PlayerList) Scan(src any) error {
	return scanColumn(src, l)
}

func (s Settings) Value() (driver.Value, error) {
	return marshalColumn(s)
}

func (s *Settings) Scan(src any) error {
	return scanColumn(src, s)
}

func marshalColumn(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanColumn(src any, dst any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
