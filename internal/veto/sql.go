package veto

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

func (s State) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *State) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("veto: cannot scan %T into State", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, s)
}
