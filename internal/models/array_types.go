package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
// Returns JSON as string for compatibility with simple protocol mode.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return nil
}

// UUIDArray binds a list of ids to a UUID[] parameter (used with = ANY($n))
type UUIDArray []uuid.UUID

// Value implements the driver.Valuer interface
func (a UUIDArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	ids := make([]string, len(a))
	for i, id := range a {
		ids[i] = id.String()
	}
	return pq.Array(ids).Value()
}

// Scan implements the sql.Scanner interface
func (a *UUIDArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var ids []string
	if err := pq.Array(&ids).Scan(src); err != nil {
		return err
	}
	out := make(UUIDArray, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		out = append(out, id)
	}
	*a = out
	return nil
}

// StatusArray binds a list of booking statuses to a TEXT[] parameter
type StatusArray []BookingStatus

// Value implements the driver.Valuer interface
func (a StatusArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	values := make([]string, len(a))
	for i, s := range a {
		values[i] = string(s)
	}
	return pq.Array(values).Value()
}
