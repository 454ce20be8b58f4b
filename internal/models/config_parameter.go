package models

import "time"

// ParamType tags how a stored config value is decoded.
type ParamType string

const (
	ParamInteger ParamType = "integer"
	ParamFloat   ParamType = "float"
	ParamBoolean ParamType = "boolean"
	ParamJSON    ParamType = "json"
	ParamString  ParamType = "string"
)

func (t ParamType) Valid() bool {
	switch t {
	case ParamInteger, ParamFloat, ParamBoolean, ParamJSON, ParamString:
		return true
	}
	return false
}

// ConfigParameter is a raw row of the parameter store.
type ConfigParameter struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Type      ParamType `json:"type"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}
