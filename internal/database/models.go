package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/placefinder/placefinder/internal/geocoding"
)

// Selection is a result a chat picked, kept for /history.
type Selection struct {
	ID         string     `json:"id" db:"id"`
	ChatID     int64      `json:"chat_id" db:"chat_id"`
	Query      string     `json:"query" db:"query"`
	Name       string     `json:"name" db:"name"`
	Lat        float64    `json:"lat" db:"lat"`
	Lng        float64    `json:"lng" db:"lng"`
	Bounds     *Bounds    `json:"bounds,omitempty" db:"bounds"`
	Extensions Extensions `json:"extensions,omitempty" db:"extensions"`
	Source     string     `json:"source" db:"source"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// NewSelection builds a Selection from a geocoding result.
func NewSelection(chatID int64, query string, r geocoding.Result, source string) Selection {
	s := Selection{
		ChatID:     chatID,
		Query:      query,
		Name:       r.Name,
		Lat:        r.Center.Lat,
		Lng:        r.Center.Lng,
		Extensions: Extensions(r.Extensions),
		Source:     source,
	}
	if r.Bounds != nil {
		b := Bounds(*r.Bounds)
		s.Bounds = &b
	}
	return s
}

// Result converts the row back into a geocoding result.
func (s Selection) Result() geocoding.Result {
	r := geocoding.Result{
		Name:       s.Name,
		Center:     geocoding.LatLng{Lat: s.Lat, Lng: s.Lng},
		Extensions: map[string]any(s.Extensions),
	}
	if s.Bounds != nil {
		b := geocoding.Bounds(*s.Bounds)
		r.Bounds = &b
	}
	return r
}

// Validate checks the fields the table requires.
func (s Selection) Validate() error {
	var problems []string
	if s.ChatID == 0 {
		problems = append(problems, "chat_id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if s.Lat < -90 || s.Lat > 90 {
		problems = append(problems, "lat out of range")
	}
	if s.Lng < -180 || s.Lng > 180 {
		problems = append(problems, "lng out of range")
	}
	if s.Source == "" {
		problems = append(problems, "source is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid selection: %s", strings.Join(problems, ", "))
	}
	return nil
}

// Bounds is geocoding.Bounds stored as JSONB.
type Bounds geocoding.Bounds

func (b Bounds) Value() (driver.Value, error) {
	return json.Marshal(b)
}

func (b *Bounds) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil || data == nil {
		return err
	}
	return json.Unmarshal(data, b)
}

// Extensions holds extracted result fields as JSONB.
type Extensions map[string]any

func (e Extensions) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

func (e *Extensions) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if data == nil {
		*e = nil
		return nil
	}
	return json.Unmarshal(data, e)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot scan %T into JSON column", value)
	}
}
