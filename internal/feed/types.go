// Package feed consumes the upstream live-traffic feed: typed document
// parsing with per-field fallbacks, and an adaptive-cadence poller that
// dispatches each snapshot to registered subscribers.
package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// OptFloat is a float64 that tolerates number, quoted-number, or null
// upstream encodings. A value that fails to parse leaves OK false and
// degrades only this field.
type OptFloat struct {
	Val float64
	OK  bool
}

// UnmarshalJSON never returns an error; malformed input is recorded as
// absent.
func (f *OptFloat) UnmarshalJSON(b []byte) error {
	f.Val, f.OK = 0, false
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		f.Val, f.OK = v, true
	}
	return nil
}

// MarshalJSON encodes the value, or null when absent.
func (f OptFloat) MarshalJSON() ([]byte, error) {
	if !f.OK {
		return []byte("null"), nil
	}
	return json.Marshal(f.Val)
}

// OptInt is the integer counterpart of OptFloat.
type OptInt struct {
	Val int64
	OK  bool
}

// UnmarshalJSON never returns an error; malformed input is recorded as
// absent.
func (i *OptInt) UnmarshalJSON(b []byte) error {
	i.Val, i.OK = 0, false
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		i.Val, i.OK = v, true
		return nil
	}
	// some feeds emit integers as floats
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		i.Val, i.OK = int64(v), true
	}
	return nil
}

// MarshalJSON encodes the value, or null when absent.
func (i OptInt) MarshalJSON() ([]byte, error) {
	if !i.OK {
		return []byte("null"), nil
	}
	return json.Marshal(i.Val)
}

// FlightPlan is the pilot-filed plan attached to an observation. Unknown
// fields are ignored.
type FlightPlan struct {
	AircraftType string `json:"aircraft_short,omitempty"`
	Departure    string `json:"departure,omitempty"`
	Arrival      string `json:"arrival,omitempty"`
	Route        string `json:"route,omitempty"`
	Remarks      string `json:"remarks,omitempty"`
	LastUpdated  string `json:"last_updated,omitempty"`
}

// Pilot is one aircraft observation from the upstream feed.
type Pilot struct {
	CID         OptInt      `json:"cid"`
	Callsign    string      `json:"callsign"`
	Name        string      `json:"name"`
	Latitude    OptFloat    `json:"latitude"`
	Longitude   OptFloat    `json:"longitude"`
	Altitude    OptFloat    `json:"altitude"`
	Groundspeed OptFloat    `json:"groundspeed"`
	Heading     OptFloat    `json:"heading"`
	Transponder string      `json:"transponder"`
	FlightPlan  *FlightPlan `json:"flight_plan,omitempty"`
	LastUpdated string      `json:"last_updated,omitempty"`
}

// Identifier returns the stable identity for the observation: the CID when
// present, the trimmed callsign as fallback, empty when neither exists.
func (p *Pilot) Identifier() string {
	if p.CID.OK && p.CID.Val != 0 {
		return strconv.FormatInt(p.CID.Val, 10)
	}
	if cs := strings.TrimSpace(p.Callsign); cs != "" {
		return cs
	}
	return ""
}

// HasPosition reports whether the observation carries a usable lat/lon.
func (p *Pilot) HasPosition() bool {
	return p.Latitude.OK && p.Longitude.OK
}

// General is the feed's metadata block.
type General struct {
	UpdateTimestamp string `json:"update_timestamp"`
}

// Document is one parsed upstream payload. Raw holds the original bytes for
// the snapshot store.
type Document struct {
	General General `json:"general"`
	Pilots  []Pilot `json:"pilots"`

	Raw []byte `json:"-"`
}

// ParseDocument decodes an upstream payload. Unknown fields are ignored; a
// malformed scalar degrades only its own field.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	doc.Raw = data
	return &doc, nil
}

// upstream timestamp layouts: ISO-8601 with fractional seconds, plain
// ISO-8601, and the legacy compact form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102150405",
}

// ParseUpstreamTimestamp parses the feed's update_timestamp. The zero time
// and false are returned when the field is absent or unparseable.
func ParseUpstreamTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
