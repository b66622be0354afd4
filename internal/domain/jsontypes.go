package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// JSON columns are stored as text so that the same value works for the jsonb
// columns on postgres and the TEXT columns on sqlite.

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dest any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

// JSONText is a raw JSON document such as a case import payload.
type JSONText json.RawMessage

// Value implements driver.Valuer.
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "null", nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = JSONText(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	return nil
}

// MarshalJSON returns the raw document.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores a copy of the raw document.
func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}

// Attributes is the free-form attribute map of a file reference.
type Attributes map[string]any

// Value implements driver.Valuer.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return jsonValue(map[string]any(a))
}

// Scan implements sql.Scanner.
func (a *Attributes) Scan(src any) error {
	m := map[string]any{}
	if err := jsonScan(src, &m); err != nil {
		return err
	}
	*a = m
	return nil
}

// String returns the attribute as a string, or "" if absent or not a string.
func (a Attributes) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// IdentifierMap maps payload-local sample names to the names used inside a file.
type IdentifierMap map[string]string

// Value implements driver.Valuer.
func (m IdentifierMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return jsonValue(map[string]string(m))
}

// Scan implements sql.Scanner.
func (m *IdentifierMap) Scan(src any) error {
	v := map[string]string{}
	if err := jsonScan(src, &v); err != nil {
		return err
	}
	*m = v
	return nil
}

// Lookup returns the file-local name for name, defaulting to name itself.
func (m IdentifierMap) Lookup(name string) string {
	if v, ok := m[name]; ok && v != "" {
		return v
	}
	return name
}

// FloatList is a JSON encoded list of numbers.
type FloatList []float64

// Value implements driver.Valuer.
func (l FloatList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue([]float64(l))
}

// Scan implements sql.Scanner.
func (l *FloatList) Scan(src any) error {
	v := []float64{}
	if err := jsonScan(src, &v); err != nil {
		return err
	}
	*l = v
	return nil
}

// StringList is a JSON encoded list of strings.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue([]string(l))
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	v := []string{}
	if err := jsonScan(src, &v); err != nil {
		return err
	}
	*l = v
	return nil
}

// PedigreeSummaryEntry is one row of the legacy flat pedigree.
type PedigreeSummaryEntry struct {
	Patient  string `json:"patient"`
	Father   string `json:"father"`
	Mother   string `json:"mother"`
	Sex      int    `json:"sex"`
	Affected int    `json:"affected"`
}

// PedigreeSummary is the legacy denormalized pedigree kept on the case.
type PedigreeSummary []PedigreeSummaryEntry

// Value implements driver.Valuer.
func (p PedigreeSummary) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return jsonValue([]PedigreeSummaryEntry(p))
}

// Scan implements sql.Scanner.
func (p *PedigreeSummary) Scan(src any) error {
	v := []PedigreeSummaryEntry{}
	if err := jsonScan(src, &v); err != nil {
		return err
	}
	*p = v
	return nil
}

// VariantFileAttributes are the attributes the importers look at on a file.
type VariantFileAttributes struct {
	VariantType string `mapstructure:"variant_type"`
	Assay       string `mapstructure:"assay"`
}

// DecodeFileAttributes extracts the well-known keys from a file's attribute map.
func DecodeFileAttributes(attrs Attributes) (VariantFileAttributes, error) {
	var out VariantFileAttributes
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]any(attrs)); err != nil {
		return out, fmt.Errorf("decoding file attributes: %w", err)
	}
	return out, nil
}
