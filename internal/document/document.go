package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotObject = errors.New("save payload is not a JSON object")

// Field names in the order they are stored and serialized.
var Fields = []string{
	"html", "css", "js",
	"python", "java", "cpp", "pascal", "perl", "php", "ruby",
	"input", "output",
}

// A shared editing workspace: one text buffer per language slot plus the
// program input and output panes.
type Document struct {
	ID     string `json:"_id" bson:"_id"`
	HTML   string `json:"html" bson:"html"`
	CSS    string `json:"css" bson:"css"`
	JS     string `json:"js" bson:"js"`
	Python string `json:"python" bson:"python"`
	Java   string `json:"java" bson:"java"`
	CPP    string `json:"cpp" bson:"cpp"`
	Pascal string `json:"pascal" bson:"pascal"`
	Perl   string `json:"perl" bson:"perl"`
	PHP    string `json:"php" bson:"php"`
	Ruby   string `json:"ruby" bson:"ruby"`
	Input  string `json:"input" bson:"input"`
	Output string `json:"output" bson:"output"`
}

// Returns a document with every field empty
func New(id string) *Document {
	return &Document{ID: id}
}

// Pointers to each text field, aligned with Fields
func (d *Document) fieldPtrs() []*string {
	return []*string{
		&d.HTML, &d.CSS, &d.JS,
		&d.Python, &d.Java, &d.CPP, &d.Pascal, &d.Perl, &d.PHP, &d.Ruby,
		&d.Input, &d.Output,
	}
}

// Values returns the field values in Fields order.
func (d *Document) Values() []string {
	ptrs := d.fieldPtrs()
	values := make([]string, len(ptrs))
	for i, p := range ptrs {
		values[i] = *p
	}
	return values
}

// ScanTargets returns destinations for a row scan in Fields order.
func (d *Document) ScanTargets() []any {
	ptrs := d.fieldPtrs()
	targets := make([]any, len(ptrs))
	for i, p := range ptrs {
		targets[i] = p
	}
	return targets
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// FromSave decodes a save-document payload for the given document. Fields
// missing from the payload are stored as empty strings, so a save always
// replaces every known field. Numbers and booleans are kept as their
// literal text.
func FromSave(id string, payload json.RawMessage) (*Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode save payload: %w", err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}

	doc := New(id)
	ptrs := doc.fieldPtrs()
	for i, name := range Fields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		text, err := fieldText(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		*ptrs[i] = text
	}
	return doc, nil
}

func fieldText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case c == 't' || c == 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return fmt.Sprint(b), nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("unsupported value %.20s", raw)
	}
}
