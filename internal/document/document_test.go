package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasAllFieldsEmpty(t *testing.T) {
	doc := New("doc1")

	assert.Equal(t, "doc1", doc.ID)
	values := doc.Values()
	require.Len(t, values, len(Fields))
	for i, v := range values {
		assert.Empty(t, v, "field %s", Fields[i])
	}
}

func TestMarshalCarriesEveryField(t *testing.T) {
	data, err := json.Marshal(New("doc1"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "doc1", decoded["_id"])
	for _, name := range Fields {
		value, ok := decoded[name]
		assert.True(t, ok, "missing field %s", name)
		assert.Equal(t, "", value)
	}
}

func TestFromSave(t *testing.T) {
	payload := json.RawMessage(`{"html":"<p>x</p>","python":"print(1)","output":null,"_id":"ignored","extra":42}`)

	doc, err := FromSave("doc1", payload)
	require.NoError(t, err)

	assert.Equal(t, "doc1", doc.ID)
	assert.Equal(t, "<p>x</p>", doc.HTML)
	assert.Equal(t, "print(1)", doc.Python)
	assert.Empty(t, doc.Output)
	assert.Empty(t, doc.CSS)
}

func TestFromSaveKeepsScalarsAsText(t *testing.T) {
	doc, err := FromSave("doc1", json.RawMessage(`{"html":12,"css":true,"input":-1.5e3,"output":false}`))
	require.NoError(t, err)

	assert.Equal(t, "12", doc.HTML)
	assert.Equal(t, "true", doc.CSS)
	assert.Equal(t, "-1.5e3", doc.Input)
	assert.Equal(t, "false", doc.Output)
}

func TestFromSaveRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not an object", `"hello"`},
		{"null", `null`},
		{"empty", ``},
		{"array", `[]`},
		{"object field", `{"html":{"a":1}}`},
		{"array field", `{"css":["a"]}`},
		{"malformed", `{"html":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := FromSave("doc1", json.RawMessage(tt.payload))
			assert.Error(t, err)
			assert.Nil(t, doc)
		})
	}
}

func TestFromSaveNullIsNotAnObject(t *testing.T) {
	_, err := FromSave("doc1", json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestScanTargetsWriteThrough(t *testing.T) {
	doc := New("doc1")
	targets := doc.ScanTargets()
	*(targets[0].(*string)) = "<h1/>"
	*(targets[len(targets)-1].(*string)) = "done"

	assert.Equal(t, "<h1/>", doc.HTML)
	assert.Equal(t, "done", doc.Output)
}
