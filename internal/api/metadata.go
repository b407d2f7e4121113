package api

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Metadata is the body of GET /get_data_metadata/{folder}: one entry per
// published layer, in the order the server lists them.
type Metadata struct {
	layers map[string]LayerMetadata
	names  []string
}

// Add appends a layer, or replaces it in place when already present.
func (m *Metadata) Add(name string, lm LayerMetadata) {
	if m.layers == nil {
		m.layers = make(map[string]LayerMetadata)
	}
	if _, ok := m.layers[name]; !ok {
		m.names = append(m.names, name)
	}
	m.layers[name] = lm
}

// Layer returns the metadata of name, zero when the layer is not published.
func (m Metadata) Layer(name string) LayerMetadata {
	return m.layers[name]
}

// LayerNames returns the published layer names in server order.
func (m Metadata) LayerNames() []string {
	return append([]string(nil), m.names...)
}

// UnmarshalJSON decodes the object key by key so the server order survives.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = Metadata{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata is not an object: %v", tok)
	}

	var out Metadata
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected metadata key %v", tok)
		}
		var lm LayerMetadata
		if err := dec.Decode(&lm); err != nil {
			return fmt.Errorf("layer %s: %w", name, err)
		}
		out.Add(name, lm)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
