package aggregation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nikhilbhutani/docpulse/internal/store"
)

// Counts is an ordered label → count mapping. It encodes as a JSON object
// whose keys keep the slice order, which a Go map cannot do.
type Counts []store.GroupCount

func (c Counts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(g.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(g.Count, 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *Counts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("counts: expected object, got %v", tok)
	}

	out := Counts{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("counts: unexpected key %v", tok)
		}
		var n int64
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("counts: value for %q: %w", key, err)
		}
		out = append(out, store.GroupCount{Key: key, Count: n})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}

// Get returns the count for key, or 0.
func (c Counts) Get(key string) int64 {
	for _, g := range c {
		if g.Key == key {
			return g.Count
		}
	}
	return 0
}
