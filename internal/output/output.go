// Package output turns suggested candidates back into human-named parameter
// sets and writes them as a JSON document.
package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/naming"
	"github.com/copyleftdev/paramgen/internal/suggest"
)

const (
	// DefaultDir is the output directory relative to the working directory.
	DefaultDir = "outputs"
	// DefaultFile is the output file name.
	DefaultFile = "parameters.json"

	indent = "    "
)

// Entry is one human-named parameter value.
type Entry struct {
	Name  string
	Value float64
}

// Suggestion is one candidate keyed by human names, in search-space order.
// It encodes as a JSON object that keeps that order.
type Suggestion []Entry

// MarshalJSON encodes s as an object with keys in order.
func (s Suggestion) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Map returns s as a plain map.
func (s Suggestion) Map() map[string]float64 {
	m := make(map[string]float64, len(s))
	for _, e := range s {
		m[e.Name] = e.Value
	}
	return m
}

// Format maps every candidate's tokens back to human names through codec,
// keeping batch order. Tokens the codec does not know are unsanitized and
// placed after the known ones.
func Format(batch suggest.Batch, codec *naming.Codec) []Suggestion {
	out := make([]Suggestion, 0, len(batch))
	for _, c := range batch {
		s := make(Suggestion, 0, len(c.Parameters))
		seen := make(map[string]bool, len(c.Parameters))
		for _, token := range codec.Tokens() {
			if v, ok := c.Parameters[token]; ok {
				s = append(s, Entry{Name: codec.Human(token), Value: v})
				seen[token] = true
			}
		}

		var unknown []string
		for token := range c.Parameters {
			if !seen[token] {
				unknown = append(unknown, token)
			}
		}
		sort.Strings(unknown)
		for _, token := range unknown {
			s = append(s, Entry{Name: codec.Human(token), Value: c.Parameters[token]})
		}
		out = append(out, s)
	}
	return out
}

// Destination joins dir and file, substituting the defaults for empty values.
func Destination(dir, file string) string {
	if dir == "" {
		dir = DefaultDir
	}
	if file == "" {
		file = DefaultFile
	}
	return filepath.Join(dir, file)
}

// Persist writes formatted to destination as an indented JSON array,
// creating the parent directory and replacing any previous file. The file is
// closed on every path. Failures are IOErrors whose Operation is one of
// "mkdir", "open", "encode" or "close".
func Persist(formatted []Suggestion, destination string) (err error) {
	if formatted == nil {
		formatted = []Suggestion{}
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return ioErr("mkdir", destination, "could not create output directory", err)
	}

	f, err := os.Create(destination)
	if err != nil {
		return ioErr("open", destination, "could not open output file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ioErr("close", destination, "could not close output file", cerr)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", indent)
	if err := enc.Encode(formatted); err != nil {
		return ioErr("encode", destination, "could not write output file", err)
	}
	return nil
}

func ioErr(op, path, msg string, err error) *errors.Error {
	return errors.New(errors.KindIO, msg).
		WithCause(err).WithComponent("output").WithOperation(op).WithField(path)
}
