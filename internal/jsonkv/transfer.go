// Exports and imports record sets.

package jsonkv

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/maruel/kvstore/internal/value"
	"github.com/vmihailenco/msgpack/v5"
)

// Format is an export encoding.
type Format int

const (
	// FormatJSON is the data file encoding: an indented JSON object.
	FormatJSON Format = iota
	// FormatMsgpack is a MessagePack map of key to value.
	FormatMsgpack
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat returns the format named s.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "msgpack":
		return FormatMsgpack, nil
	default:
		return 0, fmt.Errorf("unknown format %q", s)
	}
}

// Export writes every record to w.
func (s *Store) Export(w io.Writer, f Format) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch f {
	case FormatJSON:
		data, err := value.MarshalObjectIndent(s.records)
		if err != nil {
			return fmt.Errorf("failed to encode records: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
	case FormatMsgpack:
		enc := msgpack.GetEncoder()
		enc.Reset(w)
		enc.SetSortMapKeys(true)
		err := enc.Encode(value.ToAny(value.Object(s.records)))
		msgpack.PutEncoder(enc)
		if err != nil {
			return fmt.Errorf("failed to encode records: %w", err)
		}
	default:
		return fmt.Errorf("unknown format %s", f)
	}
	s.log.Debug("exported", "format", f, "records", len(s.records))
	return nil
}

// Import reads records from r and inserts them, overwriting existing keys.
// All records are applied as one mutation followed by a single save. It
// returns the number of records read.
func (s *Store) Import(r io.Reader, f Format) (int, error) {
	var records map[string]value.Value
	switch f {
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return 0, fmt.Errorf("failed to read import: %w", err)
		}
		if records, err = decodeRecords(data); err != nil {
			return 0, fmt.Errorf("failed to decode import: %w", err)
		}
	case FormatMsgpack:
		var raw map[string]any
		dec := msgpack.GetDecoder()
		dec.Reset(r)
		err := dec.Decode(&raw)
		msgpack.PutDecoder(dec)
		if err != nil {
			return 0, fmt.Errorf("failed to decode import: %w", err)
		}
		records = make(map[string]value.Value, len(raw))
		for k, x := range raw {
			v, err := value.FromAny(x)
			if err != nil {
				return 0, fmt.Errorf("failed to decode import key %q: %w", k, err)
			}
			records[k] = v
		}
	default:
		return 0, fmt.Errorf("unknown format %s", f)
	}
	for k, v := range records {
		if err := checkRecord(k, v); err != nil {
			return 0, fmt.Errorf("failed to import: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range slices.Sorted(maps.Keys(records)) {
		s.putLocked(k, records[k])
	}
	s.log.Debug("imported", "format", f, "records", len(records))
	return len(records), s.commitLocked(fmt.Sprintf("import %d records", len(records)))
}
