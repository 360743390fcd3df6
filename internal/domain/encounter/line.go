package encounter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Line is one sub-resource entry of a draft. Its origin is either Pending
// (added in this session, to be submitted) or Persisted (mirrors a record that
// already exists in the hospital system and is never resubmitted). The origin
// is fixed at construction; WithData replaces the data and keeps it.
type Line[T any] struct {
	data      T
	persisted bool
	recordID  string
}

func Pending[T any](data T) Line[T] {
	return Line[T]{data: data}
}

func Persisted[T any](recordID string, data T) Line[T] {
	return Line[T]{data: data, persisted: true, recordID: recordID}
}

func (l Line[T]) Data() T           { return l.data }
func (l Line[T]) IsPersisted() bool { return l.persisted }

// RecordID is the id of the existing record a Persisted line mirrors.
func (l Line[T]) RecordID() string { return l.recordID }

// WithData returns the line with its data replaced and its origin unchanged.
func (l Line[T]) WithData(data T) Line[T] {
	l.data = data
	return l
}

// PendingOnly returns the data of every Pending line with its draft index.
func PendingOnly[T any](lines []Line[T]) ([]T, []int) {
	var (
		out []T
		idx []int
	)
	for i, l := range lines {
		if l.persisted {
			continue
		}
		out = append(out, l.data)
		idx = append(idx, i)
	}
	return out, idx
}

type lineOrigin struct {
	AlreadySaved bool   `json:"alreadySaved"`
	RecordID     string `json:"recordId,omitempty"`
}

// MarshalJSON writes the data fields flat, followed by alreadySaved and,
// for persisted lines, recordId.
func (l Line[T]) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(l.data)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) < 2 || data[0] != '{' {
		return nil, fmt.Errorf("line data must encode as a JSON object, got %s", data)
	}
	origin, err := json.Marshal(lineOrigin{AlreadySaved: l.persisted, RecordID: l.recordID})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	if len(data) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(origin[1:])
	return buf.Bytes(), nil
}

func (l *Line[T]) UnmarshalJSON(b []byte) error {
	var data T
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	var origin lineOrigin
	if err := json.Unmarshal(b, &origin); err != nil {
		return err
	}
	*l = Line[T]{data: data, persisted: origin.AlreadySaved, recordID: origin.RecordID}
	return nil
}
