package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Lesson is one timetable entry. From, To, IsCancelled and HasDuplicate are
// decoded for filtering. A lesson decoded from the portal is encoded back as
// exactly the fields the portal sent, with their original values; only
// insignificant whitespace and key order may differ. Lessons built in code
// are encoded from the decoded fields.
type Lesson struct {
	From         time.Time
	To           time.Time
	IsCancelled  bool
	HasDuplicate bool

	raw map[string]json.RawMessage
}

type lessonFields struct {
	From         *time.Time `json:"from"`
	To           *time.Time `json:"to"`
	IsCancelled  bool       `json:"isCancelled"`
	HasDuplicate bool       `json:"hasDuplicate"`
}

func (l *Lesson) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var fields lessonFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode lesson: %w", err)
	}
	if fields.From == nil {
		return fmt.Errorf("decode lesson: missing from")
	}
	*l = Lesson{
		From:         *fields.From,
		IsCancelled:  fields.IsCancelled,
		HasDuplicate: fields.HasDuplicate,
		raw:          raw,
	}
	if fields.To != nil {
		l.To = *fields.To
	}
	return nil
}

func (l Lesson) MarshalJSON() ([]byte, error) {
	if l.raw != nil {
		return encodeJSON(l.raw)
	}
	out := map[string]interface{}{
		"from":         l.From,
		"isCancelled":  l.IsCancelled,
		"hasDuplicate": l.HasDuplicate,
	}
	if !l.To.IsZero() {
		out["to"] = l.To
	}
	return encodeJSON(out)
}

func (l Lesson) field(key string) (json.RawMessage, bool) {
	value, ok := l.raw[key]
	return value, ok
}

// encodeJSON leaves &, < and > unescaped so string values survive as sent.
func encodeJSON(value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
