package table

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// PartialRow holds values for a subset of a table's columns, addressed by
	// name. Range partition bounds are partial rows over the range columns.
	PartialRow struct {
		Cells []Cell
	}

	Cell struct {
		Column string
		Value  any
	}

	// jsonCell carries the value type so values like MinTimestamp, which
	// time.Time cannot marshal, survive a catalog round trip.
	jsonCell struct {
		Column string          `json:"column"`
		Type   ColumnType      `json:"type"`
		Value  json.RawMessage `json:"value"`
	}
)

func NewPartialRow() PartialRow {
	return PartialRow{}
}

// Set returns a copy of the row with column set to v.
func (p PartialRow) Set(column string, v any) PartialRow {
	cells := make([]Cell, 0, len(p.Cells)+1)
	replaced := false
	for _, c := range p.Cells {
		if c.Column == column {
			cells = append(cells, Cell{Column: column, Value: v})
			replaced = true
			continue
		}
		cells = append(cells, c)
	}
	if !replaced {
		cells = append(cells, Cell{Column: column, Value: v})
	}
	return PartialRow{Cells: cells}
}

func (p PartialRow) Get(column string) (any, bool) {
	for _, c := range p.Cells {
		if c.Column == column {
			return c.Value, true
		}
	}
	return nil, false
}

func (p PartialRow) MarshalJSON() ([]byte, error) {
	out := make([]jsonCell, 0, len(p.Cells))
	for _, c := range p.Cells {
		t, ok := TypeOf(c.Value)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported partial row value %T for %s", ErrTypeMismatch, c.Value, c.Column)
		}
		var raw any = c.Value
		if ts, isTime := c.Value.(time.Time); isTime {
			raw = ts.UnixMicro()
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("error in json.Marshal: %w", err)
		}
		out = append(out, jsonCell{Column: c.Column, Type: t, Value: b})
	}
	return json.Marshal(out)
}

func (p *PartialRow) UnmarshalJSON(b []byte) error {
	var in []jsonCell
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	p.Cells = make([]Cell, 0, len(in))
	for _, jc := range in {
		v, err := decodeTyped(jc.Type, jc.Value)
		if err != nil {
			return fmt.Errorf("error decoding partial row column %s: %w", jc.Column, err)
		}
		p.Cells = append(p.Cells, Cell{Column: jc.Column, Value: v})
	}
	return nil
}

func decodeTyped(t ColumnType, raw json.RawMessage) (any, error) {
	var err error
	switch t {
	case TypeBool:
		var v bool
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeInt8:
		var v int8
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeInt16:
		var v int16
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeInt32:
		var v int32
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeInt64:
		var v int64
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeFloat:
		var v float32
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeDouble:
		var v float64
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeString:
		var v string
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeBinary:
		var v []byte
		err = json.Unmarshal(raw, &v)
		return v, err
	case TypeTimestamp:
		var micros int64
		err = json.Unmarshal(raw, &micros)
		return time.UnixMicro(micros).UTC(), err
	}
	return nil, fmt.Errorf("%w: unknown type %s", ErrTypeMismatch, t)
}
