package utxo

import (
	"math/big"

	"zkutxo/internal/hashing"
	"zkutxo/internal/zkerr"
)

// MaxAppDataFields bounds the number of field elements folded into a data hash.
const MaxAppDataFields = hashing.MaxInputs

// AppDataSchema describes the application data carried by the UTXOs of one
// program: an identifier and an ordered list of field names.
type AppDataSchema struct {
	ID     string
	Fields []string
}

// NewAppDataSchema validates and returns a schema.
func NewAppDataSchema(id string, fields ...string) (*AppDataSchema, error) {
	if len(fields) == 0 || len(fields) > MaxAppDataFields {
		return nil, zkerr.New(zkerr.CodeInvalidAppData, "NewAppDataSchema", "schema %q has %d fields, want 1..%d", id, len(fields), MaxAppDataFields)
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			return nil, zkerr.New(zkerr.CodeInvalidAppData, "NewAppDataSchema", "schema %q repeats field %q", id, f)
		}
		seen[f] = struct{}{}
	}
	return &AppDataSchema{ID: id, Fields: append([]string(nil), fields...)}, nil
}

// New builds AppData from named values. Every schema field must be set.
func (s *AppDataSchema) New(values map[string]*big.Int) (*AppData, error) {
	if len(values) != len(s.Fields) {
		return nil, zkerr.New(zkerr.CodeInvalidAppData, "AppDataSchema.New", "schema %q expects %d values, got %d", s.ID, len(s.Fields), len(values))
	}
	ordered := make([]*big.Int, len(s.Fields))
	for i, f := range s.Fields {
		v, ok := values[f]
		if !ok {
			return nil, zkerr.New(zkerr.CodeInvalidAppData, "AppDataSchema.New", "schema %q: missing field %q", s.ID, f)
		}
		ordered[i] = v
	}
	return s.FromValues(ordered)
}

// FromValues builds AppData from values given in schema order.
func (s *AppDataSchema) FromValues(values []*big.Int) (*AppData, error) {
	if len(values) != len(s.Fields) {
		return nil, zkerr.New(zkerr.CodeInvalidAppData, "AppDataSchema.FromValues", "schema %q expects %d values, got %d", s.ID, len(s.Fields), len(values))
	}
	out := make([]*big.Int, len(values))
	for i, v := range values {
		if v == nil || !hashing.InField(v) {
			return nil, zkerr.New(zkerr.CodeInvalidAppData, "AppDataSchema.FromValues", "field %q is not a field element", s.Fields[i])
		}
		out[i] = new(big.Int).Set(v)
	}
	return &AppData{Schema: s, Values: out}, nil
}

// AppData is the application data of a program UTXO, tagged by its schema.
type AppData struct {
	Schema *AppDataSchema
	Values []*big.Int
}

// Get returns the value of the named field.
func (d *AppData) Get(field string) (*big.Int, bool) {
	for i, f := range d.Schema.Fields {
		if f == field {
			return d.Values[i], true
		}
	}
	return nil, false
}

// Hash folds the values into the data hash committed to by the UTXO.
func (d *AppData) Hash(h hashing.Hasher) (*big.Int, error) {
	if len(d.Values) == 0 || len(d.Values) > MaxAppDataFields {
		return nil, zkerr.New(zkerr.CodeInvalidAppData, "AppData.Hash", "%d values, want 1..%d", len(d.Values), MaxAppDataFields)
	}
	out, err := h.Hash(d.Values...)
	if err != nil {
		return nil, zkerr.Wrap(zkerr.CodeInvalidAppData, "AppData.Hash", err, "schema %q", d.Schema.ID)
	}
	return out, nil
}
