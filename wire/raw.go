package wire

// RawField is one undecoded field record, as read without a schema.
type RawField struct {
	Number   FieldNumber
	WireType WireType
	Varint   uint64 // WireVarint
	Fixed    uint64 // WireFixed32 (low 32 bits) and WireFixed64
	Bytes    []byte // WireBytes payload, aliases the input
	Raw      []byte // tag and value exactly as encoded, aliases the input
}

// Value returns the record's payload as uint64, uint32 or []byte.
func (f RawField) Value() any {
	switch f.WireType {
	case WireVarint:
		return f.Varint
	case WireFixed32:
		return uint32(f.Fixed)
	case WireFixed64:
		return f.Fixed
	default:
		return f.Bytes
	}
}

// Span returns the bytes between start and the cursor.
func (r *Reader) Span(start int) []byte {
	return r.buf[start:r.pos:r.pos]
}

// ReadRawField reads one complete field record.
func (r *Reader) ReadRawField() (RawField, error) {
	start := r.pos
	num, wt, err := r.ReadTag()
	if err != nil {
		return RawField{}, err
	}
	f := RawField{Number: num, WireType: wt}
	switch wt {
	case WireVarint:
		f.Varint, err = r.ReadVarint()
	case WireFixed32:
		var v uint32
		v, err = r.ReadFixed32()
		f.Fixed = uint64(v)
	case WireFixed64:
		f.Fixed, err = r.ReadFixed64()
	case WireBytes:
		f.Bytes, err = r.ReadLengthDelimited()
	}
	if err != nil {
		return RawField{}, err
	}
	f.Raw = r.Span(start)
	return f, nil
}

// ParseRaw splits data into field records without a schema.
func ParseRaw(data []byte) ([]RawField, error) {
	r := NewReader(data)
	var fields []RawField
	for !r.AtEnd() {
		f, err := r.ReadRawField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}
