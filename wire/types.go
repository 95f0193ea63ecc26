package wire

// ===== PROTOBUF WIRE FORMAT TYPES =====

// WireType represents protobuf wire format types
type WireType int8

const (
	WireVarint     WireType = 0 // int32, int64, uint32, uint64, sint32, sint64, bool, enum
	WireFixed64    WireType = 1 // fixed64, sfixed64, double
	WireBytes      WireType = 2 // string, bytes, embedded messages, packed repeated fields
	wireStartGroup WireType = 3 // deprecated, rejected
	wireEndGroup   WireType = 4 // deprecated, rejected
	WireFixed32    WireType = 5 // fixed32, sfixed32, float
)

var wireTypeNames = map[WireType]string{
	WireVarint:     "varint",
	WireFixed64:    "fixed64",
	WireBytes:      "length-delimited",
	wireStartGroup: "start-group",
	wireEndGroup:   "end-group",
	WireFixed32:    "fixed32",
}

// String returns a string representation of wt.
func (wt WireType) String() string {
	if s, ok := wireTypeNames[wt]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether wt is one of the four wire types this codec accepts.
func (wt WireType) Valid() bool {
	switch wt {
	case WireVarint, WireFixed64, WireBytes, WireFixed32:
		return true
	}
	return false
}

// FieldNumber represents a protobuf field number
type FieldNumber int32

const (
	MinFieldNumber FieldNumber = 1
	MaxFieldNumber FieldNumber = 1<<29 - 1

	// Reserved for the protobuf implementation itself.
	FirstReservedNumber FieldNumber = 19000
	LastReservedNumber  FieldNumber = 19999
)

// Valid reports whether n is inside the encodable field number range.
func (n FieldNumber) Valid() bool {
	return n >= MinFieldNumber && n <= MaxFieldNumber
}

// Tag represents a protobuf field tag (field number + wire type)
type Tag uint64

// MakeTag creates a tag from field number and wire type
func MakeTag(fieldNumber FieldNumber, wireType WireType) Tag {
	return Tag(uint64(fieldNumber)<<3 | uint64(wireType&7))
}

// ParseTag parses a tag into field number and wire type
func ParseTag(tag Tag) (FieldNumber, WireType) {
	return FieldNumber(tag >> 3), WireType(tag & 0x7)
}
