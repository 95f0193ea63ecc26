// Package remote encodes and decodes Prometheus remote-write and remote-read
// bodies with the schema-driven codec. Bodies are protobuf messages
// compressed with the snappy block format.
package remote

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/anirudhraja/protocodec/codec"
	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/registry"
	"github.com/anirudhraja/protocodec/schema"
)

//go:embed prometheus.proto
var prometheusProto string

// SchemaFile is the name the embedded schema is registered under.
const SchemaFile = "prometheus.proto"

// HTTP header values of the remote storage protocol.
const (
	ContentType              = "application/x-protobuf"
	ChunkedContentType       = "application/x-streamed-protobuf; proto=prometheus.ChunkedReadResponse"
	ContentEncoding          = "snappy"
	RemoteWriteVersionHeader = "X-Prometheus-Remote-Write-Version"
	RemoteWriteVersion       = "0.1.0"
	RemoteReadVersionHeader  = "X-Prometheus-Remote-Read-Version"
	RemoteReadVersion        = "0.1.0"
)

// DefaultMaxDecodedSize bounds the uncompressed size of a body.
const DefaultMaxDecodedSize = 32 << 20

var (
	// ErrTooLarge is returned when a body would decompress past the limit.
	ErrTooLarge = errors.New("decoded body too large")

	// ErrWrongType is returned when encoding a message of another type than
	// the body requires.
	ErrWrongType = errors.New("wrong message type")
)

// LabelMatcher types.
const (
	MatchEqual int32 = iota
	MatchNotEqual
	MatchRegexp
	MatchNotRegexp
)

// ReadRequest response types.
const (
	ResponseSamples           int32 = 0
	ResponseStreamedXORChunks int32 = 1
)

// Codec holds the resolved remote storage schema.
type Codec struct {
	logger         *zap.Logger
	maxDecodedSize int
	unmarshal      codec.UnmarshalOptions
	marshal        codec.MarshalOptions
	registry       *registry.Registry

	writeRequest        *schema.Message
	readRequest         *schema.Message
	readResponse        *schema.Message
	chunkedReadResponse *schema.Message
	timeSeries          *schema.Message
	label               *schema.Message
	sample              *schema.Message
	query               *schema.Message
	labelMatcher        *schema.Message
	queryResult         *schema.Message
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger used while loading the schema.
func WithLogger(l *zap.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxDecodedSize sets the largest uncompressed body accepted.
func WithMaxDecodedSize(n int) Option {
	return func(c *Codec) {
		c.maxDecodedSize = n
	}
}

// WithConfig sets the codec behaviors used for bodies.
func WithConfig(cfg codec.Config) Option {
	return func(c *Codec) {
		c.unmarshal = cfg.UnmarshalOptions()
		c.marshal = cfg.MarshalOptions()
	}
}

// NewCodec loads the embedded schema into a private registry.
func NewCodec(opts ...Option) (*Codec, error) {
	c := &Codec{
		logger:         zap.NewNop(),
		maxDecodedSize: DefaultMaxDecodedSize,
		unmarshal:      codec.DefaultConfig().UnmarshalOptions(),
		marshal:        codec.DefaultConfig().MarshalOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry = registry.NewRegistry(registry.WithLogger(c.logger))
	if err := c.registry.LoadProtoSource(SchemaFile, strings.NewReader(prometheusProto)); err != nil {
		return nil, fmt.Errorf("failed to load remote storage schema: %w", err)
	}

	for _, m := range []struct {
		name string
		dst  **schema.Message
	}{
		{"WriteRequest", &c.writeRequest},
		{"ReadRequest", &c.readRequest},
		{"ReadResponse", &c.readResponse},
		{"ChunkedReadResponse", &c.chunkedReadResponse},
		{"TimeSeries", &c.timeSeries},
		{"Label", &c.label},
		{"Sample", &c.sample},
		{"Query", &c.query},
		{"LabelMatcher", &c.labelMatcher},
		{"QueryResult", &c.queryResult},
	} {
		md, err := c.registry.GetMessage("prometheus." + m.name)
		if err != nil {
			return nil, err
		}
		*m.dst = md
	}
	return c, nil
}

// Registry returns the registry holding the remote storage schema.
func (c *Codec) Registry() *registry.Registry {
	return c.registry
}

// Message returns the schema of a message of the prometheus package, such
// as "Histogram".
func (c *Codec) Message(name string) (*schema.Message, error) {
	return c.registry.GetMessage("prometheus." + strings.TrimPrefix(name, "prometheus."))
}

// EncodeWriteRequest returns the compressed body of a WriteRequest.
func (c *Codec) EncodeWriteRequest(req *dynamic.Message) ([]byte, error) {
	return c.encode(req, c.writeRequest)
}

// DecodeWriteRequest decodes a compressed WriteRequest body.
func (c *Codec) DecodeWriteRequest(body []byte) (*dynamic.Message, error) {
	return c.decode(body, c.writeRequest)
}

// EncodeReadRequest returns the compressed body of a ReadRequest.
func (c *Codec) EncodeReadRequest(req *dynamic.Message) ([]byte, error) {
	return c.encode(req, c.readRequest)
}

// DecodeReadRequest decodes a compressed ReadRequest body.
func (c *Codec) DecodeReadRequest(body []byte) (*dynamic.Message, error) {
	return c.decode(body, c.readRequest)
}

// EncodeReadResponse returns the compressed body of a sampled ReadResponse.
func (c *Codec) EncodeReadResponse(resp *dynamic.Message) ([]byte, error) {
	return c.encode(resp, c.readResponse)
}

// DecodeReadResponse decodes a compressed ReadResponse body.
func (c *Codec) DecodeReadResponse(body []byte) (*dynamic.Message, error) {
	return c.decode(body, c.readResponse)
}

func (c *Codec) encode(m *dynamic.Message, want *schema.Message) ([]byte, error) {
	if m == nil || m.Descriptor() != want {
		return nil, fmt.Errorf("%w: want %s", ErrWrongType, want.FullName)
	}
	data, err := c.marshal.Marshal(m)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func (c *Codec) decode(body []byte, md *schema.Message) (*dynamic.Message, error) {
	n, err := snappy.DecodedLen(body)
	if err != nil {
		return nil, fmt.Errorf("invalid snappy body: %w", err)
	}
	if n > c.maxDecodedSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, n, c.maxDecodedSize)
	}
	data, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("invalid snappy body: %w", err)
	}
	return c.unmarshal.Unmarshal(data, md)
}

// NewLabel returns a Label.
func (c *Codec) NewLabel(name, value string) *dynamic.Message {
	l := dynamic.New(c.label)
	set(l, "name", name)
	set(l, "value", value)
	return l
}

// NewSample returns a Sample at timestampMs, milliseconds since the epoch.
func (c *Codec) NewSample(value float64, timestampMs int64) *dynamic.Message {
	s := dynamic.New(c.sample)
	set(s, "value", value)
	set(s, "timestamp", timestampMs)
	return s
}

// NewTimeSeries returns a TimeSeries with labels sorted by name.
func (c *Codec) NewTimeSeries(labels map[string]string, samples ...*dynamic.Message) *dynamic.Message {
	ts := dynamic.New(c.timeSeries)
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add(ts, "labels", c.NewLabel(name, labels[name]))
	}
	for _, s := range samples {
		add(ts, "samples", s)
	}
	return ts
}

// NewWriteRequest returns a WriteRequest carrying series.
func (c *Codec) NewWriteRequest(series ...*dynamic.Message) *dynamic.Message {
	req := dynamic.New(c.writeRequest)
	for _, ts := range series {
		add(req, "timeseries", ts)
	}
	return req
}

// NewLabelMatcher returns a LabelMatcher of one of the Match types.
func (c *Codec) NewLabelMatcher(matchType int32, name, value string) *dynamic.Message {
	m := dynamic.New(c.labelMatcher)
	set(m, "type", matchType)
	set(m, "name", name)
	set(m, "value", value)
	return m
}

// NewQuery returns a Query over [startMs, endMs].
func (c *Codec) NewQuery(startMs, endMs int64, matchers ...*dynamic.Message) *dynamic.Message {
	q := dynamic.New(c.query)
	set(q, "start_timestamp_ms", startMs)
	set(q, "end_timestamp_ms", endMs)
	for _, m := range matchers {
		add(q, "matchers", m)
	}
	return q
}

// NewReadRequest returns a ReadRequest asking for sampled responses.
func (c *Codec) NewReadRequest(queries ...*dynamic.Message) *dynamic.Message {
	req := dynamic.New(c.readRequest)
	for _, q := range queries {
		add(req, "queries", q)
	}
	return req
}

// NewReadResponse returns a ReadResponse with one QueryResult per entry of
// results, each holding the given series.
func (c *Codec) NewReadResponse(results ...[]*dynamic.Message) *dynamic.Message {
	resp := dynamic.New(c.readResponse)
	for _, series := range results {
		qr := dynamic.New(c.queryResult)
		for _, ts := range series {
			add(qr, "timeseries", ts)
		}
		add(resp, "results", qr)
	}
	return resp
}

// Labels returns the labels of a TimeSeries or ChunkedSeries as a map.
func Labels(series *dynamic.Message) map[string]string {
	out := make(map[string]string)
	list, _ := series.GetByName("labels")
	items, _ := list.([]any)
	for _, item := range items {
		l, ok := item.(*dynamic.Message)
		if !ok {
			continue
		}
		name, _ := l.GetByName("name")
		value, _ := l.GetByName("value")
		n, _ := name.(string)
		v, _ := value.(string)
		out[n] = v
	}
	return out
}

// set and add address fields of the embedded schema, which always exist.
func set(m *dynamic.Message, name string, v any) {
	m.SetField(m.Descriptor().FieldByName(name), v)
}

func add(m *dynamic.Message, name string, v any) {
	_ = m.AppendField(m.Descriptor().FieldByName(name), v)
}
