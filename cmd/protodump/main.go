// protodump converts protobuf messages between the binary wire format and
// JSON using schemas loaded at run time.
//
//	protodump --proto-path api --proto shop.proto --type shop.Order < order.bin
//	protodump --proto shop.proto --type shop.Order --encode < order.json > order.bin
//	protodump --remote-write < body.snappy
//	protodump --raw < unknown.bin
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anirudhraja/protocodec"
	"github.com/anirudhraja/protocodec/codec"
	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/remote"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	protoPaths    []string
	protos        []string
	descriptorSet string
	messageType   string
	remoteWrite   bool
	snappy        bool
	encode        bool
	raw           bool
	configPath    string
	logLevel      string
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	var f flags
	fs := pflag.NewFlagSet("protodump", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringArrayVarP(&f.protoPaths, "proto-path", "I", nil, "directory searched for .proto files and imports (repeatable)")
	fs.StringArrayVar(&f.protos, "proto", nil, ".proto file to load (repeatable)")
	fs.StringVar(&f.descriptorSet, "descriptor-set", "", "serialized FileDescriptorSet to load")
	fs.StringVarP(&f.messageType, "type", "t", "", "message type of the input")
	fs.BoolVar(&f.remoteWrite, "remote-write", false, "input is a snappy-compressed Prometheus WriteRequest")
	fs.BoolVar(&f.snappy, "snappy", false, "protobuf side is snappy block compressed")
	fs.BoolVarP(&f.encode, "encode", "e", false, "read JSON and write protobuf")
	fs.BoolVar(&f.raw, "raw", false, "dump fields without a schema")
	fs.StringVar(&f.configPath, "config", "", "YAML codec configuration")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	switch {
	case f.raw && f.encode:
		return nil, errors.New("--raw cannot be combined with --encode")
	case f.raw && f.remoteWrite:
		return nil, errors.New("--raw cannot be combined with --remote-write")
	case f.remoteWrite && f.messageType != "":
		return nil, errors.New("--remote-write implies the message type, drop --type")
	case !f.raw && !f.remoteWrite && f.messageType == "":
		return nil, errors.New("--type is required")
	}
	return &f, nil
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl)), nil
}

func loadConfig(path string) (codec.Config, error) {
	cfg := codec.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = codec.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	return codec.ConfigFromEnv(cfg)
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(f.logLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	// JSON objects cannot carry non-string keys.
	mapOpts := cfg.MapOptions()
	mapOpts.StringKeys = true

	input, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	switch {
	case f.remoteWrite:
		return runRemoteWrite(f, cfg, mapOpts, logger, input, stdout)
	case f.raw:
		if f.snappy {
			if input, err = snappy.Decode(nil, input); err != nil {
				return fmt.Errorf("invalid snappy input: %w", err)
			}
		}
		fields, err := protocodec.New().ParseRaw(input)
		if err != nil {
			return err
		}
		return writeJSON(stdout, fields)
	}

	pc := protocodec.New(
		protocodec.WithProtoDirectories(f.protoPaths...),
		protocodec.WithConfig(cfg),
		protocodec.WithLogger(logger),
	)
	if f.descriptorSet != "" {
		data, err := os.ReadFile(f.descriptorSet)
		if err != nil {
			return fmt.Errorf("failed to read descriptor set: %w", err)
		}
		if err := pc.LoadDescriptorSet(data); err != nil {
			return err
		}
	}
	for _, p := range f.protos {
		if err := pc.LoadSchemaFromFile(p); err != nil {
			return err
		}
	}
	logger.Debug("schemas loaded", zap.Int("messages", len(pc.ListMessages())))

	if f.encode {
		doc, err := readJSON(input)
		if err != nil {
			return err
		}
		out, err := pc.Marshal(doc, f.messageType)
		if err != nil {
			return err
		}
		if f.snappy {
			out = snappy.Encode(nil, out)
		}
		_, err = stdout.Write(out)
		return err
	}

	if f.snappy {
		if input, err = snappy.Decode(nil, input); err != nil {
			return fmt.Errorf("invalid snappy input: %w", err)
		}
	}
	m, err := pc.Decode(input, f.messageType)
	if err != nil {
		return err
	}
	return writeJSON(stdout, dynamic.ToMap(m, mapOpts))
}

func runRemoteWrite(f *flags, cfg codec.Config, mapOpts dynamic.MapOptions, logger *zap.Logger, input []byte, stdout io.Writer) error {
	rc, err := remote.NewCodec(remote.WithConfig(cfg), remote.WithLogger(logger))
	if err != nil {
		return err
	}
	if f.encode {
		doc, err := readJSON(input)
		if err != nil {
			return err
		}
		md, err := rc.Message("WriteRequest")
		if err != nil {
			return err
		}
		req, err := dynamic.FromMap(md, doc)
		if err != nil {
			return err
		}
		body, err := rc.EncodeWriteRequest(req)
		if err != nil {
			return err
		}
		_, err = stdout.Write(body)
		return err
	}

	req, err := rc.DecodeWriteRequest(input)
	if err != nil {
		return err
	}
	return writeJSON(stdout, dynamic.ToMap(req, mapOpts))
}

func readJSON(input []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	return doc, nil
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}
