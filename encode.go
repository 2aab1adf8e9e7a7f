package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Encoder turns diagram source into a URL payload and back.
type Encoder interface {
	Encode(src []byte) (string, error)
	Decode(payload string) ([]byte, error)
}

const plantumlAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

const hexPrefix = "~h"

// DefaultEncoding is zlib followed by standard base64.
const DefaultEncoding = "base64"

var encoders = map[string]Encoder{
	"base64":   &zlibEncoder{level: zlib.BestCompression, enc: base64.StdEncoding},
	"kroki":    &zlibEncoder{level: zlib.BestCompression, enc: base64.URLEncoding},
	"plantuml": &deflateEncoder{enc: base64.NewEncoding(plantumlAlphabet).WithPadding(base64.NoPadding)},
	"hex":      hexEncoder{},
}

// EncodingNames lists the registered encodings, sorted.
func EncodingNames() []string {
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupEncoder returns the encoder registered under name.
func LookupEncoder(name string) (Encoder, error) {
	e, ok := encoders[name]
	if !ok {
		return nil, errors.Errorf("unknown encoding %q (valid: %s)", name, strings.Join(EncodingNames(), ", "))
	}
	return e, nil
}

type zlibEncoder struct {
	level int
	enc   *base64.Encoding
}

func (z *zlibEncoder) Encode(src []byte) (string, error) {
	var b bytes.Buffer
	zw, err := zlib.NewWriterLevel(&b, z.level)
	if err != nil {
		return "", errors.Wrap(err, "failed to create zlib writer")
	}
	if _, err := zw.Write(src); err != nil {
		return "", errors.Wrap(err, "failed to compress")
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "failed to compress")
	}
	return z.enc.EncodeToString(b.Bytes()), nil
}

func (z *zlibEncoder) Decode(payload string) ([]byte, error) {
	compressed, err := z.enc.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base64 payload")
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open zlib stream")
	}
	defer zr.Close()
	src, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress")
	}
	return src, nil
}

// deflateEncoder is what the PlantUML server expects natively: a raw
// deflate stream in PlantUML's own base64 alphabet.
type deflateEncoder struct {
	enc *base64.Encoding
}

func (d *deflateEncoder) Encode(src []byte) (string, error) {
	var b bytes.Buffer
	fw, err := flate.NewWriter(&b, flate.BestCompression)
	if err != nil {
		return "", errors.Wrap(err, "failed to create deflate writer")
	}
	if _, err := fw.Write(src); err != nil {
		return "", errors.Wrap(err, "failed to compress")
	}
	if err := fw.Close(); err != nil {
		return "", errors.Wrap(err, "failed to compress")
	}
	return d.enc.EncodeToString(b.Bytes()), nil
}

func (d *deflateEncoder) Decode(payload string) ([]byte, error) {
	compressed, err := d.enc.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode plantuml payload")
	}
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	src, err := io.ReadAll(fr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress")
	}
	return src, nil
}

// hexEncoder skips compression altogether.
type hexEncoder struct{}

func (hexEncoder) Encode(src []byte) (string, error) {
	return hexPrefix + hex.EncodeToString(src), nil
}

func (hexEncoder) Decode(payload string) ([]byte, error) {
	if !strings.HasPrefix(payload, hexPrefix) {
		return nil, errors.Errorf("hex payload must start with %q", hexPrefix)
	}
	src, err := hex.DecodeString(strings.TrimPrefix(payload, hexPrefix))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode hex payload")
	}
	return src, nil
}
