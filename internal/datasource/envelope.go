package datasource

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Container encodings understood by the pipeline.
const (
	FormatProto = "proto" // one protobuf BatchArrowRecords message
	FormatJSONL = "jsonl" // one JSON container per line
)

// Compression envelopes.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionAuto = "auto"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Sniff guesses format and compression from the first bytes of a source.
// A zstd frame hides the format, so format is empty in that case.
func Sniff(head []byte) (format, compression string) {
	if bytes.HasPrefix(head, zstdMagic) {
		return "", CompressionZstd
	}
	if b := bytes.TrimLeft(head, " \t\r\n"); len(b) > 0 && b[0] == '{' {
		return FormatJSONL, CompressionNone
	}
	return FormatProto, CompressionNone
}

// Decompress wraps rc according to compression. "auto" peeks at the stream
// and unwraps a zstd frame when one is present. Closing the result closes rc.
func Decompress(rc io.ReadCloser, compression string) (io.ReadCloser, error) {
	switch strings.ToLower(compression) {
	case "", CompressionNone:
		return rc, nil
	case CompressionZstd:
		return newZstd(rc, rc)
	case CompressionAuto:
		head := make([]byte, len(zstdMagic))
		n, err := io.ReadFull(rc, head)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			_ = rc.Close()
			return nil, fmt.Errorf("datasource: sniff: %w", err)
		}
		r := io.MultiReader(bytes.NewReader(head[:n]), rc)
		if _, c := Sniff(head[:n]); c == CompressionZstd {
			return newZstd(r, rc)
		}
		return readCloser{Reader: r, close: rc.Close}, nil
	default:
		_ = rc.Close()
		return nil, fmt.Errorf("datasource: unknown compression %q", compression)
	}
}

func newZstd(r io.Reader, under io.Closer) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = under.Close()
		return nil, fmt.Errorf("datasource: zstd: %w", err)
	}
	return readCloser{Reader: dec, close: func() error {
		dec.Close()
		return under.Close()
	}}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }
