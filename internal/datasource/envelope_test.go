package datasource

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func zstdBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	if _, err := w.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

type closeCounter struct {
	io.Reader
	closed int
}

func (c *closeCounter) Close() error { c.closed++; return nil }

func TestDecompress(t *testing.T) {
	t.Parallel()

	const payload = `{"batch_id":1}`
	tests := []struct {
		name        string
		in          []byte
		compression string
	}{
		{"none", []byte(payload), CompressionNone},
		{"empty_means_none", []byte(payload), ""},
		{"zstd", zstdBytes(t, []byte(payload)), CompressionZstd},
		{"auto_plain", []byte(payload), CompressionAuto},
		{"auto_zstd", zstdBytes(t, []byte(payload)), CompressionAuto},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &closeCounter{Reader: bytes.NewReader(tt.in)}
			rc, err := Decompress(src, tt.compression)
			if err != nil {
				t.Fatalf("Decompress error = %v", err)
			}
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("ReadAll error = %v", err)
			}
			if string(got) != payload {
				t.Fatalf("got %q, want %q", got, payload)
			}
			if err := rc.Close(); err != nil {
				t.Fatalf("Close error = %v", err)
			}
			if src.closed != 1 {
				t.Fatalf("underlying closed %d times, want 1", src.closed)
			}
		})
	}
}

func TestDecompressAutoShortInput(t *testing.T) {
	t.Parallel()

	rc, err := Decompress(io.NopCloser(bytes.NewReader([]byte{0x0a})), CompressionAuto)
	if err != nil {
		t.Fatalf("Decompress error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, []byte{0x0a}) {
		t.Fatalf("got %v", got)
	}
}

func TestDecompressUnknown(t *testing.T) {
	t.Parallel()

	src := &closeCounter{Reader: bytes.NewReader(nil)}
	if _, err := Decompress(src, "lz4"); err == nil {
		t.Fatalf("Decompress(lz4) error = nil")
	}
	if src.closed != 1 {
		t.Fatalf("source not closed on error")
	}
}

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		head              []byte
		format, compressn string
	}{
		{zstdMagic, "", CompressionZstd},
		{[]byte("  \n{\"batch_id\""), FormatJSONL, CompressionNone},
		{[]byte{0x08, 0x01, 0x12}, FormatProto, CompressionNone},
		{nil, FormatProto, CompressionNone},
	}
	for _, tt := range tests {
		f, c := Sniff(tt.head)
		if f != tt.format || c != tt.compressn {
			t.Fatalf("Sniff(%q) = %q, %q; want %q, %q", tt.head, f, c, tt.format, tt.compressn)
		}
	}
}
