package codec

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/granary-db/granary/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/multierr"
)

// Compressor pairs a streaming compressor and decompressor for one
// compression tag.
type Compressor interface {
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

var compressors = map[Compression]Compressor{
	BZ2: bzip2Compressor{},
	GZ:  gzipCompressor{},
	LZ4: lz4Compressor{},
	ZST: zstdCompressor{},
}

type gzipCompressor struct{}

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type bzip2Compressor struct{}

func (bzip2Compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return bzip2.NewWriter(w, nil)
}

func (bzip2Compressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return bzip2.NewReader(r, nil)
}

type lz4Compressor struct{}

func (lz4Compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Compressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type zstdCompressor struct{}

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

// DecompressBytes expands b in full. Corrupt framing is a Format error.
func DecompressBytes(b []byte, c Compression) ([]byte, error) {
	comp, ok := compressors[c]
	if !ok {
		return nil, gerr.E(gerr.Format, "no decompressor for %s", c)
	}
	r, err := comp.Decompress(bytes.NewReader(b))
	if err != nil {
		return nil, gerr.E(gerr.Format, "%s: %w", c, err)
	}
	out, err := io.ReadAll(r)
	if err = multierr.Append(err, r.Close()); err != nil {
		return nil, gerr.E(gerr.Format, "%s: %w", c, err)
	}
	return out, nil
}

// CompressBytes compresses b in full.
func CompressBytes(b []byte, c Compression) ([]byte, error) {
	if c == None {
		return b, nil
	}
	var buf bytes.Buffer
	w, err := compressors[c].Compress(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
