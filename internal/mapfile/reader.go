package mapfile

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/hashbrowncipher/happycache/internal/constants"
)

// ErrLineTooLong reports a map line exceeding the line buffer. Paths that
// long cannot have been produced by dump, so the input is corrupt.
var ErrLineTooLong = errors.New("mapfile: line exceeds buffer")

// Reader streams lines out of a compressed map file.
type Reader struct {
	f   *os.File
	gz  *gzip.Reader
	br  *bufio.Reader
	eof bool
}

// Open opens a map file for streaming. A failure to read the gzip header
// is fatal to the load.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{
		f:  f,
		gz: gz,
		br: bufio.NewReaderSize(gz, constants.LineBufferSize),
	}, nil
}

// NewReader wraps an uncompressed line stream; used by tests and by
// callers that handle decompression themselves.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, constants.LineBufferSize)}
}

// Next returns the next line without its terminator. The final line may
// omit the trailing newline. io.EOF signals a clean end of stream; any
// other error means the input is corrupt.
func (r *Reader) Next() (string, error) {
	if r.eof {
		return "", io.EOF
	}
	line, err := r.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return "", ErrLineTooLong
	}
	if err == io.EOF {
		r.eof = true
		if len(line) == 0 {
			return "", io.EOF
		}
		return string(line), nil
	}
	if err != nil {
		return "", err
	}
	return string(line[:len(line)-1]), nil
}

// Close releases the underlying stream.
func (r *Reader) Close() error {
	var err error
	if r.gz != nil {
		err = r.gz.Close()
	}
	if r.f != nil {
		if cerr := r.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ParseDelta classifies a line. A line that wholly parses as a
// non-negative decimal integer is a delta; anything else is a path.
func ParseDelta(line string) (uint64, bool) {
	if len(line) == 0 {
		return 0, false
	}
	d, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		return 0, false
	}
	return d, true
}
