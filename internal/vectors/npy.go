package vectors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/stopeworks/stope/internal/paths"
)

// npy format v1.0 framing.
const (
	npyMagic        = "\x93NUMPY"
	npyVersionMajor = 1
	npyVersionMinor = 0

	// npyHeaderAlign pads the header so data starts on a 64-byte boundary.
	npyHeaderAlign = 64

	// npyDType is the only element type persisted: little-endian float32.
	npyDType = "<f4"
)

// ErrBadNPY reports a file that is not a supported .npy matrix.
var ErrBadNPY = errors.New("unsupported npy file")

// npyShapeRe extracts the shape tuple from the header dict. Only 1-D and
// 2-D C-order float32 arrays are accepted.
var npyShapeRe = regexp.MustCompile(`'shape':\s*\((\d+)(?:,\s*(\d+)?)?\s*\)`)

// WriteNPY atomically persists the matrix at path in npy v1.0 format.
func WriteNPY(path string, m *Matrix) error {
	return paths.WriteAtomic(path, func(f *os.File) error {
		return encodeNPY(f, m)
	})
}

// ReadNPY loads a float32 matrix from an npy file. A 1-D array is returned
// as a single-column matrix.
func ReadNPY(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open npy %s: %w", path, err)
	}
	defer f.Close()

	m, err := decodeNPY(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read npy %s: %w", path, err)
	}

	return m, nil
}

func encodeNPY(w io.Writer, m *Matrix) error {
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d), }",
		npyDType, m.rows, m.cols)

	// Pad with spaces and a trailing newline to the alignment boundary.
	unpadded := len(npyMagic) + 2 + 2 + len(header) + 1
	padding := (npyHeaderAlign - unpadded%npyHeaderAlign) % npyHeaderAlign

	var buf bytes.Buffer

	buf.WriteString(npyMagic)
	buf.WriteByte(npyVersionMajor)
	buf.WriteByte(npyVersionMinor)

	headerLen := len(header) + padding + 1
	_ = binary.Write(&buf, binary.LittleEndian, uint16(headerLen))

	buf.WriteString(header)

	for range padding {
		buf.WriteByte(' ')
	}

	buf.WriteByte('\n')

	_, err := w.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("write npy header: %w", err)
	}

	err = binary.Write(w, binary.LittleEndian, m.data)
	if err != nil {
		return fmt.Errorf("write npy data: %w", err)
	}

	return nil
}

func decodeNPY(r io.Reader) (*Matrix, error) {
	preamble := make([]byte, len(npyMagic)+2+2)

	_, err := io.ReadFull(r, preamble)
	if err != nil {
		return nil, fmt.Errorf("read preamble: %w", err)
	}

	if string(preamble[:len(npyMagic)]) != npyMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadNPY)
	}

	if preamble[len(npyMagic)] != npyVersionMajor {
		return nil, fmt.Errorf("%w: version %d.%d", ErrBadNPY,
			preamble[len(npyMagic)], preamble[len(npyMagic)+1])
	}

	headerLen := binary.LittleEndian.Uint16(preamble[len(preamble)-2:])
	header := make([]byte, headerLen)

	_, err = io.ReadFull(r, header)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	rows, cols, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}

	m := NewMatrix(rows, cols)

	err = binary.Read(r, binary.LittleEndian, m.data)
	if err != nil {
		return nil, fmt.Errorf("read npy data: %w", err)
	}

	return m, nil
}

func parseNPYHeader(header string) (rows, cols int, err error) {
	if !bytes.Contains([]byte(header), []byte("'descr': '"+npyDType+"'")) {
		return 0, 0, fmt.Errorf("%w: dtype is not %s", ErrBadNPY, npyDType)
	}

	if bytes.Contains([]byte(header), []byte("'fortran_order': True")) {
		return 0, 0, fmt.Errorf("%w: fortran order", ErrBadNPY)
	}

	groups := npyShapeRe.FindStringSubmatch(header)
	if groups == nil {
		return 0, 0, fmt.Errorf("%w: missing shape", ErrBadNPY)
	}

	rows, err = strconv.Atoi(groups[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: shape %q", ErrBadNPY, groups[1])
	}

	cols = 1

	if groups[2] != "" {
		cols, err = strconv.Atoi(groups[2])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: shape %q", ErrBadNPY, groups[2])
		}
	}

	return rows, cols, nil
}
