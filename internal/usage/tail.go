package usage

import (
	"bytes"
	"io"
	"os"
)

const tailChunk = 64 * 1024

// TailFile returns up to max trailing lines of path in file order.
func TailFile(path string, max int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}

	var buf []byte
	offset := info.Size()
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= max {
		n := int64(tailChunk)
		if offset < n {
			n = offset
		}
		offset -= n
		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	buf = bytes.TrimRight(buf, "\n")
	if len(buf) == 0 {
		return nil, nil
	}
	parts := bytes.Split(buf, []byte{'\n'})
	if len(parts) > max {
		parts = parts[len(parts)-max:]
	}
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(bytes.TrimRight(p, "\r"))
	}
	return lines, nil
}
