// Package backup packs and unpacks the registry archive.
package backup

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/najahiiii/xray-panel/internal/model"

	"github.com/klauspost/compress/zip"
)

const (
	ClientsName  = "clients.db"
	InboundsName = "inbounds.db"
)

// maxEntrySize bounds a single decompressed entry.
const maxEntrySize = 64 << 20

// Archive holds the files of a backup. Inbounds is nil when the archive
// carries no inbound-definition file.
type Archive struct {
	Clients  []byte
	Inbounds []byte
}

// Write encodes a as a zip archive.
func Write(w io.Writer, a Archive) error {
	zw := zip.NewWriter(w)
	files := []struct {
		name string
		data []byte
	}{{ClientsName, a.Clients}}
	if a.Inbounds != nil {
		files = append(files, struct {
			name string
			data []byte
		}{InboundsName, a.Inbounds})
	}
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: time.Now()}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if _, err := fw.Write(f.data); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return zw.Close()
}

// Read decodes an archive. Every entry name is checked before anything is
// returned; any name other than the two registry files rejects the whole
// archive with model.ErrUnsafeArchive.
func Read(data []byte) (Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Archive{}, fmt.Errorf("%w: %w", model.ErrUnsafeArchive, err)
	}
	for _, f := range zr.File {
		if f.Name != ClientsName && f.Name != InboundsName {
			return Archive{}, fmt.Errorf("%w: entry %q", model.ErrUnsafeArchive, f.Name)
		}
		if f.UncompressedSize64 > maxEntrySize {
			return Archive{}, fmt.Errorf("%w: entry %q too large", model.ErrUnsafeArchive, f.Name)
		}
	}

	var a Archive
	found := false
	for _, f := range zr.File {
		body, err := readEntry(f)
		if err != nil {
			return Archive{}, err
		}
		switch f.Name {
		case ClientsName:
			a.Clients = body
			found = true
		case InboundsName:
			a.Inbounds = body
		}
	}
	if !found {
		return Archive{}, fmt.Errorf("%w: %s missing", model.ErrUnsafeArchive, ClientsName)
	}
	return a, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(body) > maxEntrySize {
		return nil, fmt.Errorf("%w: entry %q too large", model.ErrUnsafeArchive, f.Name)
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}
