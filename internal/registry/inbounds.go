package registry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/najahiiii/xray-panel/internal/fsutil"
	"github.com/najahiiii/xray-panel/internal/model"
)

// InboundFile is inbounds.db. Only its first line `anything;TAG` matters:
// the panel provisions every new client on that single active inbound.
type InboundFile struct {
	path string
}

func NewInboundFile(path string) *InboundFile {
	return &InboundFile{path: path}
}

func (f *InboundFile) Path() string { return f.path }

func (f *InboundFile) Active() (model.Protocol, model.Transport, error) {
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return "", "", fmt.Errorf("active inbound: %w", model.ErrNotFound)
	}
	if err != nil {
		return "", "", err
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", "", err
		}
		return "", "", fmt.Errorf("active inbound: %w", model.ErrNotFound)
	}
	parts := strings.Split(strings.TrimSpace(sc.Text()), ";")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("active inbound: %w", model.ErrNotFound)
	}
	proto, trans, _ := model.ParseTag(parts[1])
	return proto, trans, nil
}

func (f *InboundFile) Replace(ctx context.Context, data []byte) error {
	unlock, err := fsutil.Lock(ctx, fsutil.LockPath(f.path), true)
	if err != nil {
		return err
	}
	defer unlock()
	return fsutil.WriteAtomic(f.path, data, 0o644)
}

// Export copies the raw file; a missing file writes nothing and reports false.
func (f *InboundFile) Export(w io.Writer) (bool, error) {
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return true, err
}
