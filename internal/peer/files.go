package peer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkeye/RemoteDesk/internal/control"
	"github.com/dkeye/RemoteDesk/internal/transfer"
	"github.com/gabriel-vasile/mimetype"
)

// DirFiles serves files from a single directory. Names never escape Root.
type DirFiles struct {
	Root string
}

var _ control.FileSource = DirFiles{}

func (d DirFiles) resolve(name string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + name))
	if clean == "/" || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(d.Root, clean), nil
}

func (d DirFiles) Open(name string) (io.ReadSeekCloser, string, error) {
	path, err := d.resolve(name)
	if err != nil {
		return nil, "", err
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	return f, mt.String(), nil
}

// Save writes a completed, intact transfer into Root and returns its path.
func (d DirFiles) Save(ev transfer.Event) (string, error) {
	if ev.Kind != transfer.EventComplete {
		return "", fmt.Errorf("transfer %q not complete", ev.Name)
	}
	if ev.Err != nil {
		return "", fmt.Errorf("transfer %q: %w", ev.Name, ev.Err)
	}
	path, err := d.resolve(ev.Name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, ev.Data, 0o644)
}
