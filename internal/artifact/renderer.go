// Package artifact renders sealed payload URLs into scannable QR images.
package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the QR image edge in pixels.
const DefaultSize = 400

// Renderer turns a URL into an image reference a browser can load.
type Renderer interface {
	Render(ctx context.Context, sessionID, content string) (ref string, err error)
	Remove(ref string) error
}

// ErrForeignRef is returned by Remove for references it did not produce.
var ErrForeignRef = errors.New("artifact: reference not owned by renderer")

// FileRenderer writes PNG files into a directory served under URLPrefix.
type FileRenderer struct {
	Dir       string
	URLPrefix string
	Size      int
	// MaxAge bounds how long a file survives Sweep.
	MaxAge time.Duration
}

var _ Renderer = (*FileRenderer)(nil)

// NewFileRenderer creates dir when missing.
func NewFileRenderer(dir, urlPrefix string, maxAge time.Duration) (*FileRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("qr dir: %w", err)
	}
	return &FileRenderer{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/"), Size: DefaultSize, MaxAge: maxAge}, nil
}

// Render writes qr_<ulid>.png and returns its public path.
func (r *FileRenderer) Render(ctx context.Context, _ string, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := "qr_" + ulid.Make().String() + ".png"
	if err := qrcode.WriteFile(content, qrcode.Medium, r.size(), filepath.Join(r.Dir, name)); err != nil {
		return "", fmt.Errorf("write qr: %w", err)
	}
	return r.URLPrefix + "/" + name, nil
}

// Remove deletes the file behind ref.
func (r *FileRenderer) Remove(ref string) error {
	name, ok := strings.CutPrefix(ref, r.URLPrefix+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) {
		return ErrForeignRef
	}
	err := os.Remove(filepath.Join(r.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Sweep deletes QR files older than MaxAge.
func (r *FileRenderer) Sweep(now time.Time) int {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "qr_") || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= r.MaxAge {
			continue
		}
		if os.Remove(filepath.Join(r.Dir, e.Name())) == nil {
			n++
		}
	}
	return n
}

func (r *FileRenderer) size() int {
	if r.Size > 0 {
		return r.Size
	}
	return DefaultSize
}

// InlineRenderer returns data: URLs and keeps nothing on disk.
type InlineRenderer struct {
	Size int
}

var _ Renderer = InlineRenderer{}

// Render implements Renderer.
func (r InlineRenderer) Render(ctx context.Context, _ string, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	size := r.Size
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Remove is a no-op; inline images are owned by the client.
func (InlineRenderer) Remove(string) error { return nil }
