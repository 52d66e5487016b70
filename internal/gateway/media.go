package gateway

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
)

// Media is an image ready to be attached to a message.
type Media struct {
	Data     []byte
	MimeType string
}

// DataURI encodes the image the way the gateway's sendMedia expects it.
func (m Media) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", m.MimeType, base64.StdEncoding.EncodeToString(m.Data))
}

var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// MimeTypeFor maps an image extension to its MIME type, defaulting to image/jpeg.
func MimeTypeFor(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "image/jpeg"
}

// MediaLoader reads campaign images.
type MediaLoader interface {
	Load(path string) (Media, error)
}

// FileMediaLoader resolves relative paths against Root.
type FileMediaLoader struct {
	Root string
}

func NewFileMediaLoader(root string) *FileMediaLoader {
	return &FileMediaLoader{Root: root}
}

// Load returns a *appErrors.MediaLoadError for any failure.
func (l *FileMediaLoader) Load(path string) (Media, error) {
	full := path
	if !filepath.IsAbs(full) && l.Root != "" {
		full = filepath.Join(l.Root, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return Media{}, &appErrors.MediaLoadError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return Media{}, &appErrors.MediaLoadError{Path: path, Err: fmt.Errorf("file is empty")}
	}
	return Media{Data: data, MimeType: MimeTypeFor(full)}, nil
}

var _ MediaLoader = (*FileMediaLoader)(nil)
