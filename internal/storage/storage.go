// Package storage persists report images. The local store writes under an
// upload directory served at /uploads; the S3 store targets any
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted report image
const MaxImageSize = 10 << 20

// ErrUnsupportedImage is returned for files that are not an accepted image type
var ErrUnsupportedImage = errors.New("only JPG, JPEG, PNG, GIF, WEBP and BMP images are supported")

var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// SniffImage checks the filename extension and the leading bytes against the
// image whitelist and returns the detected content type.
func SniffImage(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExt[ext]; !ok {
		return "", ErrUnsupportedImage
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	detected := http.DetectContentType(head)
	if allowedMime[detected] {
		return detected, nil
	}
	return "", ErrUnsupportedImage
}

// ImageStore saves and removes report images
type ImageStore interface {
	// Save stores data and returns the public URL of the image
	Save(ctx context.Context, filename, contentType string, data []byte) (string, error)
	// Delete removes an image previously returned by Save
	Delete(ctx context.Context, url string) error
}

// objectName builds a collision-free name that keeps the original extension
func objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExt[ext]; !ok {
		ext = ""
	}
	return "report-" + uuid.NewString() + ext
}
