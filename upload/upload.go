// Package upload stores profile images in Cloud Storage.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

const maxImageBytes = 5 << 20

var (
	ErrUploadFailed = errors.New("upload failed")
	ErrInvalidImage = errors.New("invalid image")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// WriterFunc opens a writer for object name with the given content type.
type WriterFunc func(ctx context.Context, name, contentType string) io.WriteCloser

type Images struct {
	bucket string
	open   WriterFunc
}

// NewImages returns an uploader writing into bucket through client.
func NewImages(client *storage.Client, bucket string) *Images {
	return NewImagesWith(bucket, func(ctx context.Context, name, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(name).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = "public, max-age=86400"
		return w
	})
}

func NewImagesWith(bucket string, open WriterFunc) *Images {
	return &Images{bucket: bucket, open: open}
}

// UploadProfileImage stores a base64 image under the user's folder and returns
// its public URL. A data URL prefix is accepted.
func (i *Images) UploadProfileImage(ctx context.Context, userID, encoded string) (string, error) {
	data, contentType, err := decodeImage(encoded)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("profilePics/%s/%s%s", userID, uuid.NewString(), extensions[contentType])

	w := i.open(ctx, name, contentType)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("%w: write %s: %w", ErrUploadFailed, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", ErrUploadFailed, name, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", i.bucket, name), nil
}

func decodeImage(encoded string) ([]byte, string, error) {
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("%w: malformed data url", ErrInvalidImage)
		}
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, maxImageBytes)
	}
	contentType := http.DetectContentType(data)
	if _, ok := extensions[contentType]; !ok {
		return nil, "", fmt.Errorf("%w: unsupported type %s", ErrInvalidImage, contentType)
	}
	return data, contentType, nil
}
