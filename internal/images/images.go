// Package images stores uploaded background and day images on disk,
// addressed by a content hash.
package images

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"strings"

	"github.com/peterbourgon/diskv/v3"

	appLog "pictocal/internal/log"
)

var (
	ErrNotImage = errors.New("images: content is not a supported image")
	ErrTooLarge = errors.New("images: image too large")
	ErrNotFound = errors.New("images: not found")
	ErrEmpty    = errors.New("images: empty upload")
	ErrBadKey   = errors.New("images: invalid key")
)

// URLPrefix is where the web server serves stored images.
const URLPrefix = "/images/"

var keyPattern = regexp.MustCompile(`^[0-9a-f]{32}\.(png|jpg|gif|webp|bmp)$`)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// Ref describes a stored image.
type Ref struct {
	Key         string `json:"pathname"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// Store is a content-addressed image store.
type Store struct {
	d       *diskv.Diskv
	maxSize int64
}

// New opens (creating lazily) an image store rooted at dir. maxSize <= 0
// disables the size limit.
func New(dir string, maxSize int64) *Store {
	return &Store{
		d: diskv.New(diskv.Options{
			BasePath:          dir,
			AdvancedTransform: keyToPath,
			InverseTransform:  pathToKey,
			CacheSizeMax:      8 * 1024 * 1024,
			PathPerm:          0o755,
			FilePerm:          0o644,
		}),
		maxSize: maxSize,
	}
}

// keyToPath fans keys out over two directory levels: ab/cd/abcd....png.
func keyToPath(key string) *diskv.PathKey {
	if len(key) < 4 {
		return &diskv.PathKey{FileName: key}
	}
	return &diskv.PathKey{
		Path:     []string{key[0:2], key[2:4]},
		FileName: key,
	}
}

func pathToKey(pk *diskv.PathKey) string {
	return pk.FileName
}

// ValidKey reports whether key has the form produced by Put.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// KeyFromURL extracts the key of a URL produced by Put, e.g.
// "/images/<key>". ok is false for any other reference.
func KeyFromURL(u string) (string, bool) {
	key, found := strings.CutPrefix(u, URLPrefix)
	if !found || !ValidKey(key) {
		return "", false
	}
	return key, true
}

// ContentTypeOf maps a key's extension back to its MIME type.
func ContentTypeOf(key string) string {
	for ct, ext := range extensions {
		if strings.HasSuffix(key, ext) {
			return ct
		}
	}
	return "application/octet-stream"
}

// Put stores data and returns its reference. Identical content yields the
// same key, so re-uploading is a no-op.
func (s *Store) Put(data []byte) (Ref, error) {
	if len(data) == 0 {
		return Ref{}, ErrEmpty
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return Ref{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), s.maxSize)
	}

	ct := http.DetectContentType(data)
	ext, ok := extensions[ct]
	if !ok {
		return Ref{}, fmt.Errorf("%w: detected %s", ErrNotImage, ct)
	}

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:16]) + ext

	if !s.d.Has(key) {
		if err := s.d.Write(key, data); err != nil {
			return Ref{}, fmt.Errorf("images: write %s: %w", key, err)
		}
		appLog.Debug("image stored", "key", key, "content_type", ct, "size", len(data))
	}

	return Ref{
		Key:         key,
		URL:         URLPrefix + key,
		ContentType: ct,
		Size:        len(data),
	}, nil
}

// PutDataURI stores the payload of a base64 data:image/... URI.
func (s *Store) PutDataURI(uri string) (Ref, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Ref{}, fmt.Errorf("%w: not a data URI", ErrNotImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasPrefix(meta, "image/") || !strings.HasSuffix(meta, ";base64") {
		return Ref{}, fmt.Errorf("%w: unsupported data URI header %.40q", ErrNotImage, meta)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Ref{}, fmt.Errorf("%w: decode data URI: %v", ErrNotImage, err)
		}
	}
	return s.Put(data)
}

// Get returns a stored image and its content type.
func (s *Store) Get(key string) ([]byte, string, error) {
	if !ValidKey(key) {
		return nil, "", ErrBadKey
	}
	data, err := s.d.Read(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("images: read %s: %w", key, err)
	}
	return data, ContentTypeOf(key), nil
}

// Has reports whether key is stored.
func (s *Store) Has(key string) bool {
	return ValidKey(key) && s.d.Has(key)
}

// Delete removes an image. Deleting a missing key returns ErrNotFound.
func (s *Store) Delete(key string) error {
	if !ValidKey(key) {
		return ErrBadKey
	}
	if !s.d.Has(key) {
		return ErrNotFound
	}
	if err := s.d.Erase(key); err != nil {
		return fmt.Errorf("images: erase %s: %w", key, err)
	}
	return nil
}

// Keys lists every stored key. Closing cancel stops the walk early.
func (s *Store) Keys(cancel <-chan struct{}) []string {
	var keys []string
	for k := range s.d.Keys(cancel) {
		if ValidKey(k) {
			keys = append(keys, k)
		}
	}
	return keys
}
