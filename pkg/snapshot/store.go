// Package snapshot persists rendered page bitmaps and serves cropped
// views of them in the client-facing pixel formats.
package snapshot

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/codec"
)

var (
	// ErrNotFound means no bitmap has been rendered yet for the page and mode.
	ErrNotFound = errors.New("bitmap not available")
	// ErrEmptyCrop means the requested crop has no area.
	ErrEmptyCrop = errors.New("crop is empty")
	// ErrBounds means the crop window does not fit inside the bitmap.
	ErrBounds = errors.New("crop out of bounds")
)

// Store keeps one rendered bitmap per page and mode as a PNG on disk,
// alongside an in-memory cache of content hashes. Writes go through a
// temp file and a rename, so a concurrent reader always sees either the
// previous bitmap or the new one, never a partial file.
type Store struct {
	dir string

	mu     sync.RWMutex
	hashes map[string]string
}

// NewStore opens (and if needed creates) the bitmap directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &Store{dir: dir, hashes: map[string]string{}}, nil
}

func (s *Store) path(pageID string, mode codec.Mode) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.png", pageID, mode))
}

// Put encodes img as PNG and atomically replaces the bitmap stored for
// the page and mode.
func (s *Store) Put(pageID string, mode codec.Mode, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encoding %s %s: %w", pageID, mode, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".webink-*.png")
	if err != nil {
		return fmt.Errorf("creating temp bitmap: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp bitmap: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("syncing temp bitmap: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp bitmap: %w", err)
	}

	final := s.path(pageID, mode)
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("committing bitmap: %w", err)
	}

	hash := hashBytes(buf.Bytes())
	s.mu.Lock()
	s.hashes[final] = hash
	s.mu.Unlock()

	log.Debug().
		Str("page_id", pageID).
		Str("mode", mode.String()).
		Str("hash", hash).
		Int("bytes", buf.Len()).
		Msg("stored bitmap")
	return nil
}

// Hash returns the first 8 hex characters of the SHA-1 of the stored PNG
// file. Bitmaps already on disk from a previous run are hashed lazily on
// first request.
func (s *Store) Hash(pageID string, mode codec.Mode) (string, error) {
	p := s.path(pageID, mode)

	s.mu.RLock()
	hash, ok := s.hashes[p]
	s.mu.RUnlock()
	if ok {
		return hash, nil
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading bitmap: %w", err)
	}
	hash = hashBytes(data)

	s.mu.Lock()
	s.hashes[p] = hash
	s.mu.Unlock()
	return hash, nil
}

// Exists reports whether a bitmap has been committed for the page and mode.
func (s *Store) Exists(pageID string, mode codec.Mode) bool {
	_, err := os.Stat(s.path(pageID, mode))
	return err == nil
}

// PreviewPath returns the on-disk PNG path for the page and mode, for
// handing to a file server. ErrNotFound when no bitmap exists.
func (s *Store) PreviewPath(pageID string, mode codec.Mode) (string, error) {
	p := s.path(pageID, mode)
	if _, err := os.Stat(p); err != nil {
		return "", ErrNotFound
	}
	return p, nil
}

// Crop loads the stored bitmap, cuts the (x, y, w, h) window out of it
// and encodes the result. PNM payloads are raw pixel data without the
// text header; callers serving whole files prepend Format.PNMHeader.
func (s *Store) Crop(pageID string, mode codec.Mode, x, y, w, h int, format codec.Format) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyCrop
	}

	f, err := os.Open(s.path(pageID, mode))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening bitmap: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", pageID, mode, err)
	}
	b := img.Bounds()
	if x < 0 || y < 0 || x+w > b.Dx() || y+h > b.Dy() {
		return nil, fmt.Errorf("%w: %dx%d at (%d,%d) against %dx%d bitmap", ErrBounds, w, h, x, y, b.Dx(), b.Dy())
	}

	sub := subImage(img, image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x+w, b.Min.Y+y+h))
	switch format {
	case codec.FormatPNG:
		var buf bytes.Buffer
		if err := png.Encode(&buf, sub); err != nil {
			return nil, fmt.Errorf("encoding crop: %w", err)
		}
		return buf.Bytes(), nil
	case codec.FormatPBM:
		return codec.AppendMonoBits(make([]byte, 0, format.PayloadSize(w, h)), codec.DitherMono(sub)), nil
	case codec.FormatPGM:
		return codec.AppendGrayBytes(make([]byte, 0, w*h), codec.Grayscale(sub)), nil
	case codec.FormatPPM:
		return codec.AppendRGBBytes(make([]byte, 0, 3*w*h), sub), nil
	}
	return nil, fmt.Errorf("unsupported format: %s", format)
}

type subImager interface {
	SubImage(image.Rectangle) image.Image
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func hashBytes(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])[:8]
}
