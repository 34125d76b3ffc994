package firmware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jedisct1/go-minisign"

	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
)

// MaxImageSize bounds an uploaded image
const MaxImageSize = 64 << 20

var (
	// ErrTooLarge is returned when an upload exceeds MaxImageSize
	ErrTooLarge = errors.New("firmware: image too large")

	// ErrNotNewer is returned when the upload would downgrade without force
	ErrNotNewer = errors.New("firmware: version is not newer than the running one")

	// ErrNothingStaged is returned by Install when no image has been staged
	ErrNothingStaged = errors.New("firmware: nothing staged")
)

// Image describes a verified upload waiting to be installed
type Image struct {
	ID       string    `json:"id"`
	Version  string    `json:"version,omitempty"`
	Size     int64     `json:"size"`
	SHA256   string    `json:"sha256"`
	StagedAt time.Time `json:"staged_at"`
	path     string
}

// Stager receives firmware uploads, verifies them and swaps them in
type Stager struct {
	dir     string
	current string
	pubKey  *minisign.PublicKey
	log     *logger.Logger
	now     func() time.Time

	mu     sync.Mutex
	staged *Image
}

// NewStager creates a stager keeping images under dir. An empty pubKeyStr
// leaves the stager unable to accept uploads.
func NewStager(dir, pubKeyStr, currentVersion string, log *logger.Logger) (*Stager, error) {
	s := &Stager{
		dir:     dir,
		current: currentVersion,
		log:     log,
		now:     time.Now,
	}
	if pubKeyStr != "" {
		pk, err := ParsePublicKey(pubKeyStr)
		if err != nil {
			return nil, fmt.Errorf("parse firmware public key: %w", err)
		}
		s.pubKey = &pk
	}
	return s, nil
}

// Enabled reports whether a public key is configured
func (s *Stager) Enabled() bool {
	return s.pubKey != nil
}

// CurrentVersion returns the running firmware version
func (s *Stager) CurrentVersion() string {
	return s.current
}

// Stage writes r to the staging directory and verifies it against sigText.
// A previously staged image is replaced.
func (s *Stager) Stage(r io.Reader, sigText, version string, force bool) (*Image, error) {
	if s.pubKey == nil {
		return nil, ErrNoPublicKey
	}
	if version != "" && !force {
		newer, err := IsNewer(s.current, version)
		if err != nil {
			return nil, err
		}
		if !newer {
			return nil, fmt.Errorf("%s -> %s: %w", s.current, version, ErrNotNewer)
		}
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxImageSize {
		return nil, ErrTooLarge
	}
	if err := VerifySignature(data, sigText, *s.pubKey); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	sum := sha256.Sum256(data)
	img := &Image{
		ID:       uuid.NewString(),
		Version:  version,
		Size:     int64(len(data)),
		SHA256:   hex.EncodeToString(sum[:]),
		StagedAt: s.now(),
	}
	img.path = filepath.Join(s.dir, img.ID+".bin")
	if err := os.WriteFile(img.path, data, 0755); err != nil {
		return nil, fmt.Errorf("write staged image: %w", err)
	}

	s.mu.Lock()
	prev := s.staged
	s.staged = img
	s.mu.Unlock()

	if prev != nil {
		os.Remove(prev.path)
	}
	s.log.Infow("Firmware staged", "id", img.ID, "version", version, "size", img.Size)
	return img, nil
}

// Staged returns the image waiting to be installed, if any
func (s *Stager) Staged() (Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staged == nil {
		return Image{}, false
	}
	return *s.staged, true
}

// Install replaces target with the staged image. The previous target is kept
// as target.bak and restored if the copy fails.
func (s *Stager) Install(target string) error {
	s.mu.Lock()
	img := s.staged
	s.mu.Unlock()
	if img == nil {
		return ErrNothingStaged
	}

	backup := target + ".bak"
	hadTarget := false
	if _, err := os.Stat(target); err == nil {
		hadTarget = true
		if err := copyFile(target, backup); err != nil {
			return fmt.Errorf("backup current image: %w", err)
		}
	}

	if err := copyFile(img.path, target); err != nil {
		if hadTarget {
			if rerr := copyFile(backup, target); rerr != nil {
				s.log.Errorw("Failed to restore firmware backup", "error", rerr)
			}
		}
		return fmt.Errorf("install image: %w", err)
	}
	if err := os.Chmod(target, 0755); err != nil {
		return fmt.Errorf("chmod image: %w", err)
	}

	s.mu.Lock()
	if s.staged == img {
		s.staged = nil
	}
	s.mu.Unlock()
	os.Remove(img.path)

	s.log.Infow("Firmware installed", "id", img.ID, "target", target)
	return nil
}

// copyFile copies src to dst keeping the source permissions
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	// write beside dst then rename so a crash never leaves a torn binary
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
