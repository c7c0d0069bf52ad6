// Package updates publishes and serves the latest client update pointer.
package updates

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNoUpdate is returned when no update pointer has been published.
	ErrNoUpdate = errors.New("no update published")
	// ErrInvalidPointer is returned when a pointer fails validation.
	ErrInvalidPointer = errors.New("invalid update pointer")
)

const (
	maxVersionLength = 64
	sha256HexLength  = 64
)

// Pointer names a downloadable client build.
type Pointer struct {
	ID        int64     `json:"id"`
	Version   string    `json:"version"`
	URL       string    `json:"url"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists update pointers. The pointer with the highest id is the
// latest.
type Store interface {
	LatestUpdate(ctx context.Context) (*Pointer, error)
	PublishUpdate(ctx context.Context, p *Pointer) error
}

// Service validates and serves update pointers.
type Service struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService creates an update Service. A zero timeout leaves store calls
// bounded only by the caller's context.
func NewService(store Store, timeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "updates").Logger(),
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Latest returns the most recently published pointer or ErrNoUpdate.
func (s *Service) Latest(ctx context.Context) (*Pointer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := s.store.LatestUpdate(ctx)
	if err != nil {
		if errors.Is(err, ErrNoUpdate) {
			return nil, ErrNoUpdate
		}
		return nil, fmt.Errorf("latest update: %w", err)
	}
	return p, nil
}

// Publish validates and stores a new pointer.
func (s *Service) Publish(ctx context.Context, version, rawURL, sha256 string) (*Pointer, error) {
	p, err := NewPointer(version, rawURL, sha256, s.now().UTC())
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.PublishUpdate(ctx, p); err != nil {
		return nil, fmt.Errorf("publish update: %w", err)
	}

	s.logger.Info().
		Int64("id", p.ID).
		Str("version", p.Version).
		Msg("update pointer published")
	return p, nil
}

// NewPointer builds a validated pointer. The digest is lower-cased.
func NewPointer(version, rawURL, sha256 string, now time.Time) (*Pointer, error) {
	version = strings.TrimSpace(version)
	if version == "" || len(version) > maxVersionLength {
		return nil, fmt.Errorf("%w: version must be 1-%d characters", ErrInvalidPointer, maxVersionLength)
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidPointer)
	}

	sha256 = strings.ToLower(strings.TrimSpace(sha256))
	if len(sha256) != sha256HexLength {
		return nil, fmt.Errorf("%w: sha256 must be %d hex characters", ErrInvalidPointer, sha256HexLength)
	}
	if _, err := hex.DecodeString(sha256); err != nil {
		return nil, fmt.Errorf("%w: sha256 must be hex", ErrInvalidPointer)
	}

	return &Pointer{
		Version:   version,
		URL:       u.String(),
		SHA256:    sha256,
		CreatedAt: now,
	}, nil
}
