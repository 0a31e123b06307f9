// internal/sink/sink.go

// Package sink writes delivered attachments to disk under a fixed root and
// records them in the ledger.
package sink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joshsymonds/claimintake/internal/gmail"
	"github.com/joshsymonds/claimintake/internal/store"
)

const maxCollisions = 1000

// Ledger records what was written.
type Ledger interface {
	RecordDelivery(ctx context.Context, d store.Delivery) (store.Delivery, error)
}

// Sink stores attachments as <root>/<message id>/<sanitized filename>.
type Sink struct {
	root   string
	ledger Ledger
	logger *slog.Logger
}

// New creates the root directory if needed. ledger may be nil.
func New(root string, ledger Ledger, log *slog.Logger) (*Sink, error) {
	if root == "" {
		return nil, errors.New("sink directory is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sink directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sink{root: abs, ledger: ledger, logger: log}, nil
}

// Root is the absolute sink directory.
func (s *Sink) Root() string { return s.root }

// Handle stores atts; its signature matches intake.Handler.
func (s *Sink) Handle(ctx context.Context, id gmail.MessageID, atts []gmail.Attachment) error {
	_, err := s.Store(ctx, id, atts)
	return err
}

// Store writes every attachment and returns the ledger rows. It stops at the
// first failure; files already written stay on disk.
func (s *Sink) Store(ctx context.Context, id gmail.MessageID, atts []gmail.Attachment) ([]store.Delivery, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	dir := filepath.Join(s.root, SanitizeFilename(string(id)))
	if err := s.within(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create message directory: %w", err)
	}

	out := make([]store.Delivery, 0, len(atts))
	for _, att := range atts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		path, err := s.write(dir, SanitizeFilename(att.Filename), att.Data)
		if err != nil {
			return out, fmt.Errorf("store %q of %s: %w", att.Filename, id, err)
		}
		rel, _ := filepath.Rel(s.root, path)
		sum := sha256.Sum256(att.Data)
		d := store.Delivery{
			MessageID: string(id),
			Filename:  att.Filename,
			StoredAs:  filepath.ToSlash(rel),
			MimeType:  att.MimeType,
			Size:      int64(len(att.Data)),
			SHA256:    hex.EncodeToString(sum[:]),
		}
		if s.ledger != nil {
			if d, err = s.ledger.RecordDelivery(ctx, d); err != nil {
				return out, err
			}
		}
		s.logger.InfoContext(ctx, "attachment stored",
			slog.String("message_id", string(id)),
			slog.String("path", d.StoredAs),
			slog.Int64("bytes", d.Size),
		)
		out = append(out, d)
	}
	return out, nil
}

// write creates name in dir without overwriting, appending " (n)" before the
// extension on collision.
func (s *Sink) write(dir, name string, data []byte) (string, error) {
	for n := 0; n < maxCollisions; n++ {
		candidate := name
		if n > 0 {
			candidate = collisionName(name, n)
		}
		path := filepath.Join(dir, candidate)
		if err := s.within(path); err != nil {
			return "", err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("more than %d files named %q", maxCollisions, name)
}

func (s *Sink) within(path string) error {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes sink directory", path)
	}
	return nil
}
