// Package fingerprint decides whether a request has been issued before.
package fingerprint

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-fixprice/models"
)

// ErrStoreClosed is returned by SeenOrMark after Close.
var ErrStoreClosed = errors.New("fingerprint: store closed")

// Options configures a Store.
type Options struct {
	// LogPath enables append-only persistence when non-empty.
	LogPath string
	// Fresh truncates an existing log instead of resuming from it.
	Fresh bool
	// Headers lists request headers that take part in identity.
	Headers []string
	// Backend holds the seen-set. Defaults to an in-memory set.
	Backend Backend
	Logger  *slog.Logger
}

// Store is the seen-set of request fingerprints for a run.
type Store struct {
	backend Backend
	headers []string
	logger  *slog.Logger
	encode  func([]byte) (string, error)

	logMu  sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// New opens a store, loading the fingerprint log unless Fresh is set.
func New(opts Options) (*Store, error) {
	s := &Store{
		backend: opts.Backend,
		headers: canonicalHeaders(opts.Headers),
		logger:  opts.Logger,
		encode:  hexDigest,
	}
	if s.backend == nil {
		s.backend = NewMemoryBackend()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if opts.LogPath == "" {
		return s, nil
	}

	if dir := filepath.Dir(opts.LogPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create fingerprint log dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if opts.Fresh {
		flags |= os.O_TRUNC
	} else {
		loaded, err := s.load(opts.LogPath)
		if err != nil {
			return nil, err
		}
		if loaded > 0 {
			s.logger.Info("resumed fingerprint log", "path", opts.LogPath, "fingerprints", loaded)
		}
	}

	file, err := os.OpenFile(opts.LogPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint log: %w", err)
	}
	s.file = file
	s.writer = bufio.NewWriter(file)
	return s, nil
}

func (s *Store) load(path string) (int, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open fingerprint log: %w", err)
	}
	defer file.Close()

	ctx := context.Background()
	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fp := strings.TrimSpace(scanner.Text())
		if fp == "" {
			continue
		}
		added, err := s.backend.Add(ctx, fp)
		if err != nil {
			return count, fmt.Errorf("load fingerprint: %w", err)
		}
		if added {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read fingerprint log: %w", err)
	}
	return count, nil
}

// Fingerprint returns the stable identity of a request.
func (s *Store) Fingerprint(req models.Request) string {
	sum := sha1.Sum([]byte(s.canonical(req)))
	text, err := s.encode(sum[:])
	// Hex never fails on a SHA-1 sum; the fallback covers encoders that can.
	if err != nil {
		s.logger.Debug("fingerprint text encoding failed, using base64", "url", req.URL, "error", err)
		return base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return text
}

func (s *Store) canonical(req models.Request) string {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(models.NormalizeURL(req.URL))
	for _, name := range s.headers {
		values := req.Header.Values(name)
		if len(values) == 0 {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}

// SeenOrMark reports whether req was already issued and marks it otherwise.
// For concurrent callers with the same fingerprint exactly one observes false.
func (s *Store) SeenOrMark(ctx context.Context, req models.Request) (bool, error) {
	s.logMu.Lock()
	closed := s.closed
	s.logMu.Unlock()
	if closed {
		return false, ErrStoreClosed
	}

	fp := s.Fingerprint(req)
	added, err := s.backend.Add(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("mark fingerprint: %w", err)
	}
	if !added {
		return true, nil
	}
	s.append(fp)
	return false, nil
}

func (s *Store) append(fp string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if s.writer == nil || s.closed {
		return
	}
	if _, err := s.writer.WriteString(fp + "\n"); err != nil {
		s.logger.Warn("fingerprint log write failed", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.logger.Warn("fingerprint log flush failed", "error", err)
	}
}

// Len returns the number of fingerprints in the seen-set.
func (s *Store) Len(ctx context.Context) (int, error) {
	return s.backend.Len(ctx)
}

// Close flushes the log and releases the backend. Safe to call more than once.
func (s *Store) Close() error {
	s.logMu.Lock()
	if s.closed {
		s.logMu.Unlock()
		return nil
	}
	s.closed = true

	var errs []error
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logMu.Unlock()

	if err := s.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func hexDigest(digest []byte) (string, error) {
	if len(digest) != sha1.Size {
		return "", fmt.Errorf("unexpected digest length %d", len(digest))
	}
	return hex.EncodeToString(digest), nil
}

func canonicalHeaders(headers []string) []string {
	seen := make(map[string]struct{}, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		h = http.CanonicalHeaderKey(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
