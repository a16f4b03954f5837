// Package blobstore stores patient attachment files. LocalStore writes them to
// a directory on disk; MemoryStore keeps them in memory for tests.
package blobstore

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("only PDF, JPEG and PNG files are allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// DefaultMaxSize is the attachment size limit (10 MiB).
const DefaultMaxSize = 10 << 20

// AllowedContentTypes lists the MIME types accepted for attachments.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// Object describes a stored blob.
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type"`
}

// Store is the contract for attachment storage backends.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Kind() string
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeName reduces a client supplied file name to a safe base name.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 200 {
		name = name[len(name)-200:]
	}
	return name
}

// keyFor builds the stored file name "<unix-ms>__<sanitized-name>".
func keyFor(now time.Time, name string) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "__" + SanitizeName(name)
}

// sniff peeks at the head of r and returns the detected MIME type.
func sniff(br *bufio.Reader) (string, error) {
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	ct := http.DetectContentType(head)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if !AllowedContentTypes[ct] {
		return "", ErrInvalidContentType
	}
	return ct, nil
}

// copyLimited copies at most max bytes from r to w, hashing as it goes.
func copyLimited(w io.Writer, r io.Reader, max int64) (int64, string, error) {
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), io.LimitReader(r, max+1))
	if err != nil {
		return n, "", err
	}
	if n > max {
		return n, "", ErrFileTooLarge
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// ---------------------------------------------------------------------------
// Local disk
// ---------------------------------------------------------------------------

// LocalStore keeps files in a single directory.
type LocalStore struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string, maxSize int64) (*LocalStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, maxSize: maxSize, now: time.Now}, nil
}

func (s *LocalStore) Kind() string { return "local" }

// Dir returns the directory files are written to.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(_ context.Context, name string, r io.Reader) (*Object, error) {
	if SanitizeName(name) == "" {
		return nil, ErrMissingFileName
	}
	br := bufio.NewReaderSize(r, 512)
	ct, err := sniff(br)
	if err != nil {
		return nil, err
	}

	var f *os.File
	var key string
	now := s.now()
	for i := 0; i < 5; i++ {
		key = keyFor(now.Add(time.Duration(i)*time.Millisecond), name)
		f, err = os.OpenFile(filepath.Join(s.dir, key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}

	size, sum, err := copyLimited(f, br, s.maxSize)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &Object{Key: key, Size: size, SHA256: sum, ContentType: ct}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", ErrBlobNotFound
	}
	return filepath.Join(s.dir, key), nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	return f, err
}

// Delete removes the file. Missing files are not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// In memory
// ---------------------------------------------------------------------------

// MemoryStore is a thread-safe Store for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	maxSize int64
	seq     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte), maxSize: DefaultMaxSize}
}

func (s *MemoryStore) Kind() string { return "memory" }

func (s *MemoryStore) Put(_ context.Context, name string, r io.Reader) (*Object, error) {
	if SanitizeName(name) == "" {
		return nil, ErrMissingFileName
	}
	br := bufio.NewReaderSize(r, 512)
	ct, err := sniff(br)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	size, sum, err := copyLimited(&buf, br, s.maxSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	key := keyFor(time.UnixMilli(s.seq), name)
	s.blobs[key] = buf.Bytes()
	return &Object{Key: key, Size: size, SHA256: sum, ContentType: ct}, nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
