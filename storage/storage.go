// Package storage reads the backing content of documents: plain files
// addressed by file URIs and members of source archives addressed by
// jar: or zipfile: URLs.
package storage

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/position"
	"github.com/go-logr/logr"
	"go.lsp.dev/uri"
	"golang.org/x/text/encoding"
)

const fileScheme = "file://"

type Storage interface {
	// Read returns the bytes stored at url.
	Read(ctx context.Context, url string) ([]byte, error)
	// Path converts a file URI to a filesystem path.
	Path(fileURI string) (string, error)
	// URI converts a filesystem path to a file URI.
	URI(path string) string
}

// FS is a Storage over the local filesystem. Opened archives are kept open
// until Close.
type FS struct {
	log logr.Logger
	enc encoding.Encoding

	mu       sync.Mutex
	archives map[string]*zip.ReadCloser
}

var _ Storage = &FS{}

type Option func(*FS)

// WithEncoding decodes every file read from enc to UTF-8.
func WithEncoding(enc encoding.Encoding) Option {
	return func(s *FS) {
		s.enc = enc
	}
}

func NewFS(log logr.Logger, opts ...Option) *FS {
	s := &FS{
		log:      log.WithName("storage"),
		archives: map[string]*zip.ReadCloser{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *FS) Path(fileURI string) (string, error) {
	if !strings.HasPrefix(fileURI, fileScheme) {
		return "", errdefs.Validationf("%q is not a file URI", fileURI)
	}
	u, err := uri.Parse(fileURI)
	if err != nil {
		return "", errdefs.Wrap(errdefs.ValidationError, err, "invalid URI %q", fileURI)
	}
	return u.Filename(), nil
}

func (s *FS) URI(path string) string {
	return string(uri.File(path))
}

func (s *FS) Read(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b []byte
	if archive, member, ok := position.SplitArchiveURL(url); ok {
		var err error
		if b, err = s.readMember(archive, member); err != nil {
			return nil, err
		}
	} else {
		path, err := s.Path(url)
		if err != nil {
			return nil, err
		}
		b, err = os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errdefs.Wrap(errdefs.NotFound, err, "read %s", url)
			}
			return nil, errdefs.Wrap(errdefs.IOFailure, err, "read %s", url)
		}
	}
	text, err := decode(b, s.enc)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IOFailure, err, "decode %s", url)
	}
	return text, nil
}

func (s *FS) readMember(archiveURI, member string) ([]byte, error) {
	zr, err := s.open(archiveURI)
	if err != nil {
		return nil, err
	}
	f, err := zr.Open(member)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Wrap(errdefs.NotFound, err, "%s in %s", member, archiveURI)
		}
		return nil, errdefs.Wrap(errdefs.IOFailure, err, "%s in %s", member, archiveURI)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IOFailure, err, "%s in %s", member, archiveURI)
	}
	return b, nil
}

// Members lists the files inside the archive at archiveURI whose names end
// with suffix, sorted.
func (s *FS) Members(archiveURI, suffix string) ([]string, error) {
	zr, err := s.open(archiveURI)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, suffix) {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Walk lists the files below the directory at rootURI whose names end with
// suffix, as file URIs.
func (s *FS) Walk(ctx context.Context, rootURI, suffix string) ([]string, error) {
	root, err := s.Path(rootURI)
	if err != nil {
		return nil, err
	}
	out := []string{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.V(5).Info("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, suffix) {
			out = append(out, s.URI(path))
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IOFailure, err, "walk %s", rootURI)
	}
	return out, nil
}

func (s *FS) open(archiveURI string) (*zip.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if zr, ok := s.archives[archiveURI]; ok {
		return zr, nil
	}
	path, err := s.Path(archiveURI)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Wrap(errdefs.NotFound, err, "open archive %s", archiveURI)
		}
		return nil, errdefs.Wrap(errdefs.IOFailure, err, "open archive %s", archiveURI)
	}
	s.archives[archiveURI] = zr
	return zr, nil
}

func (s *FS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for k, zr := range s.archives {
		errs = append(errs, zr.Close())
		delete(s.archives, k)
	}
	return errors.Join(errs...)
}
