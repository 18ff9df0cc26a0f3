package dir

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/afero"
	"github.com/warriorguo/taskflow/store"
)

var (
	_ store.Store = &dirStore{}
)

const ext = ".json"

// NewDirStore keeps every prefix as a sub directory and every key as
// <key>.json inside it. Writes go through a temporary file and a rename so a
// job killed mid-save leaves the previous checkpoint intact.
func NewDirStore(d *Directory) store.Store {
	return &dirStore{d: d}
}

type dirStore struct {
	d *Directory
}

func (s *dirStore) prefixDir(prefix string) string {
	return url.PathEscape(strings.Trim(prefix, "/"))
}

func (s *dirStore) file(prefix, key string) string {
	return filepath.Join(s.prefixDir(prefix), url.PathEscape(key)+ext)
}

func (s *dirStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	b, err := afero.ReadFile(s.d.fs, s.d.Path(s.file(prefix, key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "failed to get prefix=%s, key=%s", prefix, key)
	}
	return b, nil
}

func (s *dirStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	target := s.file(prefix, key)
	tmp := target + ".tmp"
	if err := s.d.Write(string(value), tmp); err != nil {
		return errors.Annotatef(err, "failed to set prefix=%s, key=%s", prefix, key)
	}
	return errors.Trace(s.d.Move(tmp, target))
}

func (s *dirStore) Remove(ctx context.Context, prefix, key string) error {
	err := s.d.fs.Remove(s.d.Path(s.file(prefix, key)))
	if err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "failed to remove prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (s *dirStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	names, err := s.d.List(s.prefixDir(prefix), "*"+ext)
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range names {
		key, err := url.PathUnescape(strings.TrimSuffix(name, ext))
		if err != nil {
			return errors.Annotatef(err, "bad key file %s", name)
		}
		if !iterator(key) {
			break
		}
	}
	return nil
}
