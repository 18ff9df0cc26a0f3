package dir

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Directory is a working directory of a task node. Relative paths are resolved
// against it, absolute ones are used as is.
type Directory struct {
	fs   afero.Fs
	root string
}

func New(fs afero.Fs, root string) *Directory {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Directory{fs: fs, root: filepath.Clean(root)}
}

func NewOs(root string) *Directory {
	return New(afero.NewOsFs(), root)
}

func (d *Directory) Fs() afero.Fs {
	return d.fs
}

func (d *Directory) Root() string {
	return d.root
}

// Path joins the directory with p, absolute p is returned cleaned
func (d *Directory) Path(p ...string) string {
	joined := filepath.Join(p...)
	if filepath.IsAbs(joined) {
		return filepath.Clean(joined)
	}
	return filepath.Join(d.root, joined)
}

// Sub returns the directory for a relative or absolute path
func (d *Directory) Sub(p string) *Directory {
	return &Directory{fs: d.fs, root: d.Path(p)}
}

func (d *Directory) Exists(p string) bool {
	ok, err := afero.Exists(d.fs, d.Path(p))
	return ok && err == nil
}

func (d *Directory) IsDir(p string) bool {
	ok, err := afero.IsDir(d.fs, d.Path(p))
	return ok && err == nil
}

func (d *Directory) MakeDir(p string) error {
	return errors.Trace(d.fs.MkdirAll(d.Path(p), 0755))
}

func (d *Directory) Read(p string) (string, error) {
	b, err := afero.ReadFile(d.fs, d.Path(p))
	if err != nil {
		return "", errors.Annotatef(err, "read %s", d.Path(p))
	}
	return string(b), nil
}

// Write creates parent directories as needed and replaces the file
func (d *Directory) Write(text, p string) error {
	return d.write(text, p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

func (d *Directory) Append(text, p string) error {
	return d.write(text, p, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func (d *Directory) write(text, p string, flag int) error {
	full := d.Path(p)
	if err := d.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.Trace(err)
	}
	f, err := d.fs.OpenFile(full, flag, 0644)
	if err != nil {
		return errors.Annotatef(err, "open %s", full)
	}
	if _, err := io.WriteString(f, text); err != nil {
		f.Close()
		return errors.Annotatef(err, "write %s", full)
	}
	return errors.Trace(f.Close())
}

// Create truncates or creates p for writing, the caller closes it
func (d *Directory) Create(p string) (afero.File, error) {
	full := d.Path(p)
	if err := d.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, errors.Trace(err)
	}
	f, err := d.fs.Create(full)
	return f, errors.Annotatef(err, "create %s", full)
}

// List returns the sorted base names under p matching the glob pattern, empty pattern matches all
func (d *Directory) List(p, pattern string) ([]string, error) {
	entries, err := afero.ReadDir(d.fs, d.Path(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Trace(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if pattern != "" {
			ok, err := filepath.Match(pattern, e.Name())
			if err != nil {
				return nil, errors.Annotatef(err, "pattern %s", pattern)
			}
			if !ok {
				continue
			}
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Rm removes a file or a whole directory, removing a missing path is not an error
func (d *Directory) Rm(p string) error {
	return errors.Trace(d.fs.RemoveAll(d.Path(p)))
}

func (d *Directory) Copy(src, dst string) error {
	in, err := d.fs.Open(d.Path(src))
	if err != nil {
		return errors.Annotatef(err, "open %s", d.Path(src))
	}
	defer in.Close()

	out, err := d.Create(dst)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Annotatef(err, "copy %s to %s", src, dst)
	}
	return errors.Trace(out.Close())
}

func (d *Directory) Move(src, dst string) error {
	full := d.Path(dst)
	if err := d.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(d.fs.Rename(d.Path(src), full), "move %s to %s", src, dst)
}

// Link makes dst a symlink to src, filesystems without symlinks get a copy
func (d *Directory) Link(src, dst string) error {
	linker, ok := d.fs.(afero.Linker)
	if !ok {
		return d.Copy(src, dst)
	}
	full := d.Path(dst)
	if err := d.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.Trace(err)
	}
	if d.Exists(dst) {
		if err := d.fs.Remove(full); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Annotatef(linker.SymlinkIfPossible(d.Path(src), full), "link %s to %s", src, dst)
}

// Load decodes p into v, the format follows the extension (.json, .yaml, .yml)
func (d *Directory) Load(v any, p string) error {
	b, err := afero.ReadFile(d.fs, d.Path(p))
	if err != nil {
		return errors.Annotatef(err, "load %s", d.Path(p))
	}
	switch format(p) {
	case "yaml":
		return errors.Annotatef(yaml.Unmarshal(b, v), "decode %s", p)
	case "json":
		return errors.Annotatef(json.Unmarshal(b, v), "decode %s", p)
	default:
		return errors.NotSupportedf("format of %s", p)
	}
}

// Dump encodes v into p, the format follows the extension (.json, .yaml, .yml)
func (d *Directory) Dump(v any, p string) error {
	var (
		b   []byte
		err error
	)
	switch format(p) {
	case "yaml":
		b, err = yaml.Marshal(v)
	case "json":
		b, err = json.MarshalIndent(v, "", "  ")
	default:
		return errors.NotSupportedf("format of %s", p)
	}
	if err != nil {
		return errors.Annotatef(err, "encode %s", p)
	}
	return d.Write(string(b), p)
}

func format(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
