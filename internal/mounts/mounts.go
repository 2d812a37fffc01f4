// Package mounts provides fs.FS mounts that are backed either by an
// embedded filesystem or, when a directory is given, by that directory on
// disk. Both kinds are rooted at the same level so callers can open
// files by the same names regardless of the source.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileMount is a named fs.FS taken from an embedded filesystem or a
// directory.
type FileMount struct {
	MountName string
	Embedded  bool
	fs.FS
}

// String lists the mount's files and directories, indented by depth.
func (fm FileMount) String() string {
	source := "disk"
	if fm.Embedded {
		source = "embedded"
	}
	o := fmt.Sprintf("mount %q (%s):\n", fm.MountName, source)
	s, _ := PrintFS(fm.FS)
	return o + s
}

// ErrInvalidPath reports a mount name that is not an fs.ValidPath.
type ErrInvalidPath struct {
	mountName string
}

func (e ErrInvalidPath) Error() string {
	return fmt.Sprintf("mount name %q is not a valid fs.ValidPath path", e.mountName)
}

// New mounts embeddedFS at its mountName subdirectory when dirPath is
// empty, so that given
//
//	//go:embed sql
//	var sqlFS embed.FS
//
// New("sql", sqlFS, "") opens "schema.sql" rather than "sql/schema.sql".
// A non-empty dirPath mounts that directory instead, which lets the
// embedded files be overridden without a rebuild.
func New(mountName string, embeddedFS fs.FS, dirPath string) (*FileMount, error) {

	if mountName == "" {
		return nil, errors.New("no mount name provided")
	}
	if !fs.ValidPath(mountName) {
		return nil, ErrInvalidPath{mountName}
	}

	if dirPath == "" {
		subFS, err := fs.Sub(embeddedFS, mountName)
		if err != nil {
			return nil, fmt.Errorf("could not mount embedded fs at %q: %w", mountName, err)
		}
		return &FileMount{MountName: mountName, Embedded: true, FS: subFS}, nil
	}

	s, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("mount at %q error: %w", dirPath, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("mount at %q is not a directory", dirPath)
	}
	return &FileMount{MountName: mountName, FS: os.DirFS(dirPath)}, nil
}

// Materialize writes the mount's files below dir, which must exist and
// must not already contain any of them. It returns the paths written.
func (fm *FileMount) Materialize(dir string) ([]string, error) {

	s, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("materialize target %q invalid: %w", dir, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("materialize target %q is not a directory", dir)
	}

	var written []string
	err = fs.WalkDir(fm.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fullPath := filepath.Join(dir, filepath.FromSlash(path))

		if d.IsDir() {
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("could not make dir %q: %w", fullPath, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, err := os.Stat(fullPath); err == nil {
			return fmt.Errorf("%q already exists", fullPath)
		}

		data, err := fs.ReadFile(fm.FS, path)
		if err != nil {
			return fmt.Errorf("could not read %q from mount %s: %w", path, fm.MountName, err)
		}
		if err := os.WriteFile(fullPath, data, 0644); err != nil {
			return fmt.Errorf("could not write %q: %w", fullPath, err)
		}
		written = append(written, fullPath)
		return nil
	})
	return written, err
}

// PrintFS renders an fs.FS as an indented listing.
func PrintFS(thisFS fs.FS) (string, error) {
	var b strings.Builder
	tpl := "%s[%s] %s%s (%s)\n"

	err := fs.WalkDir(thisFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			fmt.Fprintf(&b, tpl, "", "d", ".", "/", ".")
			return nil
		}
		indent := strings.Repeat("  ", strings.Count(path, "/"))
		typer, slash := "f", ""
		if d.IsDir() {
			typer, slash = "d", "/"
		}
		fmt.Fprintf(&b, tpl, indent, typer, d.Name(), slash, path)
		return nil
	})
	return b.String(), err
}
