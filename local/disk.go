// Package local provides a thumb DiskProvider backed by a directory on the
// local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zoobzio/thumb"
)

// File modes applied by SetVisibility.
const (
	PublicMode  fs.FileMode = 0o644
	PrivateMode fs.FileMode = 0o600
	dirMode     fs.FileMode = 0o755
)

// Provider implements thumb.DiskProvider over a root directory.
type Provider struct {
	root    string
	baseURL string
}

// New creates a provider rooted at root, creating it if missing. URLs are
// baseURL + "/" + key.
func New(root, baseURL string) (*Provider, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("local: root is required")
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("local: ensure root: %w", err)
	}
	return &Provider{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the configured root directory.
func (p *Provider) Root() string { return p.root }

// sanitizeKey normalizes a key and prevents escaping the root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", thumb.ErrInvalidKey
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", thumb.ErrInvalidKey, key)
	}
	return cleaned, nil
}

func (p *Provider) full(key string) (string, string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(p.root, filepath.FromSlash(clean)), nil
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return thumb.ErrNotFound
	}
	return err
}

// Get retrieves the file at key.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, *thumb.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	clean, full, err := p.full(key)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, nil, notFound(err)
	}
	info, err := p.stat(clean, full)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// Put writes data at key, creating parent directories.
func (p *Provider) Put(ctx context.Context, key string, data []byte, _ *thumb.ObjectInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := p.full(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), dirMode); err != nil {
		return fmt.Errorf("local: ensure directory: %w", err)
	}
	if err := os.WriteFile(full, data, PublicMode); err != nil {
		return fmt.Errorf("local: write file: %w", err)
	}
	return nil
}

// Delete removes the file at key.
func (p *Provider) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := p.full(key)
	if err != nil {
		return err
	}
	return notFound(os.Remove(full))
}

// Exists checks whether a regular file exists at key.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, thumb.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns size and modification time for key.
func (p *Provider) Stat(ctx context.Context, key string) (*thumb.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, full, err := p.full(key)
	if err != nil {
		return nil, err
	}
	return p.stat(clean, full)
}

func (p *Provider) stat(key, full string) (*thumb.ObjectInfo, error) {
	fi, err := os.Stat(full)
	if err != nil {
		return nil, notFound(err)
	}
	if fi.IsDir() {
		return nil, thumb.ErrNotFound
	}
	return &thumb.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  mime.TypeByExtension(path.Ext(key)),
		LastModified: fi.ModTime(),
	}, nil
}

// List walks the tree and returns every file whose key starts with prefix.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]thumb.ObjectInfo, error) {
	prefix = strings.TrimLeft(strings.ReplaceAll(prefix, "\\", "/"), "/")
	start := p.root
	if dir := path.Dir(prefix); dir != "." && !strings.HasPrefix(dir, "..") {
		start = filepath.Join(p.root, filepath.FromSlash(dir))
	}

	var results []thumb.ObjectInfo
	errLimit := errors.New("limit reached")
	err := filepath.WalkDir(start, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.root, full)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		results = append(results, thumb.ObjectInfo{
			Key:          key,
			Size:         fi.Size(),
			ContentType:  mime.TypeByExtension(path.Ext(key)),
			LastModified: fi.ModTime(),
		})
		if limit > 0 && len(results) >= limit {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}
	return results, nil
}

// URL returns baseURL + "/" + key.
func (p *Provider) URL(key string) string {
	return p.baseURL + "/" + strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
}

// MakeDirectory creates dir and any missing parents.
func (p *Provider) MakeDirectory(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := p.full(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, dirMode); err != nil {
		return fmt.Errorf("%w: %s: %w", thumb.ErrDirectoryCreate, dir, err)
	}
	return nil
}

// Directories returns the immediate subdirectories of dir as keys.
// An empty dir lists the root.
func (p *Provider) Directories(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, full := "", p.root
	if strings.Trim(dir, "/") != "" {
		var err error
		clean, full, err = p.full(dir)
		if err != nil {
			return nil, err
		}
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, path.Join(clean, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// DeleteDirectory removes dir, which must be empty.
func (p *Provider) DeleteDirectory(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := p.full(dir)
	if err != nil {
		return err
	}
	return notFound(os.Remove(full))
}

// SetVisibility switches key between PublicMode and PrivateMode.
func (p *Provider) SetVisibility(ctx context.Context, key string, public bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := p.full(key)
	if err != nil {
		return err
	}
	mode := PrivateMode
	if public {
		mode = PublicMode
	}
	return notFound(os.Chmod(full, mode))
}

var (
	_ thumb.DiskProvider       = (*Provider)(nil)
	_ thumb.DirectoryProvider  = (*Provider)(nil)
	_ thumb.VisibilityProvider = (*Provider)(nil)
)
