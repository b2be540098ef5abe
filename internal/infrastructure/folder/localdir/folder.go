package localdir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// Client watches a local directory as the external folder. Item ids are file
// names; the fingerprint is a content hash, so a rename alone does not
// trigger a re-import.
type Client struct {
	dir string
}

func New(dir string) (*Client, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", dir)
	}
	return &Client{dir: dir}, nil
}

func (c *Client) List(ctx context.Context) ([]ports.FolderItem, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read watch dir: %w", err)
	}

	out := make([]ports.FolderItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fingerprint, err := c.fingerprint(entry.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, ports.FolderItem{
			ID:          entry.Name(),
			Name:        entry.Name(),
			Fingerprint: fingerprint,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) Fetch(_ context.Context, itemID string) (io.ReadCloser, error) {
	path, err := c.itemPath(itemID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open folder item: %w", err)
	}
	return f, nil
}

func (c *Client) fingerprint(name string) (string, error) {
	path, err := c.itemPath(name)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash folder item: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// itemPath rejects ids that would escape the watched directory.
func (c *Client) itemPath(itemID string) (string, error) {
	if itemID != filepath.Base(itemID) || itemID == "." || itemID == ".." {
		return "", fmt.Errorf("invalid folder item id %q", itemID)
	}
	return filepath.Join(c.dir, itemID), nil
}
