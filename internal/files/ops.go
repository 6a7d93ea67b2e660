package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// maxReadBytes caps read_file payloads fed back into the conversation.
const maxReadBytes = 50 * 1024

// Ops implements the file operations behind the capability handlers.
// Every path crosses the sandbox before any filesystem access.
type Ops struct {
	sandbox *Sandbox
}

// NewOps creates file operations over the given sandbox.
func NewOps(sandbox *Sandbox) *Ops {
	return &Ops{sandbox: sandbox}
}

// Entry is one directory listing entry.
type Entry struct {
	Name     string    `json:"name"`
	Dir      bool      `json:"dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Listing is the payload of a list operation.
type Listing struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// List returns the entries of a directory.
func (o *Ops) List(ctx context.Context, path string) (*Listing, error) {
	abs, err := o.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", path, err)
	}

	listing := &Listing{Path: abs, Entries: []Entry{}}
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		listing.Entries = append(listing.Entries, Entry{
			Name:     de.Name(),
			Dir:      de.IsDir(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return listing, nil
}

// FileContent is the payload of a read operation.
type FileContent struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Read returns a file's content, truncated to a size safe for the
// conversation window.
func (o *Ops) Read(ctx context.Context, path string) (*FileContent, error) {
	abs, err := o.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use list_files", path)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}

	return &FileContent{
		Path:      abs,
		Content:   string(data),
		Size:      info.Size(),
		Truncated: info.Size() > maxReadBytes,
	}, nil
}

// WriteReceipt is the payload of a write operation.
type WriteReceipt struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// Write creates or replaces a file with content, creating parent
// directories as needed.
func (o *Ops) Write(ctx context.Context, path, content string) (*WriteReceipt, error) {
	abs, err := o.sandbox.ResolveWrite(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("write %q: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write %q: %w", path, err)
	}
	return &WriteReceipt{Path: abs, Bytes: len(content)}, nil
}

// TransferReceipt is the payload of a copy or move operation.
type TransferReceipt struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Copy duplicates a file. Both endpoints must resolve inside the
// sandbox; the destination is additionally subject to the write
// extension allowlist.
func (o *Ops) Copy(ctx context.Context, src, dst string) (*TransferReceipt, error) {
	srcAbs, err := o.sandbox.Resolve(src)
	if err != nil {
		return nil, err
	}
	dstAbs, err := o.sandbox.ResolveWrite(dst)
	if err != nil {
		return nil, err
	}

	in, err := os.Open(srcAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source not found: %s", src)
		}
		return nil, fmt.Errorf("copy %q: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
		return nil, fmt.Errorf("copy to %q: %w", dst, err)
	}
	out, err := os.Create(dstAbs)
	if err != nil {
		return nil, fmt.Errorf("copy to %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return nil, fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	return &TransferReceipt{Source: srcAbs, Destination: dstAbs}, nil
}

// Move renames a file within the sandbox.
func (o *Ops) Move(ctx context.Context, src, dst string) (*TransferReceipt, error) {
	srcAbs, err := o.sandbox.Resolve(src)
	if err != nil {
		return nil, err
	}
	dstAbs, err := o.sandbox.ResolveWrite(dst)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(srcAbs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source not found: %s", src)
		}
		return nil, fmt.Errorf("move %q: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
		return nil, fmt.Errorf("move to %q: %w", dst, err)
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return nil, fmt.Errorf("move %q to %q: %w", src, dst, err)
	}
	return &TransferReceipt{Source: srcAbs, Destination: dstAbs}, nil
}

// DeleteReceipt is the payload of a delete operation.
type DeleteReceipt struct {
	Path string `json:"path"`
}

// Delete removes a single file. Directories are refused to keep the
// blast radius of a misparsed call small.
func (o *Ops) Delete(ctx context.Context, path string) (*DeleteReceipt, error) {
	abs, err := o.sandbox.ResolveWrite(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("delete %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("refusing to delete directory %s", path)
	}
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("delete %q: %w", path, err)
	}
	return &DeleteReceipt{Path: abs}, nil
}

// DirReceipt is the payload of a directory creation.
type DirReceipt struct {
	Path string `json:"path"`
}

// CreateDir makes a directory, including any missing parents. Creating
// a directory that already exists succeeds. The write extension
// allowlist does not apply; directories have no extension.
func (o *Ops) CreateDir(ctx context.Context, path string) (*DirReceipt, error) {
	abs, err := o.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("%s exists and is not a directory", path)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", path, err)
	}
	return &DirReceipt{Path: abs}, nil
}
