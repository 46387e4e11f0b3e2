// Package filesystem provides the read_file, write_file and list_output_files tools.
package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// FileSystem defines the interface for filesystem operations.
// This allows mocking the os package for testing.
type FileSystem interface {
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// OSFileSystem is the default implementation that uses the os package.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (OSFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

// Options configures the file tools.
type Options struct {
	Root      string // readable tree (scraped inputs, scripts, outputs)
	OutputDir string // the only writable tree
	Spiller   toolkit.Spiller
	FS        FileSystem // nil means the OS
}

// New returns the file tool set.
func New(opts Options) engine.ToolSet {
	if opts.FS == nil {
		opts.FS = OSFileSystem{}
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	return engine.ToolSet{}.Add(
		newReadFileTool(opts),
		newWriteFileTool(opts),
		newListOutputFilesTool(opts),
	)
}
