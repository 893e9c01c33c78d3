package filefilter

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/denormal/go-gitignore"
	"github.com/go-go-golems/clay/pkg/filewalker"
	"github.com/pkg/errors"
)

// DefaultMaxFileSize caps a single attachment.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

var DefaultExcludedDirs = []string{
	".git", ".svn", "node_modules", "vendor", ".idea", ".vscode", "dist",
}

// FileFilter decides which local files may be sent as message attachments.
type FileFilter struct {
	MaxFileSize       int64    `yaml:"max-file-size,omitempty"`
	ExcludeExts       []string `yaml:"exclude-exts,omitempty"`
	ExcludeDirs       []string `yaml:"exclude-dirs,omitempty"`
	FilterBinaryFiles bool     `yaml:"filter-binary-files,omitempty"`

	GitIgnoreFilter gitignore.GitIgnore `yaml:"-"`
}

type FileFilterOption func(*FileFilter)

func NewFileFilter(options ...FileFilterOption) *FileFilter {
	ff := &FileFilter{
		MaxFileSize: DefaultMaxFileSize,
		ExcludeDirs: DefaultExcludedDirs,
	}
	for _, option := range options {
		option(ff)
	}
	return ff
}

func WithMaxFileSize(size int64) FileFilterOption {
	return func(ff *FileFilter) {
		if size > 0 {
			ff.MaxFileSize = size
		}
	}
}

func WithExcludeExts(exts []string) FileFilterOption {
	return func(ff *FileFilter) {
		ff.ExcludeExts = exts
	}
}

func WithGitIgnoreFilter(filter gitignore.GitIgnore) FileFilterOption {
	return func(ff *FileFilter) {
		ff.GitIgnoreFilter = filter
	}
}

func WithFilterBinaryFiles(filter bool) FileFilterOption {
	return func(ff *FileFilter) {
		ff.FilterBinaryFiles = filter
	}
}

// LoadGitIgnore builds a repository-wide .gitignore matcher rooted at dir.
func LoadGitIgnore(dir string) (gitignore.GitIgnore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dir)
	}
	g, err := gitignore.NewRepository(abs)
	if err != nil {
		return nil, errors.Wrap(err, "load gitignore")
	}
	return g, nil
}

// Collect resolves attachment arguments into a list of files. Files named
// explicitly must pass the size and extension checks or Collect fails.
// Directories are walked and offending files are skipped silently, as are
// hidden entries and anything the gitignore filter excludes.
func (ff *FileFilter) Collect(paths []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "attachment %s", p)
		}
		if !info.IsDir() {
			if reason := ff.rejectFile(p, info); reason != "" {
				return nil, errors.Errorf("attachment %s rejected: %s", p, reason)
			}
			add(p)
			continue
		}
		files, err := ff.walkDir(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			add(f)
		}
	}
	return out, nil
}

func (ff *FileFilter) walkDir(root string) ([]string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", root)
	}
	isRoot := func(path string) bool {
		abs, err := filepath.Abs(path)
		return err == nil && abs == rootAbs
	}

	walker, err := filewalker.NewWalker(
		filewalker.WithFollowSymlinks(false),
		filewalker.WithFilter(func(node *filewalker.Node) bool {
			return isRoot(node.GetPath()) || ff.FilterNode(node)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create walker")
	}

	var files []string
	preVisit := func(_ *filewalker.Walker, node *filewalker.Node) error {
		if node.GetType() != filewalker.DirectoryNode && ff.FilterPath(node.GetPath()) {
			files = append(files, node.GetPath())
		}
		return nil
	}
	if err := walker.Walk([]string{root}, preVisit, nil); err != nil {
		return nil, errors.Wrapf(err, "walk %s", root)
	}
	sort.Strings(files)
	return files, nil
}

// FilterNode reports whether the walker should descend into or keep node.
func (ff *FileFilter) FilterNode(node *filewalker.Node) bool {
	path := node.GetPath()
	if node.GetType() == filewalker.DirectoryNode {
		name := filepath.Base(path)
		return !strings.HasPrefix(name, ".") && !ff.isExcludedDir(name) && !ff.ignored(path)
	}
	return ff.FilterPath(path)
}

// FilterPath reports whether a file found inside an attached directory is kept.
func (ff *FileFilter) FilterPath(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") || ff.ignored(path) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return ff.rejectFile(path, info) == ""
}

func (ff *FileFilter) isExcludedDir(name string) bool {
	for _, d := range ff.ExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

func (ff *FileFilter) ignored(path string) bool {
	if ff.GitIgnoreFilter == nil {
		return false
	}
	m := ff.GitIgnoreFilter.Match(path)
	return m != nil && m.Ignore()
}

func (ff *FileFilter) rejectFile(path string, info fs.FileInfo) string {
	if !info.Mode().IsRegular() {
		return "not a regular file"
	}
	if ff.MaxFileSize > 0 && info.Size() > ff.MaxFileSize {
		return "file too large"
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, excluded := range ff.ExcludeExts {
		if ext == strings.ToLower(excluded) {
			return "excluded extension"
		}
	}
	if ff.FilterBinaryFiles {
		if isBinary, err := isBinaryFile(path); err == nil && isBinary {
			return "binary file"
		}
	}
	return ""
}

func isBinaryFile(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = file.Close()
	}()

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return false, err
	}
	return bytes.IndexByte(buffer[:n], 0) != -1, nil
}
