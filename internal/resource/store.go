package resource

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/cache/filehash"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// Subdirectories of the data directory
const (
	WordlistsDir = "wordlists"
	RulesDir     = "rules"
)

const readBufferSize = 1024 * 1024

// FileStore resolves wordlist and rule references against the data directory.
// References are slash separated paths relative to the directory, e.g.
// "wordlists/rockyou.txt.gz" or "rules/best64.rule".
type FileStore struct {
	root          string
	publicBaseURL string
	cache         *filehash.Cache
}

// NewFileStore creates a store rooted at dataDir. When publicBaseURL is set,
// Locate returns download URLs below it instead of local paths.
func NewFileStore(dataDir, publicBaseURL string) (*FileStore, error) {
	root, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	for _, dir := range []string{WordlistsDir, RulesDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return &FileStore{
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		cache:         filehash.New(),
	}, nil
}

// Warm hashes and counts every resource in the background
func (s *FileStore) Warm() {
	s.cache.PopulateAsync([]string{filepath.Join(s.root, WordlistsDir), filepath.Join(s.root, RulesDir)}, func(p string) (int64, error) {
		return counterFor(p)(p)
	})
}

// Path maps a reference to a file inside the data directory
func (s *FileStore) Path(ref string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(ref, "\\", "/"))
	if clean == "/" || strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("empty resource reference")
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("resource reference %q escapes the data directory", ref)
	}
	return full, nil
}

func (s *FileStore) resolve(ref string) (string, error) {
	full, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("resource %q: %w", ref, repository.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat resource %q: %w", ref, err)
	}
	return full, nil
}

// Count returns the number of candidates in a wordlist or rules in a rule file
func (s *FileStore) Count(ctx context.Context, ref string) (int64, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return 0, err
	}
	n, err := s.cache.Lines(full, counterFor(full))
	if err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", ref, err)
	}
	debug.Debug("Resource %s has %d entries", ref, n)
	return n, nil
}

// Locate returns where an agent fetches the resource from
func (s *FileStore) Locate(ctx context.Context, ref string) (string, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if s.publicBaseURL == "" {
		return full, nil
	}
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return "", err
	}
	return s.publicBaseURL + "/" + (&url.URL{Path: filepath.ToSlash(rel)}).EscapedPath(), nil
}

// Checksum returns the MD5 of the resource file as stored on disk
func (s *FileStore) Checksum(ref string) (string, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	return s.cache.GetOrCalculate(full)
}

// Open opens the resource for download
func (s *FileStore) Open(ref string) (io.ReadSeekCloser, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// IsRuleFile reports whether the path names a rule file
func IsRuleFile(p string) bool {
	p = filepath.ToSlash(p)
	ext := strings.ToLower(path.Ext(p))
	return ext == ".rule" || ext == ".rules" || strings.Contains("/"+p, "/"+RulesDir+"/")
}

func counterFor(p string) filehash.LineCounter {
	if IsRuleFile(p) {
		return CountRules
	}
	return CountWords
}

// CountWords counts the lines of a wordlist. Gzip and zip archives are
// counted through streaming decompression.
func CountWords(filePath string) (int64, error) {
	var n int64
	err := withReader(filePath, func(r io.Reader) error {
		var err error
		n, err = countLines(r)
		return err
	})
	return n, err
}

// CountRules counts the rules of a rule file, skipping blank lines and comments
func CountRules(filePath string) (int64, error) {
	var n int64
	err := withReader(filePath, func(r io.Reader) error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), readBufferSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			n++
		}
		return scanner.Err()
	})
	return n, err
}

func withReader(filePath string, fn func(io.Reader) error) error {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".gz":
		file, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer file.Close()
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		return fn(gz)
	case ".zip":
		archive, err := zip.OpenReader(filePath)
		if err != nil {
			return fmt.Errorf("failed to open zip: %w", err)
		}
		defer archive.Close()
		// hashcat reads the first file of the archive
		for _, f := range archive.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
			}
			defer rc.Close()
			return fn(rc)
		}
		return fmt.Errorf("no files found in zip archive")
	default:
		file, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer file.Close()
		return fn(file)
	}
}

// countLines counts newline terminated lines plus a final unterminated one
func countLines(r io.Reader) (int64, error) {
	buf := make([]byte, readBufferSize)
	var count int64
	var last byte = '\n'
	for {
		n, err := r.Read(buf)
		if n > 0 {
			count += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if last != '\n' {
		count++
	}
	return count, nil
}
