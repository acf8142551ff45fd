package filehash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// CachedFileInfo stores file metadata with the values derived from its content
type CachedFileInfo struct {
	Path      string
	ModTime   time.Time
	Size      int64
	MD5Hash   string
	LineCount int64
	hasHash   bool
	hasLines  bool
}

// LineCounter counts the entries of a file
type LineCounter func(filePath string) (int64, error)

// Cache memoizes per-file MD5 hashes and line counts. An entry is reused
// while the file's modification time and size are unchanged.
type Cache struct {
	entries map[string]CachedFileInfo
	mu      sync.RWMutex
}

// New creates a new file hash cache
func New() *Cache {
	return &Cache{
		entries: make(map[string]CachedFileInfo),
	}
}

// lookup returns the valid cache entry for the file, or a fresh one
func (c *Cache) lookup(filePath string) (CachedFileInfo, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return CachedFileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.IsDir() {
		return CachedFileInfo{}, fmt.Errorf("%s is a directory", filePath)
	}

	c.mu.RLock()
	cached, exists := c.entries[filePath]
	c.mu.RUnlock()

	if exists && cached.ModTime.Equal(fileInfo.ModTime()) && cached.Size == fileInfo.Size() {
		return cached, nil
	}
	return CachedFileInfo{Path: filePath, ModTime: fileInfo.ModTime(), Size: fileInfo.Size()}, nil
}

func (c *Cache) store(info CachedFileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Keep whatever a concurrent caller derived for the same file version
	if existing, ok := c.entries[info.Path]; ok && existing.ModTime.Equal(info.ModTime) && existing.Size == info.Size {
		if !info.hasHash && existing.hasHash {
			info.MD5Hash, info.hasHash = existing.MD5Hash, true
		}
		if !info.hasLines && existing.hasLines {
			info.LineCount, info.hasLines = existing.LineCount, true
		}
	}
	c.entries[info.Path] = info
}

// GetOrCalculate returns the cached MD5 if valid, otherwise calculates and caches it
func (c *Cache) GetOrCalculate(filePath string) (string, error) {
	info, err := c.lookup(filePath)
	if err != nil {
		return "", err
	}
	if info.hasHash {
		return info.MD5Hash, nil
	}

	hash, err := calculateMD5(filePath)
	if err != nil {
		return "", err
	}
	info.MD5Hash, info.hasHash = hash, true
	c.store(info)
	return hash, nil
}

// Lines returns the cached line count if valid, otherwise counts with counter and caches it
func (c *Cache) Lines(filePath string, counter LineCounter) (int64, error) {
	info, err := c.lookup(filePath)
	if err != nil {
		return 0, err
	}
	if info.hasLines {
		return info.LineCount, nil
	}

	n, err := counter(filePath)
	if err != nil {
		return 0, err
	}
	info.LineCount, info.hasLines = n, true
	c.store(info)
	return n, nil
}

// Invalidate removes an entry from cache
func (c *Cache) Invalidate(filePath string) {
	c.mu.Lock()
	delete(c.entries, filePath)
	c.mu.Unlock()
}

// Size returns number of cached entries
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PopulateAsync starts background hashing and counting of every file under the directories
func (c *Cache) PopulateAsync(directories []string, counter LineCounter) {
	go func() {
		for _, dir := range directories {
			c.populateDirectory(dir, counter)
		}
	}()
}

func (c *Cache) populateDirectory(dir string, counter LineCounter) {
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		c.GetOrCalculate(path)
		if counter != nil {
			c.Lines(path, counter)
		}
		return nil
	})
}

func calculateMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
