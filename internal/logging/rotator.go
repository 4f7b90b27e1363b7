package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer that rotates its file by size and by
// day, optionally gzip-compressing rotated files and pruning old ones.
type FileRotator struct {
	config   *Config
	mu       sync.Mutex
	file     *os.File
	size     int64
	lastTime time.Time
}

// NewFileRotator opens the configured log file for appending.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{config: cfg}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return nil, err
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	r.lastTime = time.Now()
	return nil
}

// Write appends to the current file, rotating first when the write
// would cross the size limit or the day has changed.
func (r *FileRotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}
	if r.shouldRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) shouldRotate(writeSize int64) bool {
	if r.size+writeSize > r.config.MaxSize*1024*1024 {
		return true
	}
	return r.lastTime.Day() != time.Now().Day()
}

// rotate renames the live file to a timestamped sibling, reopens, and
// kicks off compression and pruning in the background.
func (r *FileRotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
	}

	name, ext, dir := r.nameParts()
	timestamp := time.Now().Format("20060102-150405")
	rotatedPath := filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, timestamp, ext))

	if err := os.Rename(r.config.FilePath, rotatedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	if r.config.Compress {
		go r.compressFile(rotatedPath)
	}
	if err := r.openFile(); err != nil {
		return err
	}
	go r.cleanup()
	return nil
}

func (r *FileRotator) nameParts() (name, ext, dir string) {
	base := filepath.Base(r.config.FilePath)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext, filepath.Dir(r.config.FilePath)
}

func (r *FileRotator) compressFile(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// cleanup enforces MaxBackups and MaxAge over rotated files.
func (r *FileRotator) cleanup() {
	name, ext, dir := r.nameParts()
	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+ext+"*"))
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: match, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	if len(files) > r.config.MaxBackups {
		for i := 0; i < len(files)-r.config.MaxBackups; i++ {
			os.Remove(files[i].path)
		}
	}

	cutoff := time.Now().AddDate(0, 0, -r.config.MaxAge)
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			os.Remove(f.path)
		}
	}
}

// Close closes the live file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes the live file to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// GetLogFiles lists the live file plus every rotated sibling.
func (r *FileRotator) GetLogFiles() ([]string, error) {
	name, ext, dir := r.nameParts()
	files := []string{r.config.FilePath}

	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+ext+"*"))
	if err != nil {
		return files, err
	}
	return append(files, matches...), nil
}
