// Package util - Sample image loading for still mode.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
)

// ErrNoImages is returned when a directory holds no supported image files.
var ErrNoImages = errors.New("no image files")

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Format is derived from the file extension.
	Format images.ImageFormat
}

// Image decodes the file contents.
func (f ImageFile) Image() (*images.Image, error) {
	img, err := images.NewImage(f.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "image %s", f.Path)
	}
	return img, nil
}

// LoadImageFile reads one image file.
func LoadImageFile(path string) (ImageFile, error) {
	format, err := images.FormatFromPath(path)
	if err != nil {
		return ImageFile{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "failed to read %s", path)
	}
	return ImageFile{Path: path, Data: data, Format: format}, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Files with an unsupported extension and subdirectories are skipped. The
// result is sorted by file name.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: ErrNoImages if nothing was found, or a read error.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := images.FormatFromPath(entry.Name()); err != nil {
			continue
		}

		f, err := LoadImageFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "directory %s", dir)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// Cycler steps through a fixed list of samples and wraps around at the end.
// It is safe for concurrent use.
type Cycler struct {
	mu    sync.Mutex
	files []ImageFile
	next  int
}

// NewCycler returns a cycler starting at the first file.
func NewCycler(files []ImageFile) (*Cycler, error) {
	if len(files) == 0 {
		return nil, ErrNoImages
	}
	return &Cycler{files: files}, nil
}

// Next returns the current sample and advances.
func (c *Cycler) Next() ImageFile {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.files[c.next]
	c.next = (c.next + 1) % len(c.files)
	return f
}

// Len is the number of samples.
func (c *Cycler) Len() int {
	return len(c.files)
}
