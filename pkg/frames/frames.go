// Package frames reads the still images that make up an annotation job
package frames

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Frame is one image of a job
type Frame struct {
	Index  int    `json:"index"`
	Name   string `json:"name"` // Base filename, eg "frame_0001.jpg"
	Path   string `json:"-"`
	Width  int    `json:"width"` // Natural (intrinsic) pixel size
	Height int    `json:"height"`
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage returns true if the filename has one of the extensions we can decode
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Stem returns the filename without directory or extension
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListFolder returns the images in dir, sorted by name.
// The natural size of each image is read from its header, without decoding the pixels.
func ListFolder(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	result := make([]Frame, 0, len(names))
	for i, name := range names {
		path := filepath.Join(dir, name)
		w, h, err := NaturalSize(path)
		if err != nil {
			return nil, fmt.Errorf("Failed to read size of %v: %w", name, err)
		}
		result = append(result, Frame{
			Index:  i,
			Name:   name,
			Path:   path,
			Width:  w,
			Height: h,
		})
	}
	return result, nil
}

// NaturalSize reads the pixel dimensions of an image file
func NaturalSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// Load decodes the pixels of a frame
func Load(f Frame) (image.Image, error) {
	img, err := imaging.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("Failed to load frame %v: %w", f.Name, err)
	}
	return img, nil
}
