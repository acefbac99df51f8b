package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
)

// Load reads and decodes a JPEG or PNG file into an RGB raster.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imaging: open %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode %s: %w", path, err)
	}
	return FromNative(src), nil
}

// SaveJPEG writes the image as JPEG, creating parent directories as needed.
func SaveJPEG(path string, im *Image, quality int) error {
	if quality <= 0 {
		quality = 92
	}
	return save(path, func(f *os.File) error {
		return jpeg.Encode(f, im.ToRGBA(), &jpeg.Options{Quality: quality})
	})
}

// SavePNG writes the image as PNG, creating parent directories as needed.
func SavePNG(path string, im *Image) error {
	return save(path, func(f *os.File) error {
		return png.Encode(f, im.ToRGBA())
	})
}

func save(path string, encode func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("imaging: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imaging: create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("imaging: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("imaging: close %s: %w", path, err)
	}
	return nil
}
