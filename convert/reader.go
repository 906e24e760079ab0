package convert

import (
	"os"

	"golang.org/x/exp/mmap"
)

const defaultMmapMinSize = 128 * 1024

var openMmapReader = mmap.Open

// readOutput returns the full content of path. Files at or above
// mmapMinSize are mapped; smaller files, and files that fail to map, are
// read directly.
func readOutput(path string, mmapMinSize int64) ([]byte, error) {
	if mmapMinSize <= 0 {
		mmapMinSize = defaultMmapMinSize
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode().IsRegular() && info.Size() >= mmapMinSize {
		content, err := readOutputMmap(path)
		if err == nil {
			return content, nil
		}
	}
	return os.ReadFile(path)
}

func readOutputMmap(path string) ([]byte, error) {
	r, err := openMmapReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	size := r.Len()
	if size <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}
