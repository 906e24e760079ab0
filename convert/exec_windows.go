//go:build windows

package convert

import (
	"os"
	"path/filepath"
	"strings"
)

func isExecutable(path string, _ os.FileInfo) bool {
	exts := os.Getenv("PATHEXT")
	if exts == "" {
		exts = ".com;.exe;.bat;.cmd"
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range strings.Split(strings.ToLower(exts), ";") {
		if candidate != "" && candidate == ext {
			return true
		}
	}
	return false
}
