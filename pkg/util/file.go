package util

import (
	"os"
	"path/filepath"
)

// SearchFileUpwards looks for fileName in baseDir and then in each parent directory,
// going up at most maxDepth levels. It returns the path of the first match.
func SearchFileUpwards(baseDir, fileName string, maxDepth int) (string, bool) {
	dir, err := filepath.Abs(baseDir)
	if err != nil {
		return "", false
	}

	for i := 0; i <= maxDepth; i++ {
		candidate := filepath.Join(dir, fileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
