package cmd

import "os"

// FileExists checks if a file exists (and is not a directory).
func FileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
