package utils

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
)

// IsTarGz sniffs the first bytes of a file for the gzip MIME type.
func IsTarGz(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 512)
	if _, err := f.Read(buf); err != nil {
		return false
	}
	return http.DetectContentType(buf) == "application/gzip"
}

// UnpackTarGz extracts a .tar.gz archive into dstDir.
func UnpackTarGz(archive, dstDir string) error {
	cmd := exec.Command("tar", "-xzf", archive, "-C", dstDir)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to unpack tar.gz file: %w", err)
	}
	return nil
}
