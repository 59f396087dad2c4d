package pipeline

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// fileHash computes the xxh3-128 hash of a file's content as a hex string.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}
