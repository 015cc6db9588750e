package deps

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"
)

var ErrUnsupportedChecksum = errors.New("unsupported checksum length")

func newDigest(expectedHex string) (hash.Hash, error) {
	switch len(expectedHex) {
	case sha1.Size * 2:
		return sha1.New(), nil
	case sha256.Size * 2:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: %d hex chars", ErrUnsupportedChecksum, len(expectedHex))
	}
}

// FileDigest streams path through the digest matching the expected checksum width.
func FileDigest(path, expectedHex string) (string, error) {
	h, err := newDigest(strings.TrimSpace(expectedHex))
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckIntegrity reports whether the file at path hashes to expectedHex.
// A missing file is not an error; it simply does not match.
func CheckIntegrity(path, expectedHex string) (bool, error) {
	expectedHex = strings.TrimSpace(expectedHex)
	got, err := FileDigest(path, expectedHex)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return strings.EqualFold(got, expectedHex), nil
}
