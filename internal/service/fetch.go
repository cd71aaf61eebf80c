package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const downloadTimeout = 30 * time.Second

var firmwareClient = &http.Client{Timeout: downloadTimeout}

// fetchFirmware downloads an artifact to a temporary file, optionally checks
// its sha256 (hex, case-insensitive) and returns the verified bytes. The
// temporary file is removed on every exit path; a digest mismatch means the
// artifact is discarded before any caller can use it.
func fetchFirmware(ctx context.Context, url, expectedSHA256 string) ([]byte, error) {
	path, err := downloadToTemp(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(path) }()

	if expectedSHA256 != "" {
		if err := verifySHA256(path, expectedSHA256); err != nil {
			return nil, err
		}
	}

	firmware, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware artifact: %w", err)
	}
	return firmware, nil
}

func downloadToTemp(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build firmware request: %w", err)
	}
	resp, err := firmwareClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download firmware: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download firmware: unexpected status %s", resp.Status)
	}

	f, err := os.CreateTemp("", "ota_*.bin")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close temp artifact: %w", err)
	}
	return f.Name(), nil
}

func verifySHA256(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact for hashing: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	want := strings.ToLower(strings.TrimSpace(expected))
	if got != want {
		return fmt.Errorf("sha256 mismatch: expected %s, got %s", want, got)
	}
	return nil
}
