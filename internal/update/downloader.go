package update

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

	"github.com/shirou/gopsutil/v4/disk"
	log "github.com/sirupsen/logrus"
)

// MaxArtifactSize caps downloads even when the server lies about (or omits)
// Content-Length.
const MaxArtifactSize = 100 * 1024 * 1024 // 100 MB

const downloadChunkSize = 32 * 1024

// ProgressFunc is called after each chunk with bytes downloaded so far and
// the expected total (0 when unknown).
type ProgressFunc func(downloaded, total int64)

// VerifiedFile is a downloaded artifact whose content hash matched the
// manifest. Only a VerifiedFile can enter the installer.
type VerifiedFile struct {
	Path   string
	SHA256 string
	Size   int64
}

// Remove deletes the staged file. Safe to call after a successful install,
// where the file has already been moved away.
func (f *VerifiedFile) Remove() {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to remove staged artifact %s: %v", f.Path, err)
	}
}

// Downloader streams release artifacts into a private staging directory,
// hashing as it goes. It never retries; retry policy belongs to the
// scheduler.
type Downloader struct {
	stagingDir string
	httpClient *http.Client
	progress   ProgressFunc
	userAgent  string
}

// NewDownloader creates a downloader staging into dir.
func NewDownloader(stagingDir, currentVersion string) *Downloader {
	return &Downloader{
		stagingDir: stagingDir,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		userAgent:  fmt.Sprintf("drover/%s", currentVersion),
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (d *Downloader) WithHTTPClient(hc *http.Client) *Downloader {
	d.httpClient = hc
	return d
}

// WithProgress sets a per-chunk progress callback.
func (d *Downloader) WithProgress(fn ProgressFunc) *Downloader {
	d.progress = fn
	return d
}

// Download fetches the artifact over HTTPS into a freshly created temp file
// with owner-only permissions, verifying the sha256 against the manifest
// value. On any failure the partial file is deleted. A hash mismatch is
// ErrChecksumMismatch and is terminal — the file never reaches the
// installer.
func (d *Downloader) Download(ctx context.Context, artifact *ResolvedArtifact) (*VerifiedFile, error) {
	if err := requireHTTPS(artifact.URL); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(d.stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", classifyFSError(err))
	}

	if err := checkDiskSpace(d.stagingDir, artifact.SizeBytes); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(d.stagingDir, "drover-update-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", classifyFSError(err))
	}
	tmpPath := tmp.Name()

	// CreateTemp gives 0600 already; make that explicit in case of a
	// permissive umask-altering platform.
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to restrict staging file permissions: %w", err)
	}

	size, hash, err := d.stream(ctx, artifact, tmp)
	closeErr := tmp.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("failed to finalize staging file: %w", classifyFSError(closeErr))
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if hash != strings.ToLower(artifact.SHA256) {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, hash, artifact.SHA256)
	}

	log.Debugf("downloaded %d bytes to %s, sha256 verified", size, tmpPath)

	return &VerifiedFile{Path: tmpPath, SHA256: hash, Size: size}, nil
}

// stream copies the response body into out, hashing incrementally and
// reporting progress per chunk. Nothing is buffered beyond one chunk.
func (d *Downloader) stream(ctx context.Context, artifact *ResolvedArtifact, out *os.File) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("%w: download returned status %d", ErrNetworkUnavailable, resp.StatusCode)
	}

	if resp.ContentLength > MaxArtifactSize {
		return 0, "", fmt.Errorf("artifact size %d exceeds limit %d", resp.ContentLength, MaxArtifactSize)
	}

	total := artifact.SizeBytes
	if total == 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	hasher := sha256.New()
	buf := make([]byte, downloadChunkSize)
	var downloaded int64

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			downloaded += int64(n)
			if downloaded > MaxArtifactSize {
				return 0, "", fmt.Errorf("download exceeded size limit %d", MaxArtifactSize)
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return 0, "", fmt.Errorf("failed to write artifact: %w", classifyFSError(err))
			}
			hasher.Write(buf[:n])
			if d.progress != nil {
				d.progress(downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, "", fmt.Errorf("%w: %v", ErrNetworkUnavailable, readErr)
		}
	}

	return downloaded, hex.EncodeToString(hasher.Sum(nil)), nil
}

// checkDiskSpace refuses the download when the staging filesystem cannot
// hold the artifact with headroom for the later install-dir copy.
func checkDiskSpace(dir string, artifactSize int64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		// Disk stats are advisory; ENOSPC still surfaces at write time.
		log.Debugf("disk usage check for %s failed: %v", dir, err)
		return nil
	}

	required := uint64(artifactSize) * 2
	if artifactSize > 0 && usage.Free < required {
		return fmt.Errorf("%w: need %d bytes free in %s, have %d", ErrDiskFull, required, dir, usage.Free)
	}
	return nil
}

// classifyFSError maps filesystem errors onto the update failure classes.
func classifyFSError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case isNoSpace(err):
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	default:
		return err
	}
}
