package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// serveArtifact returns a TLS server that serves body at /artifact.
func serveArtifact(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	body := []byte("new drover binary contents")
	srv := serveArtifact(t, body)

	stagingDir := filepath.Join(t.TempDir(), "tmp")
	d := NewDownloader(stagingDir, "2025.11.2").WithHTTPClient(srv.Client())

	artifact := &ResolvedArtifact{
		URL:       srv.URL + "/artifact",
		SHA256:    sha256Hex(body),
		SizeBytes: int64(len(body)),
	}

	file, err := d.Download(context.Background(), artifact)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	got, err := os.ReadFile(file.Path)
	if err != nil {
		t.Fatalf("Failed to read staged file: %v", err)
	}
	if string(got) != string(body) {
		t.Error("staged file contents differ from served body")
	}
	if file.Size != int64(len(body)) {
		t.Errorf("Size = %d, want %d", file.Size, len(body))
	}
	if file.SHA256 != artifact.SHA256 {
		t.Errorf("SHA256 = %s, want %s", file.SHA256, artifact.SHA256)
	}
	if !strings.HasPrefix(filepath.Base(file.Path), "drover-update-") {
		t.Errorf("staged file name = %s, want drover-update-* prefix", filepath.Base(file.Path))
	}
}

func TestDownloadFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on windows")
	}

	body := []byte("binary")
	srv := serveArtifact(t, body)

	stagingDir := filepath.Join(t.TempDir(), "tmp")
	d := NewDownloader(stagingDir, "2025.11.2").WithHTTPClient(srv.Client())

	file, err := d.Download(context.Background(), &ResolvedArtifact{
		URL: srv.URL, SHA256: sha256Hex(body), SizeBytes: int64(len(body)),
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	info, err := os.Stat(file.Path)
	if err != nil {
		t.Fatalf("Failed to stat staged file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("staged file mode = %o, want 0600", info.Mode().Perm())
	}

	dirInfo, err := os.Stat(stagingDir)
	if err != nil {
		t.Fatalf("Failed to stat staging dir: %v", err)
	}
	if dirInfo.Mode().Perm() != 0o700 {
		t.Errorf("staging dir mode = %o, want 0700", dirInfo.Mode().Perm())
	}
}

func TestDownloadChecksumMismatchDeletesFile(t *testing.T) {
	body := []byte("served bytes")
	srv := serveArtifact(t, body)

	stagingDir := filepath.Join(t.TempDir(), "tmp")
	d := NewDownloader(stagingDir, "2025.11.2").WithHTTPClient(srv.Client())

	_, err := d.Download(context.Background(), &ResolvedArtifact{
		URL:    srv.URL,
		SHA256: sha256Hex([]byte("different bytes")),
	})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Download() error = %v, want ErrChecksumMismatch", err)
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		t.Fatalf("Failed to read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir has %d leftover files after mismatch, want 0", len(entries))
	}
}

// Flipping any byte of the artifact must always surface as a mismatch.
func TestDownloadSingleByteFlipAlwaysMismatches(t *testing.T) {
	body := []byte("drover release artifact payload")
	expected := sha256Hex(body)

	for i := range body {
		corrupted := append([]byte(nil), body...)
		corrupted[i] ^= 0x01

		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(corrupted)
		}))

		d := NewDownloader(filepath.Join(t.TempDir(), "tmp"), "2025.11.2").WithHTTPClient(srv.Client())
		_, err := d.Download(context.Background(), &ResolvedArtifact{URL: srv.URL, SHA256: expected})
		srv.Close()

		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("byte %d flipped: error = %v, want ErrChecksumMismatch", i, err)
		}
	}
}

func TestDownloadRejectsPlainHTTP(t *testing.T) {
	d := NewDownloader(t.TempDir(), "2025.11.2")
	_, err := d.Download(context.Background(), &ResolvedArtifact{URL: "http://releases.example.com/a"})
	if err == nil {
		t.Fatal("Download() of http:// URL should error")
	}
}

func TestDownloadServerErrorDeletesPartial(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	stagingDir := filepath.Join(t.TempDir(), "tmp")
	d := NewDownloader(stagingDir, "2025.11.2").WithHTTPClient(srv.Client())

	_, err := d.Download(context.Background(), &ResolvedArtifact{URL: srv.URL, SHA256: "aa"})
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("Download() error = %v, want ErrNetworkUnavailable", err)
	}

	entries, _ := os.ReadDir(stagingDir)
	if len(entries) != 0 {
		t.Errorf("staging dir has %d leftover files after failure, want 0", len(entries))
	}
}

func TestDownloadProgressCallback(t *testing.T) {
	body := make([]byte, 3*downloadChunkSize+100)
	for i := range body {
		body[i] = byte(i)
	}
	srv := serveArtifact(t, body)

	var calls int
	var last int64
	d := NewDownloader(filepath.Join(t.TempDir(), "tmp"), "2025.11.2").
		WithHTTPClient(srv.Client()).
		WithProgress(func(downloaded, total int64) {
			calls++
			if downloaded < last {
				t.Errorf("progress went backwards: %d after %d", downloaded, last)
			}
			last = downloaded
		})

	file, err := d.Download(context.Background(), &ResolvedArtifact{
		URL: srv.URL, SHA256: sha256Hex(body), SizeBytes: int64(len(body)),
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if calls == 0 {
		t.Error("progress callback never invoked")
	}
	if last != file.Size {
		t.Errorf("final progress = %d, want %d", last, file.Size)
	}
}

func TestDownloadCancelled(t *testing.T) {
	srv := serveArtifact(t, []byte("body"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stagingDir := filepath.Join(t.TempDir(), "tmp")
	d := NewDownloader(stagingDir, "2025.11.2").WithHTTPClient(srv.Client())

	if _, err := d.Download(ctx, &ResolvedArtifact{URL: srv.URL, SHA256: "aa"}); err == nil {
		t.Fatal("Download() with cancelled context should error")
	}

	entries, _ := os.ReadDir(stagingDir)
	if len(entries) != 0 {
		t.Errorf("staging dir has %d leftover files after cancel, want 0", len(entries))
	}
}
