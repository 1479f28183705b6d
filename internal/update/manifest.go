package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/version"
)

// ArtifactInfo describes one downloadable binary.
type ArtifactInfo struct {
	URL       string `json:"url"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// VersionInfo describes one released version across platforms.
type VersionInfo struct {
	Platforms map[string]ArtifactInfo `json:"platforms"`
	Notes     string                  `json:"notes"`
}

// Manifest is the remote release index: a latest-version pointer per channel
// and the full version catalog.
type Manifest struct {
	Latest   map[string]string      `json:"latest"`
	Versions map[string]VersionInfo `json:"versions"`
}

// ResolvedArtifact is the outcome of resolving a channel and platform
// against a manifest.
type ResolvedArtifact struct {
	Version   *version.Version
	URL       string
	SHA256    string
	SizeBytes int64
	Notes     string
}

// Validate checks the manifest's structural invariant: every channel's
// latest pointer must resolve to an entry in the version catalog, and every
// version key must parse. A manifest failing any of this is rejected
// wholesale.
func (m *Manifest) Validate() error {
	if len(m.Latest) == 0 {
		return fmt.Errorf("%w: no channels", ErrManifestInvalid)
	}

	for ver := range m.Versions {
		if _, err := version.Parse(ver); err != nil {
			return fmt.Errorf("%w: bad version key: %v", ErrManifestInvalid, err)
		}
	}

	for channel, latest := range m.Latest {
		if _, err := version.Parse(latest); err != nil {
			return fmt.Errorf("%w: channel %q latest: %v", ErrManifestInvalid, channel, err)
		}
		if _, ok := m.Versions[latest]; !ok {
			return fmt.Errorf("%w: channel %q points at unknown version %s", ErrManifestInvalid, channel, latest)
		}
	}

	return nil
}

// Resolve looks up the latest version for channel and its artifact for the
// given platform. An unsupported platform is a distinct failure from "no
// update available" — the caller still compares versions afterwards.
func (m *Manifest) Resolve(channel string, p Platform) (*ResolvedArtifact, error) {
	latest, ok := m.Latest[channel]
	if !ok {
		return nil, fmt.Errorf("%w: no such channel %q", ErrManifestInvalid, channel)
	}

	return m.resolveVersion(latest, p)
}

// ResolveVersion looks up a specific version's artifact for the platform,
// for explicit `update --version` requests.
func (m *Manifest) ResolveVersion(ver string, p Platform) (*ResolvedArtifact, error) {
	return m.resolveVersion(version.Normalize(ver), p)
}

func (m *Manifest) resolveVersion(ver string, p Platform) (*ResolvedArtifact, error) {
	info, ok := m.Versions[ver]
	if !ok {
		return nil, fmt.Errorf("%w: version %s not in manifest", ErrManifestInvalid, ver)
	}

	parsed, err := version.Parse(ver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	artifact, ok := info.Platforms[p.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: no artifact for %s in version %s", ErrUnsupportedPlatform, p.Key(), ver)
	}

	return &ResolvedArtifact{
		Version:   parsed,
		URL:       artifact.URL,
		SHA256:    strings.ToLower(artifact.SHA256),
		SizeBytes: artifact.SizeBytes,
		Notes:     info.Notes,
	}, nil
}

// NotesFor returns the change summary for a version, for --show-changes.
func (m *Manifest) NotesFor(ver string) (string, error) {
	info, ok := m.Versions[version.Normalize(ver)]
	if !ok {
		return "", fmt.Errorf("%w: version %s not in manifest", ErrManifestInvalid, ver)
	}
	return info.Notes, nil
}

// Client fetches release manifests.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a manifest client with a sane timeout.
func NewClient(currentVersion string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  fmt.Sprintf("drover/%s", currentVersion),
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Fetch performs a single HTTPS GET of the manifest, deserializes it, and
// validates it structurally before returning.
func (c *Client) Fetch(ctx context.Context, manifestURL string) (*Manifest, error) {
	if err := requireHTTPS(manifestURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: manifest fetch returned status %d", ErrNetworkUnavailable, resp.StatusCode)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: failed to decode: %v", ErrManifestInvalid, err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// requireHTTPS rejects plain-HTTP URLs outright.
func requireHTTPS(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: bad URL %q: %v", ErrManifestInvalid, rawURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: refusing non-HTTPS URL %q", ErrManifestInvalid, rawURL)
	}
	return nil
}
