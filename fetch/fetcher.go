package alpineami_fetch

import (
	"context"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	rh "github.com/hashicorp/go-retryablehttp"
	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	"github.com/opencontainers/go-digest"
)

// DefaultTimeout bounds a single download, including reading the body.
const DefaultTimeout = 5 * time.Minute

// VerifiedArtifact is a downloaded file whose content matched the expected digest.
// The caller owns the file and removes it once consumed.
type VerifiedArtifact struct {
	URL    string
	Digest digest.Digest
	Path   string
}

// Remove the local copy of the artifact
func (va *VerifiedArtifact) Remove() error {
	if err := os.Remove(va.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Fetcher downloads artifacts into a directory and refuses anything that does not hash as expected.
type Fetcher struct {
	dir    string
	client *rh.Client

	wzlib_logger.WzLogger
}

func NewFetcher(dir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	f := new(Fetcher)
	f.dir = dir
	f.client = rh.NewClient()
	f.client.RetryMax = 0
	f.client.HTTPClient.Timeout = timeout
	f.client.ErrorHandler = rh.PassthroughErrorHandler
	f.client.Logger = NewHTTPLogger(wzlib_logger.GetCurrentLogger())

	return f
}

// ParseDigest accepts either "algorithm:hex" or a bare SHA-256 hex string.
func ParseDigest(expected string) (digest.Digest, error) {
	expected = strings.TrimSpace(expected)
	if strings.Contains(expected, ":") {
		return digest.Parse(expected)
	}

	d := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(expected))
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}

// artifactName derives the local file name from the URL path
func artifactName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "artifact"
	}
	return name
}

// Fetch downloads the URL and returns it only if its digest equals expected.
func (f *Fetcher) Fetch(ctx context.Context, uri string, expected string) (*VerifiedArtifact, error) {
	want, err := ParseDigest(expected)
	if err != nil {
		return nil, fmt.Errorf("invalid expected digest for %s: %w", uri, err)
	}

	u, err := url.ParseRequestURI(uri)
	if err != nil {
		return nil, &alpineami_lib.FetchError{URL: uri, Err: err}
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, err
	}

	f.GetLogger().Infof("Fetching %s", uri)
	req, err := rh.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &alpineami_lib.FetchError{URL: uri, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &alpineami_lib.FetchError{URL: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &alpineami_lib.FetchError{URL: uri, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}

	partial, err := os.CreateTemp(f.dir, ".partial-*")
	if err != nil {
		return nil, err
	}
	keep := false
	defer func() {
		partial.Close()
		if !keep {
			os.Remove(partial.Name())
		}
	}()

	digester := want.Algorithm().Digester()
	if _, err := io.Copy(io.MultiWriter(partial, digester.Hash()), resp.Body); err != nil {
		return nil, &alpineami_lib.FetchError{URL: uri, Err: err}
	}

	if got := digester.Digest(); got != want {
		return nil, &alpineami_lib.IntegrityError{URL: uri, Expected: want.String(), Actual: got.String()}
	}

	if err := partial.Close(); err != nil {
		return nil, err
	}

	target := filepath.Join(f.dir, artifactName(u))
	if err := os.Rename(partial.Name(), target); err != nil {
		return nil, err
	}
	keep = true

	f.GetLogger().Debugf("Verified %s (%s)", target, want)
	return &VerifiedArtifact{URL: uri, Digest: want, Path: target}, nil
}
