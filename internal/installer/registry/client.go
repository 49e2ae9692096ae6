package registry

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/glassboxhq/glassbox/internal/manifest"
)

// FetchError reports a failed registry fetch with enough context to tell
// the caller which package and URL were involved.
type FetchError struct {
	Package string
	URL     string
	Status  int
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry fetch %s (%s): status %d", e.Package, e.URL, e.Status)
	}
	return fmt.Sprintf("registry fetch %s (%s): %v", e.Package, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// VersionMeta is one published version: its manifest plus distribution info.
type VersionMeta struct {
	manifest.PackageJSON
	Dist struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

// Metadata is the registry's per-package version index.
type Metadata struct {
	Name     string                  `json:"name"`
	DistTags map[string]string       `json:"dist-tags"`
	Versions map[string]*VersionMeta `json:"versions"`
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RetryMax  int
	RateLimit float64 // requests per second, zero means unlimited
	UserAgent string
	AuthToken string
}

// Client wraps resty with a retrying transport and a rate limiter.
type Client struct {
	base    string
	resty   *resty.Client
	limiter *rate.Limiter
}

// NewClient builds a registry client.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "glassbox-installer/1.0"
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetTransport(retryClient.HTTPClient.Transport)
	if opts.AuthToken != "" {
		rc.SetAuthToken(opts.AuthToken)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), int(opts.RateLimit)+1)
	}

	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		resty:   rc,
		limiter: limiter,
	}
}

func (c *Client) get(ctx context.Context, pkg, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Package: pkg, URL: url, Err: err}
	}
	resp, err := c.resty.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &FetchError{Package: pkg, URL: url, Err: err}
	}
	if resp.StatusCode() != 200 {
		return nil, &FetchError{Package: pkg, URL: url, Status: resp.StatusCode()}
	}
	return resp.Body(), nil
}

// Metadata fetches the version index for a package.
func (c *Client) Metadata(ctx context.Context, name string) (*Metadata, error) {
	url := c.base + "/" + name
	body, err := c.get(ctx, name, url)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := sonic.Unmarshal(body, &meta); err != nil {
		return nil, &FetchError{Package: name, URL: url, Err: fmt.Errorf("decode metadata: %w", err)}
	}
	if len(meta.Versions) == 0 {
		return nil, &FetchError{Package: name, URL: url, Err: errors.New("no published versions")}
	}
	return &meta, nil
}

// File fetches one file of a resolved package version, addressed CDN-style
// as name@version/path.
func (c *Client) File(ctx context.Context, name, version, path string) ([]byte, error) {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "./"), "/")
	url := fmt.Sprintf("%s/%s@%s/%s", c.base, name, version, path)
	return c.get(ctx, name, url)
}

// Tarball fetches and unpacks a gzipped package tarball. Entry names have
// the conventional leading "package/" directory stripped, so keys are
// package-relative paths.
func (c *Client) Tarball(ctx context.Context, name, url string) (map[string][]byte, error) {
	body, err := c.get(ctx, name, url)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Package: name, URL: url, Err: fmt.Errorf("gzip: %w", err)}
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FetchError{Package: name, URL: url, Err: fmt.Errorf("tar: %w", err)}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, &FetchError{Package: name, URL: url, Err: fmt.Errorf("tar entry %s: %w", hdr.Name, err)}
		}
		files[stripRoot(hdr.Name)] = data
	}
	if len(files) == 0 {
		return nil, &FetchError{Package: name, URL: url, Err: errors.New("empty tarball")}
	}
	return files, nil
}

// stripRoot removes the tarball's single top-level directory, usually
// "package/".
func stripRoot(name string) string {
	name = strings.TrimPrefix(name, "./")
	if idx := strings.Index(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
