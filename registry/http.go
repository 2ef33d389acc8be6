package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/knotspace/knot/knoterr"
)

// defaultListTTL caches a ListVersions response per process, per name, so a
// full-workspace resolve that touches the same remote package from several
// apps does not refetch its version list once per app.
const defaultListTTL = 30 * time.Second

// HTTPClient is the production Client, built on go-retryablehttp (for
// timeout-then-retry behavior) and go-cleanhttp (for a non-shared,
// correctly configured *http.Client base), grounded on
// SeleniaProject-Orizon/internal/packagemanager/httpregistry.go's caching
// and retry shape.
type HTTPClient struct {
	base  string
	token string
	http  *retryablehttp.Client

	mu        sync.Mutex
	listCache map[string]listCacheEntry
	listTTL   time.Duration
	sf        singleflight.Group
}

type listCacheEntry struct {
	at       time.Time
	versions []VersionInfo
}

// NewHTTPClient builds a client against baseURL, authenticating with token
// (may be empty for anonymous reads).
func NewHTTPClient(baseURL, token string) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &HTTPClient{
		base:      strings.TrimRight(baseURL, "/"),
		token:     token,
		http:      rc,
		listCache: make(map[string]listCacheEntry),
		listTTL:   defaultListTTL,
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *HTTPClient) ListVersions(ctx context.Context, name string) ([]VersionInfo, error) {
	c.mu.Lock()
	if e, ok := c.listCache[name]; ok && time.Since(e.at) < c.listTTL {
		c.mu.Unlock()
		return e.versions, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("list:"+name, func() (interface{}, error) {
		req, err := c.newRequest(ctx, http.MethodGet, "/api/packages/"+url.PathEscape(name)+"/versions", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &knoterr.NetworkError{Package: name, Err: err, RetrySuggestion: "check connectivity to the registry and retry"}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, mapStatus(name, "", resp)
		}

		var out struct {
			Data []struct {
				Version     string `json:"version"`
				PublishedAt string `json:"published_at"`
				Checksum    string `json:"checksum"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, &knoterr.NetworkError{Package: name, Err: err, RetrySuggestion: "the registry returned a malformed response; retry later"}
		}

		versions := make([]VersionInfo, len(out.Data))
		for i, d := range out.Data {
			versions[i] = VersionInfo{Version: d.Version, PublishedAt: d.PublishedAt, Checksum: d.Checksum}
		}

		c.mu.Lock()
		c.listCache[name] = listCacheEntry{at: time.Now(), versions: versions}
		c.mu.Unlock()

		return versions, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]VersionInfo), nil
}

func (c *HTTPClient) Exists(ctx context.Context, name, version string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/packages/"+url.PathEscape(name)+"/"+url.PathEscape(version)+"/exists", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, &knoterr.NetworkError{Package: name, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, mapStatus(name, version, resp)
	}
}

func (c *HTTPClient) Fetch(ctx context.Context, name, version string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/packages/"+url.PathEscape(name)+"/"+url.PathEscape(version)+"/download", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &knoterr.NetworkError{Package: name, Err: err, RetrySuggestion: "check connectivity to the registry and retry"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(name, version, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &knoterr.NetworkError{Package: name, Err: err}
	}
	return data, nil
}

func (c *HTTPClient) PublishMetadata(ctx context.Context, meta Metadata) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/packages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &knoterr.NetworkError{Package: meta.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return mapStatus(meta.Name, meta.Version, resp)
	}
	c.invalidateList(meta.Name)
	return nil
}

// UploadTarball posts a multipart/form-data body carrying the tarball plus
// the packageName/version fields, per spec.md §6's upload contract.
func (c *HTTPClient) UploadTarball(ctx context.Context, name, version string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("packageName", name); err != nil {
		return err
	}
	if err := mw.WriteField("version", version); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", name+"-"+version+".tar.gz")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/packages/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return &knoterr.NetworkError{Package: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return mapStatus(name, version, resp)
	}
	return nil
}

func (c *HTTPClient) Delete(ctx context.Context, name, version string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/packages/"+url.PathEscape(name)+"/"+url.PathEscape(version), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &knoterr.NetworkError{Package: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return mapStatus(name, version, resp)
	}
	c.invalidateList(name)
	return nil
}

func (c *HTTPClient) invalidateList(name string) {
	c.mu.Lock()
	delete(c.listCache, name)
	c.mu.Unlock()
}

// mapStatus translates a non-2xx registry response into the knoterr
// taxonomy, per spec.md §7's "status codes from the registry are mapped to
// friendly forms (401 -> authenticate, 409 -> version already published)".
func mapStatus(name, version string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	message := extractMessage(body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &knoterr.PackageNotFoundError{Package: name}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &knoterr.ConfigurationError{
			Field:  "KNOT_TOKEN",
			Reason: "the registry rejected this request; authenticate by setting a valid KNOT_TOKEN",
		}
	case http.StatusConflict:
		return &knoterr.VersionConflictError{
			Package: name,
			Conflicts: []knoterr.VersionConstraint{
				{Range: version, Requester: "registry"},
			},
			Suggestion: "bump version",
		}
	default:
		if message == "" {
			message = fmt.Sprintf("registry responded with status %d", resp.StatusCode)
		}
		return &knoterr.NetworkError{
			Package:         name,
			Err:             fmt.Errorf("%s", message),
			RetrySuggestion: "the registry returned an unexpected status; retry later or check its status page",
		}
	}
}

func extractMessage(body []byte) string {
	var withError struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &withError) == nil {
		if withError.Error != "" {
			return withError.Error
		}
		if withError.Message != "" {
			return withError.Message
		}
	}
	return ""
}
