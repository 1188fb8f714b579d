// Package source downloads the binary source document for a job, either
// from a directly fetchable URL or from a third-party file host via a
// bearer-token GET.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tobysauze/BookByte-sub001/internal/retryhttp"
	"github.com/tobysauze/BookByte-sub001/internal/store"
)

// DefaultFileHostBase is the Drive-style files endpoint used when the job
// carries a (file-id, access-token) pair instead of a URL.
const DefaultFileHostBase = "https://www.googleapis.com/drive/v3/files"

// Fetcher downloads source documents through the resilient HTTP client.
type Fetcher struct {
	client       *retryhttp.Client
	policy       retryhttp.Policy
	fileHostBase string
}

// Config parameterizes a Fetcher. Zero values use the defaults.
type Config struct {
	Client       *retryhttp.Client
	Policy       retryhttp.Policy
	FileHostBase string
}

// NewFetcher returns a Fetcher.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = retryhttp.New(nil)
	}
	if cfg.Policy == (retryhttp.Policy{}) {
		cfg.Policy = retryhttp.DownloadPolicy()
	}
	if cfg.FileHostBase == "" {
		cfg.FileHostBase = DefaultFileHostBase
	}
	return &Fetcher{client: cfg.Client, policy: cfg.Policy, fileHostBase: cfg.FileHostBase}
}

// Download fetches the document identified by ref.
func (f *Fetcher) Download(ctx context.Context, ref store.SourceRef) ([]byte, error) {
	switch {
	case ref.URL != "":
		return f.client.Do(ctx, "download source document", f.policy, retryhttp.Request{
			Method: http.MethodGet,
			URL:    ref.URL,
		})
	case ref.FileID != "":
		u := fmt.Sprintf("%s/%s?alt=media", f.fileHostBase, url.PathEscape(ref.FileID))
		hdr := http.Header{}
		hdr.Set("Authorization", "Bearer "+ref.AccessToken)
		return f.client.Do(ctx, "download source document (file host)", f.policy, retryhttp.Request{
			Method: http.MethodGet,
			URL:    u,
			Header: hdr,
		})
	default:
		return nil, fmt.Errorf("job has no source reference")
	}
}
