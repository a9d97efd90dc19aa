package deployer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPMetadataResolver fetches metadata documents over HTTP(S). IPFS-style
// URIs are rewritten through a configured gateway.
type HTTPMetadataResolver struct {
	httpClient *http.Client
	gateway    string
	maxSize    int64
}

var _ MetadataResolver = (*HTTPMetadataResolver)(nil)

// NewHTTPMetadataResolver creates a resolver. gateway is the base URL used for
// ipfs:// URIs, e.g. "https://ipfs.example.io/ipfs".
func NewHTTPMetadataResolver(httpClient *http.Client, gateway string) *HTTPMetadataResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPMetadataResolver{
		httpClient: httpClient,
		gateway:    strings.TrimRight(gateway, "/"),
		maxSize:    4 << 20,
	}
}

func (r *HTTPMetadataResolver) Resolve(ctx context.Context, uri string) ([]byte, error) {
	url := strings.TrimSpace(uri)
	if rest, ok := strings.CutPrefix(url, "ipfs://"); ok {
		if r.gateway == "" {
			return nil, fmt.Errorf("ipfs uri %q but no gateway configured", uri)
		}
		url = r.gateway + "/" + rest
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metadata: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, r.maxSize))
}
