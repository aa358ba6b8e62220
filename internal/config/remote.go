package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const remoteFetchTimeout = 10 * time.Second

// Maximum remote blob size. A prompt config is small; anything larger is
// a misconfigured endpoint.
const remoteMaxBytes = 4 << 20

// RemoteClient fetches the prompt configuration from an HTTP endpoint.
// The endpoint returns either the prompt-config JSON directly or a JSON
// string containing it (remote config services commonly store templates
// as a single string parameter). Responses are revalidated with ETags so
// an unchanged config costs a 304.
type RemoteClient struct {
	url    string
	client *http.Client

	mu   sync.Mutex
	etag string
}

// NewRemoteClient builds a client for the given endpoint URL.
func NewRemoteClient(url string) *RemoteClient {
	return &RemoteClient{
		url:    url,
		client: &http.Client{Timeout: remoteFetchTimeout},
	}
}

// Fetch retrieves and parses the remote prompt configuration. changed is
// false when the endpoint reports the blob is unchanged since the last
// successful fetch (HTTP 304); prompts is nil in that case.
func (rc *RemoteClient) Fetch(ctx context.Context) (prompts *PromptConfig, changed bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: building request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	rc.mu.Lock()
	if rc.etag != "" {
		req.Header.Set("If-None-Match", rc.etag)
	}
	rc.mu.Unlock()

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: fetching %s: %v", ErrSourceUnavailable, rc.url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, false, nil
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("%w: %s returned %s", ErrSourceUnavailable, rc.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, remoteMaxBytes))
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading response: %v", ErrSourceUnavailable, err)
	}

	pc, err := parseRemoteBlob(body)
	if err != nil {
		return nil, false, err
	}

	// The ETag is recorded only after a successful parse so a bad blob is
	// refetched next time instead of being skipped with a 304.
	rc.mu.Lock()
	rc.etag = resp.Header.Get("ETag")
	rc.mu.Unlock()

	return pc, true, nil
}

// parseRemoteBlob accepts the prompt config either as a JSON object or as
// a JSON-encoded string holding the object.
func parseRemoteBlob(body []byte) (*PromptConfig, error) {
	var asString string
	if err := json.Unmarshal(body, &asString); err == nil {
		return ParsePromptConfig([]byte(asString))
	}
	return ParsePromptConfig(body)
}
