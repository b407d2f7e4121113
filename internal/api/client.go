// Package api is the HTTP client for the LESNet model server.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"
)

const (
	// UserAgent identifies the viewer to the model server
	UserAgent = "lesnet-viewer/1.0"

	// maxErrorBody bounds how much of an error reply is read
	maxErrorBody = 64 * 1024

	// maxDownloads is the number of dataset files fetched at once
	maxDownloads = 4
)

// StatusError is returned for non-2xx replies. Message carries the server's
// JSON "error" field when it sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// FileCache stores immutable dataset files between runs
type FileCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) error
}

// Client talks to the model server
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	cache      FileCache
	downloads  *semaphore.Weighted
}

// NewClient creates a client for the server at baseURL with system proxy support
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", baseURL)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		downloads: semaphore.NewWeighted(maxDownloads),
	}, nil
}

// SetCache enables on-disk caching of dataset files
func (c *Client) SetCache(cache FileCache) {
	c.cache = cache
}

// BaseURL returns the server root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.String() + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Code: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			se.Message = eb.Error
		}
		return nil, se
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getCached fetches an immutable file, consulting the cache first
func (c *Client) getCached(ctx context.Context, key, endpoint string) ([]byte, error) {
	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			return data, nil
		}
	}
	if err := c.downloads.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	c.downloads.Release(1)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, data) // best effort
	}
	return data, nil
}

// RunModel submits a model run for lake at date ("YYYY-MM-DD HH:00").
// A rejected submission is returned as a StatusError carrying the server message.
func (c *Client) RunModel(ctx context.Context, lake, date string) (*RunResponse, error) {
	data, err := c.do(ctx, http.MethodPost, c.endpoint("run_model"), RunRequest{Lake: lake, Date: date})
	if err != nil {
		return nil, err
	}
	var resp RunResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode run response: %w", err)
	}
	return &resp, nil
}

// ModelStatus polls the state of a run
func (c *Client) ModelStatus(ctx context.Context, runID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.getJSON(ctx, c.endpoint("model_status", runID), &resp); err != nil {
		return nil, err
	}
	if resp.RunID == "" {
		resp.RunID = runID
	}
	return &resp, nil
}

// AvailableData lists the dataset folders on the server
func (c *Client) AvailableData(ctx context.Context) ([]Folder, error) {
	var resp availableData
	if err := c.getJSON(ctx, c.endpoint("get_available_data"), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("failed to list datasets: %s", resp.Error)
	}
	return resp.Folders, nil
}

// DataMetadata returns the layers published in folder
func (c *Client) DataMetadata(ctx context.Context, folder string) (Metadata, error) {
	data, err := c.getCached(ctx, folder+"/metadata", c.endpoint("get_data_metadata", folder))
	if err != nil {
		return Metadata{}, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return md, nil
}

// Raster fetches the GeoTIFF overlay of a layer
func (c *Client) Raster(ctx context.Context, folder, layer string) ([]byte, error) {
	return c.getCached(ctx, folder+"/"+layer+".tif", c.endpoint("data", folder, layer+".tif"))
}

// LayerValues fetches the value grid of a layer
func (c *Client) LayerValues(ctx context.Context, folder, layer string) (*LayerDocument, error) {
	data, err := c.getCached(ctx, folder+"/"+layer+".json", c.endpoint("data", folder, layer+".json"))
	if err != nil {
		return nil, err
	}
	var doc LayerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode values: %w", err)
	}
	return &doc, nil
}

// Colorbar fetches the legend image of a layer
func (c *Client) Colorbar(ctx context.Context, layer string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.endpoint("colorbars", layer+".png"), nil)
}

// Splits fetches the train/val/test date CSV of a lake
func (c *Client) Splits(ctx context.Context, lakeInitial string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.endpoint("splits", lakeInitial+"_split.csv"), nil)
}
