package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"bringmeimage/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrUnreachable  = errors.New("API request failed or timed out")
	ErrUnauthorized = errors.New("API request unauthorized (check API key)")
	ErrNotFound     = errors.New("API resource not found")
	ErrBadResponse  = errors.New("API response missing expected fields")
)

const CivitaiApiBaseUrl = "https://civitai.com/api/v1"

// Client talks to the three Civitai endpoints the pipeline consumes:
// model-versions, models, and the images listing.
type Client struct {
	ApiKey     string
	HttpClient *http.Client
	BaseUrl    string
}

// NewClient creates a new API client sharing the given http.Client.
func NewClient(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		ApiKey:     apiKey,
		HttpClient: httpClient,
		BaseUrl:    CivitaiApiBaseUrl,
	}
}

// getJSON performs a GET request and decodes the JSON response into out.
func (c *Client) getJSON(reqURL string, out interface{}) error {
	req, err := http.NewRequest("GET", reqURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request for %s: %w", reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		log.WithError(err).Debugf("HTTP request failed for %s", reqURL)
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: status %d from %s", ErrUnreachable, resp.StatusCode, reqURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %v", ErrUnreachable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// GetModelVersion fetches version-level data: the version name and the
// parent model id.
func (c *Client) GetModelVersion(versionID string) (models.VersionResponse, error) {
	var resp models.VersionResponse
	reqURL := fmt.Sprintf("%s/model-versions/%s", c.BaseUrl, versionID)
	if err := c.getJSON(reqURL, &resp); err != nil {
		return models.VersionResponse{}, err
	}
	if resp.Name == "" || resp.ModelID == 0 {
		return models.VersionResponse{}, fmt.Errorf("%w: model-versions/%s", ErrBadResponse, versionID)
	}
	return resp, nil
}

// GetModel fetches model-level data: the model name and creator handle.
func (c *Client) GetModel(modelID string) (models.ModelResponse, error) {
	var resp models.ModelResponse
	reqURL := fmt.Sprintf("%s/models/%s", c.BaseUrl, modelID)
	if err := c.getJSON(reqURL, &resp); err != nil {
		return models.ModelResponse{}, err
	}
	if resp.Name == "" {
		return models.ModelResponse{}, fmt.Errorf("%w: models/%s", ErrBadResponse, modelID)
	}
	return resp, nil
}

// ImageQuery scopes an images-listing request. The backend accepts any
// of version id, post id, or username as a filter.
type ImageQuery struct {
	VersionID string
	PostID    string
	Username  string
	Limit     int
}

// GetImages fetches the image listing matching the query.
func (c *Client) GetImages(query ImageQuery) ([]models.ImageApiItem, error) {
	values := url.Values{}
	if query.VersionID != "" {
		values.Set("modelVersionId", query.VersionID)
	}
	if query.PostID != "" {
		values.Set("postId", query.PostID)
	}
	if query.Username != "" {
		values.Set("username", query.Username)
	}
	if query.Limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", query.Limit))
	}

	reqURL := fmt.Sprintf("%s/images?%s", c.BaseUrl, values.Encode())
	var resp models.ImageApiResponse
	if err := c.getJSON(reqURL, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}
