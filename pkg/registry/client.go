// Package registry is a client for the national corporate-number registry
// API (hojin info search).
package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL    = "https://info.gbiz.go.jp/hojin/v1/hojin"
	defaultMaxResults = 10
)

// Client searches the corporate-number registry. Prefecture is the
// Japanese prefecture name and is optional; it narrows the search via its
// JIS code.
type Client interface {
	Search(ctx context.Context, name, prefecture string) ([]Company, error)
}

// Company is one registry entry. Numeric-looking fields arrive as JSON
// numbers or strings depending on the record; flexible types absorb both.
type Company struct {
	CorporateNumber string     `json:"corporateNumber"`
	Name            string     `json:"name"`
	PrefectureName  string     `json:"prefectureName"`
	CityName        string     `json:"cityName"`
	StreetNumber    string     `json:"streetNumber"`
	BlockNumber     string     `json:"blockNumber"`
	BuildingName    string     `json:"buildingName"`
	CapitalStock    FlexNumber `json:"capitalStock"`
	PhoneNumber     string     `json:"phoneNumber"`
	SequenceNumber  FlexNumber `json:"sequenceNumber"`
	UpdateDate      string     `json:"updateDate"`
}

// FlexNumber is a registry value that may be a JSON number or string.
type FlexNumber string

func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexNumber(n.String())
	return nil
}

func (f FlexNumber) String() string { return string(f) }

type searchResponse struct {
	HojinInfos []Company `json:"hojin-infos"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the registry endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithMaxResults caps how many entries a search requests.
func WithMaxResults(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

type httpClient struct {
	token      string
	baseURL    string
	maxResults int
	http       *http.Client
}

// NewClient creates a registry client. The token is sent as the
// X-hojinInfo-api-token header on every request.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:      token,
		baseURL:    defaultBaseURL,
		maxResults: defaultMaxResults,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search looks up registry entries by company name. A 404 means no match
// and returns an empty result, not an error.
func (c *httpClient) Search(ctx context.Context, name, prefecture string) ([]Company, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("limit", strconv.Itoa(c.maxResults))
	if code, ok := PrefectureCodes[prefecture]; ok {
		q.Set("prefecture", code)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "registry: create request")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-hojinInfo-api-token", c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "registry: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{}
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("registry: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal response")
	}
	return result.HojinInfos, nil
}
