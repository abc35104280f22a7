package client

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	fspath "path"
	"strings"
	"time"

	errstatus "github.com/andydunstall/gossipd/pkg/status"
)

type Client struct {
	httpClient *http.Client

	url *url.URL
}

func NewClient(url *url.URL, tlsConfig *tls.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Second * 15,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
		url: url,
	}
}

func (c *Client) SetURL(url *url.URL) {
	c.url = url
}

func (c *Client) SetTLSConfig(tlsConfig *tls.Config) {
	c.httpClient.Transport = &http.Transport{
		TLSClientConfig: tlsConfig,
	}
}

// Request sends a GET request to the status API and returns the response
// body.
func (c *Client) Request(path string) (io.ReadCloser, error) {
	return c.Do(http.MethodGet, path)
}

// Do sends a request with the given method to the status API and returns the
// response body.
func (c *Client) Do(method string, path string) (io.ReadCloser, error) {
	url := new(url.URL)
	*url = *c.url

	url.Path = fspath.Join(url.Path, path)
	if strings.HasSuffix(path, "/") {
		url.Path += "/"
	}

	req, err := http.NewRequest(method, url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		var errorResp errstatus.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err == nil &&
			errorResp.Error != "" {
			return nil, fmt.Errorf(
				"request: bad status: %d: %s", resp.StatusCode, errorResp.Error,
			)
		}
		return nil, fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
