// Package images mirrors product images to an upload endpoint on a best
// effort basis.
package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrMalformedEndpoint means the configured endpoint can never be reached.
var ErrMalformedEndpoint = errors.New("malformed image endpoint")

type Result int

const (
	Success Result = iota
	AlreadyExists
	Unavailable
	Unprocessable
	Error
)

func (r Result) String() string {
	switch r {
	case Success:
		return "uploaded"
	case AlreadyExists:
		return "already exists"
	case Unavailable:
		return "unavailable"
	case Unprocessable:
		return "unprocessable"
	}
	return "error"
}

type Mirror struct {
	endpoint *url.URL
	client   *http.Client
}

// New validates endpoint. A nil client gets a client with a short timeout.
func New(endpoint string, client *http.Client) (*Mirror, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedEndpoint, endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Mirror{endpoint: u, client: client}, nil
}

type uploadRequest struct {
	ProductID string `json:"productId"`
	ImageURL  string `json:"imageUrl"`
}

// MirrorImage asks the endpoint to copy imageURL under productID. The error is
// non-nil only for Result Error.
func (m *Mirror) MirrorImage(ctx context.Context, productID, imageURL string) (Result, error) {
	body, err := json.Marshal(uploadRequest{ProductID: productID, ImageURL: imageURL})
	if err != nil {
		return Error, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return Error, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Error, fmt.Errorf("upload image for %s: %w", productID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return Success, nil
	case http.StatusOK, http.StatusConflict:
		return AlreadyExists, nil
	case http.StatusNotFound:
		return Unavailable, nil
	case http.StatusUnprocessableEntity:
		return Unprocessable, nil
	}
	return Error, fmt.Errorf("upload image for %s: unexpected status %d", productID, resp.StatusCode)
}
