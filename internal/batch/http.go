package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/version"
)

// BatchPath is the server route the HTTPFetcher posts to.
const BatchPath = "/api/includes/batch"

// Request is the body of a batch call.
type Request struct {
	IDs []string `json:"ids"`
}

// Response is the body returned by a batch call.
type Response struct {
	Results map[string]Item `json:"results"`
}

// Item is the outcome for one id on the wire.
type Item struct {
	Content *doctree.Node `json:"content,omitempty"`
	Error   *ItemError    `json:"error,omitempty"`
}

// ItemError is the wire form of a per-id failure.
type ItemError struct {
	Type    errors.ErrorType `json:"type"`
	Code    string           `json:"code"`
	Message string           `json:"message"`
}

// NewResponse converts fetch results to their wire form.
func NewResponse(results map[string]Result) Response {
	resp := Response{Results: make(map[string]Item, len(results))}
	for id, r := range results {
		if r.Err == nil {
			resp.Results[id] = Item{Content: r.Content}
			continue
		}
		ie := &ItemError{Type: errors.ErrorTypeInternal, Code: errors.ErrCodeInternalError, Message: r.Err.Error()}
		var ee *errors.ExcerptError
		if errors.As(r.Err, &ee) {
			ie.Type, ie.Code, ie.Message = ee.Type, ee.Code, ee.Message
		}
		resp.Results[id] = Item{Error: ie}
	}
	return resp
}

// results converts a wire response back to fetch results.
func (r Response) results() map[string]Result {
	out := make(map[string]Result, len(r.Results))
	for id, item := range r.Results {
		if item.Error != nil {
			out[id] = Result{Err: (&errors.ExcerptError{
				Type:    item.Error.Type,
				Code:    item.Error.Code,
				Message: item.Error.Message,
			}).WithID(id)}
			continue
		}
		out[id] = Result{Content: item.Content}
	}
	return out
}

// HTTPFetcher fetches renders from an excerpt server's batch endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the server at baseURL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// FetchMany implements Fetcher.
func (h *HTTPFetcher) FetchMany(ctx context.Context, ids []string) (map[string]Result, error) {
	body, err := json.Marshal(Request{IDs: ids})
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "encoding batch request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+BatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewTransportError("building batch request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("batch request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewTransportError(
			fmt.Sprintf("batch request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.NewTransportError("decoding batch response", err)
	}
	return out.results(), nil
}
