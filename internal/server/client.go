package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temirov/caravan/internal/coordinator"
)

const (
	defaultRequestTimeoutConstant      = 10 * time.Second
	schemeSeparatorConstant            = "://"
	defaultSchemePrefixConstant        = "http://"
	retryRequestPathTemplateConstant   = "/api/repositories/%s/retry"
	retryRejectedTemplateConstant      = "%s: %w"
	unexpectedStatusTemplateConstant   = "retry request failed with status %d: %s"
	retryRequestFailedTemplateConstant = "retry request failed: %w"
)

// APIClient talks to a running coordinator over its HTTP API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient constructs a client for the provided address. Addresses
// without a scheme are reached over plain HTTP; a zero timeout falls back to
// the default.
func NewAPIClient(address string, requestTimeout time.Duration) *APIClient {
	baseURL := strings.TrimSpace(address)
	if len(baseURL) == 0 {
		baseURL = DefaultListenAddressConstant
	}
	if !strings.Contains(baseURL, schemeSeparatorConstant) {
		baseURL = defaultSchemePrefixConstant + baseURL
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeoutConstant
	}
	return &APIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// IsReachable reports whether the coordinator answers its health endpoint.
func (client *APIClient) IsReachable(executionContext context.Context) bool {
	request, requestError := http.NewRequestWithContext(executionContext, http.MethodGet, client.baseURL+healthRouteConstant, nil)
	if requestError != nil {
		return false
	}
	response, responseError := client.httpClient.Do(request)
	if responseError != nil {
		return false
	}
	defer func() { _ = response.Body.Close() }()
	return response.StatusCode == http.StatusOK
}

// Retry asks the coordinator to requeue a failed repository. Rejections are
// mapped back onto the coordinator sentinel errors.
func (client *APIClient) Retry(executionContext context.Context, repositoryName string) error {
	requestPath := fmt.Sprintf(retryRequestPathTemplateConstant, url.PathEscape(repositoryName))
	request, requestError := http.NewRequestWithContext(executionContext, http.MethodPost, client.baseURL+requestPath, nil)
	if requestError != nil {
		return requestError
	}

	response, responseError := client.httpClient.Do(request)
	if responseError != nil {
		return fmt.Errorf(retryRequestFailedTemplateConstant, responseError)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode == http.StatusAccepted {
		return nil
	}

	var decodedError errorResponse
	_ = json.NewDecoder(response.Body).Decode(&decodedError)
	switch response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf(retryRejectedTemplateConstant, decodedError.Error, coordinator.ErrRepositoryNotTracked)
	case http.StatusConflict:
		return fmt.Errorf(retryRejectedTemplateConstant, decodedError.Error, coordinator.ErrRetryNotAllowed)
	default:
		return fmt.Errorf(unexpectedStatusTemplateConstant, response.StatusCode, decodedError.Error)
	}
}
