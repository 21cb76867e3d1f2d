package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/tidemark-io/tidemark/pkg/config"
)

// BaiduCaller is the capability for the Tongji data-export API. Tongji has
// no bearer tokens; the credential material travels in every request body,
// so the caller only owns the HTTP client and exposes the credentials for
// body injection.
type BaiduCaller struct {
	creds  config.BaiduCredentials
	client *http.Client
}

// NewBaiduCaller creates a Tongji caller from static credentials.
func NewBaiduCaller(creds config.BaiduCredentials, requestTimeout time.Duration) *BaiduCaller {
	return &BaiduCaller{
		creds:  creds,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Credentials returns the material for request-body injection.
func (bc *BaiduCaller) Credentials() config.BaiduCredentials {
	return bc.creds
}

// Do executes the request. Auth travels in the body, not in headers.
func (bc *BaiduCaller) Do(req *http.Request) (*http.Response, error) {
	return bc.client.Do(req)
}

// Refresh is a no-op. The Tongji token is issued manually from the account
// management screen and cannot be minted programmatically.
func (bc *BaiduCaller) Refresh(ctx context.Context) error {
	return nil
}
