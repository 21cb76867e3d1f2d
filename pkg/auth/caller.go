// Package auth turns credential material into opaque authenticated-call
// capabilities. The extraction core never handles token refresh itself; it
// calls Do as a black box and asks for one Refresh when a vendor reports an
// expired capability.
package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/tidemark-io/tidemark/pkg/config"
	"github.com/tidemark-io/tidemark/pkg/logger"
)

// Caller executes an HTTP request with authentication already attached.
type Caller interface {
	// Do executes the request with auth attached
	Do(req *http.Request) (*http.Response, error)

	// Refresh replaces the underlying credential material. Called at most
	// once per report request when the vendor signals auth expiry.
	Refresh(ctx context.Context) error
}

const googleAnalyticsScope = "https://www.googleapis.com/auth/analytics.readonly"

// GoogleCaller is an OAuth2-backed capability for the Google Analytics
// reporting APIs.
type GoogleCaller struct {
	oauthConfig *oauth2.Config
	refreshTok  string
	timeout     time.Duration

	mu     sync.Mutex
	client *http.Client
	logger *zap.Logger
}

// NewGoogleCaller creates an authenticated caller from refresh-token
// credentials.
func NewGoogleCaller(creds config.GoogleCredentials, requestTimeout time.Duration) *GoogleCaller {
	gc := &GoogleCaller{
		oauthConfig: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: "https://oauth2.googleapis.com/token",
			},
			Scopes: []string{googleAnalyticsScope},
		},
		refreshTok: creds.RefreshToken,
		timeout:    requestTimeout,
		logger:     logger.With(zap.String("capability", "google")),
	}
	gc.rebuildClient(context.Background())
	return gc
}

func (gc *GoogleCaller) rebuildClient(ctx context.Context) {
	source := gc.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: gc.refreshTok})
	client := oauth2.NewClient(ctx, source)
	client.Timeout = gc.timeout

	gc.mu.Lock()
	gc.client = client
	gc.mu.Unlock()
}

// Do executes the request with a bearer token attached.
func (gc *GoogleCaller) Do(req *http.Request) (*http.Response, error) {
	gc.mu.Lock()
	client := gc.client
	gc.mu.Unlock()
	return client.Do(req)
}

// Refresh discards the cached token source so the next call mints a fresh
// access token.
func (gc *GoogleCaller) Refresh(ctx context.Context) error {
	gc.logger.Debug("refreshing oauth2 token source")
	gc.rebuildClient(ctx)
	return nil
}

// StaticCaller attaches a fixed bearer token to every request. Used for
// pre-authorized capabilities and in tests.
type StaticCaller struct {
	Token  string
	Client *http.Client
}

// Do executes the request with the static token attached.
func (sc *StaticCaller) Do(req *http.Request) (*http.Response, error) {
	if sc.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sc.Token)
	}
	client := sc.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// Refresh is a no-op for static tokens.
func (sc *StaticCaller) Refresh(ctx context.Context) error {
	return nil
}
