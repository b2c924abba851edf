// SPDX-License-Identifier: MIT

// Package spotify is a typed client over the streaming HTTP API. Every
// method takes a bearer access token; the client never caches or refreshes
// tokens on its own.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	logpkg "github.com/kesslerm/motionplay/internal/log"
)

const (
	defaultAPIBase      = "https://api.spotify.com/v1"
	defaultAccountsBase = "https://accounts.spotify.com"

	maxAttempts = 3
	backoffCap  = 5 * time.Second
)

// Client talks to the streaming API. Safe for concurrent use.
type Client struct {
	apiBase      string
	accountsBase string
	clientID     string
	clientSecret string
	http         *http.Client
	limiter      *rate.Limiter
	log          zerolog.Logger

	backoffBase time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithAPIBase overrides the player API base URL.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

// WithAccountsBase overrides the token endpoint base URL.
func WithAccountsBase(base string) Option {
	return func(c *Client) { c.accountsBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outbound request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New builds a Client. clientID and clientSecret are only used by
// RefreshToken.
func New(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		apiBase:      defaultAPIBase,
		accountsBase: defaultAccountsBase,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		log:          logpkg.WithComponent("spotify"),
		backoffBase:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPlaybackState returns the current player snapshot, or (nil, nil) when
// there is no active playback.
func (c *Client) GetPlaybackState(ctx context.Context, accessToken string) (*PlaybackState, error) {
	res, err := c.do(ctx, "get playback state", func() (*http.Request, error) {
		return c.apiRequest(ctx, http.MethodGet, "/me/player", "", accessToken, nil)
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var payload struct {
		IsPlaying bool `json:"is_playing"`
		Device    struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"device"`
		Context *struct {
			URI string `json:"uri"`
		} `json:"context"`
		Item *struct {
			URI string `json:"uri"`
		} `json:"item"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			// Some player endpoints answer 200 with an empty body.
			return nil, nil
		}
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "get playback state", Err: err}
	}

	state := &PlaybackState{
		IsPlaying:  payload.IsPlaying,
		DeviceID:   payload.Device.ID,
		DeviceName: payload.Device.Name,
	}
	if payload.Context != nil {
		state.ContextURI = payload.Context.URI
	}
	if payload.Item != nil {
		state.TrackURI = payload.Item.URI
	}
	return state, nil
}

// StartPlayback starts or resumes playback. Shuffle and volume are applied
// after the start as best-effort follow-ups; their failure is logged but does
// not fail the start.
func (c *Client) StartPlayback(ctx context.Context, accessToken string, req StartRequest) error {
	var body []byte
	if req.ContextURI != "" {
		body, _ = json.Marshal(map[string]string{"context_uri": req.ContextURI})
	}

	query := ""
	if req.DeviceID != "" {
		query = "device_id=" + url.QueryEscape(req.DeviceID)
	}

	res, err := c.do(ctx, "start playback", func() (*http.Request, error) {
		return c.apiRequest(ctx, http.MethodPut, "/me/player/play", query, accessToken, body)
	})
	if err != nil {
		return err
	}
	_ = res.Body.Close()

	if req.Shuffle {
		if err := c.setShuffle(ctx, accessToken, req.DeviceID, true); err != nil {
			c.log.Warn().Err(err).Msg("shuffle follow-up failed")
		}
	}
	if req.VolumePercent != nil {
		if err := c.setVolume(ctx, accessToken, req.DeviceID, *req.VolumePercent); err != nil {
			c.log.Warn().Err(err).Msg("volume follow-up failed")
		}
	}
	return nil
}

// PausePlayback pauses the player, optionally on a specific device.
func (c *Client) PausePlayback(ctx context.Context, accessToken, deviceID string) error {
	query := ""
	if deviceID != "" {
		query = "device_id=" + url.QueryEscape(deviceID)
	}
	res, err := c.do(ctx, "pause playback", func() (*http.Request, error) {
		return c.apiRequest(ctx, http.MethodPut, "/me/player/pause", query, accessToken, nil)
	})
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	return nil
}

// ListDevices returns the user's available playback devices.
func (c *Client) ListDevices(ctx context.Context, accessToken string) ([]Device, error) {
	res, err := c.do(ctx, "list devices", func() (*http.Request, error) {
		return c.apiRequest(ctx, http.MethodGet, "/me/player/devices", "", accessToken, nil)
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var payload struct {
		Devices []Device `json:"devices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "list devices", Err: err}
	}
	return payload.Devices, nil
}

// RefreshToken exchanges a refresh token for a fresh access token using the
// client credentials given at construction.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	res, err := c.do(ctx, "refresh token", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.accountsBase+"/api/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.clientID, c.clientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var payload struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "refresh token", Err: err}
	}
	if payload.AccessToken == "" {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "refresh token",
			Err: errors.New("empty access_token in grant")}
	}
	return &TokenGrant{
		AccessToken:  payload.AccessToken,
		ExpiresInSec: payload.ExpiresIn,
		Scope:        payload.Scope,
		RefreshToken: payload.RefreshToken,
	}, nil
}

func (c *Client) setShuffle(ctx context.Context, accessToken, deviceID string, state bool) error {
	query := "state=" + strconv.FormatBool(state)
	if deviceID != "" {
		query += "&device_id=" + url.QueryEscape(deviceID)
	}
	res, err := c.do(ctx, "set shuffle", func() (*http.Request, error) {
		return c.apiRequest(ctx, http.MethodPut, "/me/player/shuffle", query, accessToken, nil)
	})
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	return nil
}

func (c *Client) setVolume(ctx context.Context, accessToken, deviceID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	query := "volume_percent=" + strconv.Itoa(percent)
	if deviceID != "" {
		query += "&device_id=" + url.QueryEscape(deviceID)
	}
	res, err := c.do(ctx, "set volume", func() (*http.Request, error) {
		return c.apiRequest(ctx, http.MethodPut, "/me/player/volume", query, accessToken, nil)
	})
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	return nil
}

func (c *Client) apiRequest(ctx context.Context, method, path, query, accessToken string, body []byte) (*http.Request, error) {
	u := c.apiBase + path
	if query != "" {
		u += "?" + query
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do runs one logical call with the retry policy: transport failures and 5xx
// are retried up to maxAttempts with exponential backoff; a 429 waits out
// Retry-After once and then fails; a 401 fails immediately. Any 2xx response
// is returned with its body unread.
func (c *Client) do(ctx context.Context, op string, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	rateLimitRetried := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return nil, &APIError{Sentinel: ErrTransport, Operation: op, Err: err}
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Sentinel: ErrTransport, Operation: op, Err: err}
		}

		req, err := build()
		if err != nil {
			return nil, &APIError{Sentinel: ErrTransport, Operation: op, Err: err}
		}

		res, err := c.http.Do(req)
		if err != nil {
			lastErr = &APIError{Sentinel: ErrTransport, Operation: op, Err: err}
			continue
		}

		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return res, nil

		case res.StatusCode == http.StatusUnauthorized:
			drain(res)
			return nil, &APIError{Sentinel: ErrAuth, Operation: op, Status: res.StatusCode}

		case res.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(res)
			drain(res)
			if rateLimitRetried {
				return nil, &APIError{Sentinel: ErrRateLimited, Operation: op,
					Status: res.StatusCode, RetryAfter: retryAfter}
			}
			rateLimitRetried = true
			c.log.Debug().Str("operation", op).Dur("retry_after", retryAfter).
				Msg("rate limited, waiting once")
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return nil, &APIError{Sentinel: ErrRateLimited, Operation: op,
					Status: res.StatusCode, RetryAfter: retryAfter, Err: err}
			}
			attempt--

		case res.StatusCode >= 500:
			drain(res)
			lastErr = &APIError{Sentinel: ErrUpstream, Operation: op, Status: res.StatusCode}

		default:
			drain(res)
			return nil, &APIError{Sentinel: ErrUpstream, Operation: op, Status: res.StatusCode}
		}
	}
	if lastErr == nil {
		lastErr = &APIError{Sentinel: ErrTransport, Operation: op, Err: errors.New("retries exhausted")}
	}
	return nil, lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func parseRetryAfter(res *http.Response) time.Duration {
	if v := res.Header.Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return time.Second
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	_ = res.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
