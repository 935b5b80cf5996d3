package coverage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrExpiredDeviceCode is returned when the user does not confirm the device
// login before the code expires.
var ErrExpiredDeviceCode = errors.New("device code expired before authorization")

// ErrNotLoggedIn is returned when no saved token exists.
var ErrNotLoggedIn = errors.New("not logged in to the coverage service")

// DeviceLogin is the server's response to a device login request.
type DeviceLogin struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	TokenURI        string `json:"token_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// StartDeviceLogin requests a device code from the service.
func (c *Client) StartDeviceLogin(ctx context.Context, tokenName string) (*DeviceLogin, error) {
	payload := map[string]string{
		"client_name": "flywheel",
		"token_name":  tokenName,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.baseURL, "/") + "/api/device-login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start device login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("start device login: unexpected status %s", resp.Status)
	}

	var login DeviceLogin
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, fmt.Errorf("start device login: decode response: %w", err)
	}
	if login.DeviceCode == "" || login.TokenURI == "" {
		return nil, errors.New("start device login: incomplete response")
	}
	if login.Interval <= 0 {
		login.Interval = 5
	}
	if login.ExpiresIn <= 0 {
		login.ExpiresIn = 300
	}
	return &login, nil
}

// WaitForToken polls the token endpoint until the user authorizes the device
// code, the code expires, or the context is cancelled.
func (c *Client) WaitForToken(ctx context.Context, login *DeviceLogin) (string, error) {
	deadline := time.Now().Add(time.Duration(login.ExpiresIn) * time.Second)
	interval := time.Duration(login.Interval) * time.Second

	for {
		token, done, err := c.pollToken(ctx, login)
		if err != nil {
			return "", err
		}
		if done {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrExpiredDeviceCode
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) pollToken(ctx context.Context, login *DeviceLogin) (string, bool, error) {
	body, err := json.Marshal(map[string]string{"code": login.DeviceCode})
	if err != nil {
		return "", false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, login.TokenURI, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("poll token: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", false, fmt.Errorf("poll token: decode response: %w", err)
		}
		if result.AccessToken == "" {
			return "", false, errors.New("poll token: empty access token")
		}
		return result.AccessToken, true, nil
	case http.StatusAccepted:
		// Authorization pending.
		return "", false, nil
	case http.StatusGone:
		return "", false, ErrExpiredDeviceCode
	default:
		return "", false, fmt.Errorf("poll token: unexpected status %s", resp.Status)
	}
}

// SaveToken writes the access token to the configured token file.
func (c *Client) SaveToken(token string) error {
	if c.tokenFile == "" {
		return errors.New("no token file configured")
	}
	if err := os.MkdirAll(filepath.Dir(c.tokenFile), 0o755); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(c.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Token reads the saved access token.
func (c *Client) Token() (string, error) {
	if c.tokenFile == "" {
		return "", ErrNotLoggedIn
	}
	data, err := os.ReadFile(c.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotLoggedIn
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// DeleteToken removes the saved token. Deleting a missing token reports
// ErrNotLoggedIn so the CLI can tell the user nothing was stored.
func (c *Client) DeleteToken() error {
	if c.tokenFile == "" {
		return ErrNotLoggedIn
	}
	if err := os.Remove(c.tokenFile); err != nil {
		if os.IsNotExist(err) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
