package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var ErrMissingSecret = errors.New("credentials file has no database secret or auth token")

var ErrIncompleteServiceAccount = errors.New("service account has no client email or private key")

// ErrConflict is returned when a conditional write loses to another writer.
var ErrConflict = errors.New("concurrent modification")

var firebaseScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

// FirebaseCredentials is the credentials file of the Realtime Database
// backend. It is either a Google service-account key or a legacy file
// holding a database secret or auth token.
type FirebaseCredentials struct {
	Type           string `json:"type,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	ClientEmail    string `json:"client_email,omitempty"`
	DatabaseURL    string `json:"database_url,omitempty"`
	DatabaseSecret string `json:"database_secret,omitempty"`
	AuthToken      string `json:"auth_token,omitempty"`

	raw []byte
}

func (c FirebaseCredentials) ServiceAccount() bool {
	return c.Type == "service_account"
}

func (c FirebaseCredentials) token() string {
	if c.AuthToken != "" {
		return c.AuthToken
	}
	return c.DatabaseSecret
}

// databaseURL falls back to the project's default instance for service
// accounts that do not name one.
func (c FirebaseCredentials) databaseURL() string {
	if c.DatabaseURL != "" || c.ProjectID == "" {
		return c.DatabaseURL
	}
	return "https://" + c.ProjectID + "-default-rtdb.firebaseio.com"
}

func LoadFirebaseCredentials(filename string) (FirebaseCredentials, error) {
	var creds FirebaseCredentials

	data, err := os.ReadFile(filename)
	if err != nil {
		return creds, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("failed to parse credentials: %w", err)
	}
	creds.raw = data

	if creds.ServiceAccount() {
		conf, err := google.JWTConfigFromJSON(data, firebaseScopes...)
		if err != nil {
			return creds, fmt.Errorf("invalid service account: %w", err)
		}
		if conf.Email == "" || len(conf.PrivateKey) == 0 {
			return creds, ErrIncompleteServiceAccount
		}
		return creds, nil
	}
	if creds.token() == "" {
		return creds, ErrMissingSecret
	}
	return creds, nil
}

// HTTPClient returns a client that authorizes database calls with OAuth2
// access tokens minted from the service account. base supplies the
// transport for both the token exchange and the database requests.
func (c FirebaseCredentials) HTTPClient(ctx context.Context, base *http.Client) (*http.Client, error) {
	conf, err := google.JWTConfigFromJSON(c.raw, firebaseScopes...)
	if err != nil {
		return nil, fmt.Errorf("invalid service account: %w", err)
	}
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}

	// Tokens are refreshed for the life of the process, not of ctx.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)

	return &http.Client{
		Transport: &oauth2.Transport{
			Base:   base.Transport,
			Source: conf.TokenSource(tokenCtx),
		},
		Timeout: base.Timeout,
	}, nil
}

// Firebase talks to a Realtime Database over its REST API.
type Firebase struct {
	baseURL    string
	token      string
	client     *http.Client
	maxRetries int
}

func NewFirebase(baseURL, token string, client *http.Client) (*Firebase, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("firebase database URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid firebase database URL: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Firebase{
		baseURL:    baseURL,
		token:      token,
		client:     client,
		maxRetries: 5,
	}, nil
}

func (f *Firebase) endpoint(path string) string {
	u := f.baseURL + "/" + strings.Trim(path, "/") + ".json"
	if f.token != "" {
		u += "?" + url.Values{"auth": {f.token}}.Encode()
	}
	return u
}

func (f *Firebase) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.endpoint(path), reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, data, nil
}

func statusError(method, path string, resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
}

func (f *Firebase) Get(ctx context.Context, path string) ([]byte, bool, error) {
	resp, body, err := f.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, statusError(http.MethodGet, path, resp, body)
	}
	if string(bytes.TrimSpace(body)) == "null" {
		return nil, false, nil
	}
	return body, true, nil
}

func (f *Firebase) Set(ctx context.Context, path string, value any) error {
	resp, body, err := f.do(ctx, http.MethodPut, path, value, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(http.MethodPut, path, resp, body)
	}
	return nil
}

func (f *Firebase) Update(ctx context.Context, path string, fields map[string]any) error {
	resp, body, err := f.do(ctx, http.MethodPatch, path, fields, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(http.MethodPatch, path, resp, body)
	}
	return nil
}

// Incr advances the counter with ETag conditional writes, retrying when
// another writer got there first.
func (f *Firebase) Incr(ctx context.Context, path string) (int, error) {
	resp, body, err := f.do(ctx, http.MethodGet, path, nil, http.Header{"X-Firebase-Etag": {"true"}})
	if err != nil {
		return 0, err
	}

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(http.MethodGet, path, resp, body)
	}

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		var current *int
		if err := json.Unmarshal(body, &current); err != nil {
			return 0, fmt.Errorf("%s is not a counter: %w", path, err)
		}
		next := 1
		if current != nil {
			next = *current + 1
		}

		etag := resp.Header.Get("ETag")
		resp, body, err = f.do(ctx, http.MethodPut, path, next, http.Header{"If-Match": {etag}})
		if err != nil {
			return 0, err
		}
		switch resp.StatusCode {
		case http.StatusOK:
			return next, nil
		case http.StatusPreconditionFailed:
			// The 412 body and ETag are the current value; go around again.
		default:
			return 0, statusError(http.MethodPut, path, resp, body)
		}
	}

	return 0, fmt.Errorf("failed to increment %s after %d attempts: %w", path, f.maxRetries, ErrConflict)
}

func (f *Firebase) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
