package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// Login authenticates with username and password. On success the token is
// stored in the credential store and the channel is opened with it. A
// non-success status returns *types.HTTPError and is not retried.
func (s *Session) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	token, err := s.requestToken(ctx, "login", "/login", body)
	if err != nil {
		return "", err
	}
	return token, s.Connect(ctx, token)
}

// CreateUser registers an account. personalData may be nil. When connect
// is set the returned token is stored and the channel is opened with it.
func (s *Session) CreateUser(ctx context.Context, username, password string, personalData json.RawMessage, connect bool) (string, error) {
	body := struct {
		Username     string          `json:"username"`
		Password     string          `json:"password"`
		PersonalData json.RawMessage `json:"personal_data,omitempty"`
	}{username, password, personalData}
	token, err := s.requestToken(ctx, "create user", "/users", body)
	if err != nil || !connect {
		return token, err
	}
	return token, s.Connect(ctx, token)
}

func (s *Session) requestToken(ctx context.Context, op, path string, body any) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := s.roundTrip(ctx, op, http.MethodPost, path, nil, body, &resp)
	if err == nil && resp.Token == "" {
		err = fmt.Errorf("%s: %w: response carries no token", op, types.ErrMalformedMessage)
	}
	if err != nil {
		s.requestFailed(op, err)
		return "", err
	}
	s.metrics.request(op, "ok")
	if s.creds != nil {
		if err := s.creds.SetToken(resp.Token); err != nil {
			s.logger.Warn("persist token", "op", op, "error", err)
		}
	}
	s.mu.Lock()
	s.token = resp.Token
	s.mu.Unlock()
	return resp.Token, nil
}

// FetchTypes returns the raw Type records of GET /types.
func (s *Session) FetchTypes(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := s.do(ctx, "fetch types", http.MethodGet, "/types", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchItems returns the raw Item records of GET /items, narrowed by
// filters sent as query parameters.
func (s *Session) FetchItems(ctx context.Context, filters map[string]string) ([]json.RawMessage, error) {
	query := url.Values{}
	for k, v := range filters {
		query.Set(k, v)
	}
	var out []json.RawMessage
	if err := s.do(ctx, "fetch items", http.MethodGet, "/items", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterPushToken associates a device push token with the account id.
func (s *Session) RegisterPushToken(ctx context.Context, id, token string) error {
	body := map[string]string{"id": id, "token": token}
	return s.do(ctx, "register push token", http.MethodPost, "/fcm_tokens", nil, body, nil)
}

// Publish pushes payload as new data for itemID. Failures are returned
// and reported through RequestFailed; the channel is unaffected.
func (s *Session) Publish(ctx context.Context, itemID string, payload json.RawMessage) error {
	return s.do(ctx, "publish", http.MethodPost, "/data/"+url.PathEscape(itemID), nil, payload, nil)
}

// do performs one request. body is sent as JSON (a json.RawMessage is
// sent verbatim) and a 2xx response is decoded into out when out is
// non-nil. path must already be escaped. Every failure is also reported
// through RequestFailed.
func (s *Session) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	err := s.roundTrip(ctx, op, method, path, query, body, out)
	if err != nil {
		s.requestFailed(op, err)
		return err
	}
	s.metrics.request(op, "ok")
	return nil
}

func (s *Session) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	u := *s.baseURL
	u.Path = s.baseURL.Path + unescaped
	u.RawPath = s.baseURL.EscapedPath() + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		var data []byte
		if raw, ok := body.(json.RawMessage); ok {
			data = raw
		} else if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := s.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, types.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w: %v", op, types.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &types.HTTPError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp, data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, types.ErrMalformedMessage, err)
	}
	return nil
}

// errorMessage extracts a reason from an error body such as
// {"message": "..."} or {"error": "..."}, falling back to the status text.
func errorMessage(resp *http.Response, data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && len(text) <= 200 && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func (s *Session) requestFailed(op string, err error) {
	outcome := "error"
	var httpErr *types.HTTPError
	if errors.As(err, &httpErr) {
		outcome = fmt.Sprintf("http_%d", httpErr.StatusCode)
	}
	s.metrics.request(op, outcome)
	s.logger.Warn("request failed", "op", op, "error", err)
	s.post(func(l types.ConnectionListener) { l.RequestFailed(err) })
}
