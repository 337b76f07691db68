package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proactiveitadmin/gym-integrator/internal/domain"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/paramstore"
)

type fakeGetter struct {
	mu    sync.Mutex
	val   string
	err   error
	names []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return f.val, f.err
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(&fakeGetter{val: "sk-test"}, "/gym-integrator",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestCompletionsURL(t *testing.T) {
	cases := map[string]string{
		"https://api.openai.com/v1":  "https://api.openai.com/v1/chat/completions",
		"https://api.openai.com/v1/": "https://api.openai.com/v1/chat/completions",
		"http://localhost:8080":      "http://localhost:8080/v1/chat/completions",
		"":                           "https://api.openai.com/v1/chat/completions",
	}
	for base, want := range cases {
		require.Equal(t, want, completionsURL(base), "base=%q", base)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/gym-integrator")
	require.EqualError(t, err, "openai: paramstore getter must not be nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)

	c, err := NewClient(&fakeGetter{}, "/gym-integrator/", WithHTTPClient(nil))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "/gym-integrator", c.paramPrefix)
	require.NotNil(t, c.httpClient)
}

func TestAPIKey_ReadOnce(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	c, err := NewClient(g, "/gym-integrator")
	require.NoError(t, err)

	for range 3 {
		key, err := c.apiKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", key)
	}
	require.Equal(t, []string{"/gym-integrator/openai-token"}, g.names)
}

func TestLookupToken(t *testing.T) {
	notFound := fmt.Errorf("%w: %q", paramstore.ErrNotFound, "/p/openai-token")

	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr error
		errText string
	}{
		{name: "bare token", getter: &fakeGetter{val: " sk-bare \n"}, param: "/p", want: "sk-bare"},
		{name: "json token", getter: &fakeGetter{val: `{"token":"sk-json"}`}, param: "/p", want: "sk-json"},
		{name: "json without token", getter: &fakeGetter{val: `{"other":"x"}`}, param: "/p", wantErr: ErrNoAPIKey},
		{name: "blank value", getter: &fakeGetter{val: "  "}, param: "/p", wantErr: ErrNoAPIKey},
		{name: "missing parameter", getter: &fakeGetter{err: notFound}, param: "/p", wantErr: ErrNoAPIKey},
		{name: "malformed json", getter: &fakeGetter{val: `{"broken`}, param: "/p", errText: "unmarshal"},
		{name: "ssm failure", getter: &fakeGetter{err: errors.New("ssm unavailable")}, param: "/p", errText: "ssm unavailable"},
		{name: "nil getter", param: "/p", errText: "nil"},
		{name: "empty name", getter: &fakeGetter{val: "sk"}, param: " ", errText: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := lookupToken(context.Background(), tc.getter, tc.param)
			switch {
			case tc.wantErr != nil:
				require.ErrorIs(t, err, tc.wantErr)
			case tc.errText != "":
				require.ErrorContains(t, err, tc.errText)
			default:
				require.NoError(t, err)
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestChat_SendsJSONModeRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req["model"])
		require.Equal(t, float64(0), req["temperature"])
		require.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])
		require.Len(t, req["messages"], 2)

		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "{\"intent\":\"faq\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 9}
		}`))
	})

	out, err := c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: "system", Content: "classify"},
		{Role: "user", Content: "LANG=pl\nTEXT=godziny otwarcia"},
	})
	require.NoError(t, err)
	require.Equal(t, `{"intent":"faq"}`, out)
}

func TestChat_StatusErrors(t *testing.T) {
	for _, code := range []int{400, 429, 500, 503} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})
			_, err := c.Chat(context.Background(), "gpt-mock", nil)

			var statusErr *HTTPStatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, code, statusErr.HTTPStatusCode())
			require.Contains(t, statusErr.Body, "nope")
			require.ErrorContains(t, err, "unexpected status")
		})
	}
}

func TestChat_ResponseErrors(t *testing.T) {
	cases := map[string]string{
		"not-a-json":     "decode response",
		`{"choices":[]}`: "no choices",
	}
	for body, want := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := c.Chat(context.Background(), "gpt-mock", nil)
		require.ErrorContains(t, err, want)
	}
}

func TestChat_TransportErrors(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: "sk-test"}, "/gym-integrator",
		WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
	)
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-mock", nil)
	require.ErrorContains(t, err, "request failed")

	slow := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	slow.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err = slow.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
}

func TestChat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: "sk-test"}, "/gym-integrator")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), " ", nil)
	require.ErrorContains(t, err, "model")
}

func TestChat_NoTokenSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{err: paramstore.ErrNotFound}, "/gym-integrator", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-mock", nil)
	require.ErrorIs(t, err, ErrNoAPIKey)
	require.False(t, called)
}
