package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBotAPI(t *testing.T, tokens map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/bot")
		token, method, _ := strings.Cut(path, "/")
		if method != "getMe" {
			http.NotFound(w, r)
			return
		}
		username, ok := tokens[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Echo","username":"` + username + `"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) Ask(_ context.Context, q string) (string, error) {
	p.asked = append(p.asked, q)
	if len(p.answers) == 0 {
		return "", errors.New("no more answers")
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func TestUsername(t *testing.T) {
	srv := newBotAPI(t, map[string]string{"123:good": "echo_helper_bot"})
	c := NewClient(srv.URL, 0)

	name, err := c.Username(context.Background(), "123:good")
	require.NoError(t, err)
	assert.Equal(t, "echo_helper_bot", name)

	_, err = c.Username(context.Background(), "123:bad")
	var lerr *LookupError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, http.StatusUnauthorized, lerr.StatusCode)
	assert.Equal(t, "Unauthorized", lerr.Description)
}

func TestResolveRepromptsUntilValid(t *testing.T) {
	srv := newBotAPI(t, map[string]string{"123:good": "echo_helper_bot"})
	p := &scriptedPrompter{answers: []string{"123:still-bad", "  '123:good'\n"}}

	name, token, err := Resolve(context.Background(), NewClient(srv.URL, 0), p, "123:bad")
	require.NoError(t, err)
	assert.Equal(t, "echo_helper_bot", name)
	assert.Equal(t, "123:good", token)
	assert.Len(t, p.asked, 2)
}

func TestResolveStopsOnEmptyToken(t *testing.T) {
	srv := newBotAPI(t, nil)
	p := &scriptedPrompter{answers: []string{""}}

	_, _, err := Resolve(context.Background(), NewClient(srv.URL, 0), p, "123:bad")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestResolveStopsOnCancellation(t *testing.T) {
	srv := newBotAPI(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Resolve(ctx, NewClient(srv.URL, 0), &scriptedPrompter{}, "123:bad")
	assert.ErrorIs(t, err, context.Canceled)
}
