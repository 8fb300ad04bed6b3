package terminal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placefinder/placefinder/internal/errors"
)

const springfieldBody = `{
  "results": [
    {"formatted": "Springfield, Illinois, United States", "geometry": {"lat": 39.799, "lng": -89.644}},
    {"formatted": "Springfield, Missouri, United States", "geometry": {"lat": 37.2153, "lng": -93.2982}}
  ],
  "status": {"code": 200, "message": "OK"}
}`

type recordingUpstream struct {
	*httptest.Server
	mu       sync.Mutex
	requests []url.Values
}

func (u *recordingUpstream) last() url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		return nil
	}
	return u.requests[len(u.requests)-1]
}

func newRecordingUpstream(t *testing.T, body string) *recordingUpstream {
	t.Helper()
	u := &recordingUpstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.requests = append(u.requests, r.URL.Query())
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.Close)
	return u
}

func execute(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(in))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func upstreamConfig(t *testing.T, serviceURL string) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf("key = %q\nservice_url = %q\n", "file-key", serviceURL))
}

func TestCommand_ListsResults(t *testing.T) {
	upstream := newRecordingUpstream(t, springfieldBody)

	out, err := execute(t, "", "--config", upstreamConfig(t, upstream.URL), "--near", "40,-89", "--limit", "2", "Springfield")
	require.NoError(t, err)
	assert.Contains(t, out, " 1. Springfield, Illinois, United States 39.799,-89.644")
	assert.Contains(t, out, " 2. Springfield, Missouri, United States")

	sent := upstream.last()
	assert.Equal(t, "Springfield", sent.Get("q"))
	assert.Equal(t, "file-key", sent.Get("key"))
	assert.Equal(t, "40,-89", sent.Get("proximity"))
	assert.Equal(t, "2", sent.Get("limit"))
}

func TestCommand_JSON(t *testing.T) {
	upstream := newRecordingUpstream(t, springfieldBody)

	out, err := execute(t, "", "--config", upstreamConfig(t, upstream.URL), "--json", "Springfield")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "Springfield", resp.Query)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 37.2153, resp.Results[1].Center.Lat)
}

func TestCommand_Reverse(t *testing.T) {
	upstream := newRecordingUpstream(t, springfieldBody)

	_, err := execute(t, "", "--config", upstreamConfig(t, upstream.URL), "--reverse", "39.799, -89.644")
	require.NoError(t, err)
	assert.Equal(t, "39.799,-89.644", upstream.last().Get("q"))
}

func TestCommand_NothingFound(t *testing.T) {
	upstream := newRecordingUpstream(t, `{"results": [], "status": {"code": 200, "message": "OK"}}`)

	out, err := execute(t, "", "--config", upstreamConfig(t, upstream.URL), "Atlantis")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing found.")
}

func TestCommand_Errors(t *testing.T) {
	t.Setenv(KeyEnv, "")
	t.Setenv("HOME", t.TempDir())

	t.Run("No query", func(t *testing.T) {
		_, err := execute(t, "")
		assert.ErrorContains(t, err, "a query or --reverse")
	})

	t.Run("Bad reverse", func(t *testing.T) {
		_, err := execute(t, "", "--reverse", "here")
		assert.ErrorContains(t, err, "invalid --reverse")
	})

	t.Run("Missing key", func(t *testing.T) {
		_, err := execute(t, "", "Springfield")
		assert.True(t, errors.HasCode(err, errors.CodeMissingAPIKey))
	})

	t.Run("Missing key as JSON", func(t *testing.T) {
		out, err := execute(t, "", "--json", "Springfield")
		require.Error(t, err)

		var resp Response
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.False(t, resp.OK)
		require.NotNil(t, resp.Error)
		assert.Equal(t, errors.CodeMissingAPIKey, resp.Error.Code)
		assert.Equal(t, errors.MessageMissingKey, resp.Error.Message)
	})

	t.Run("Interactive without a terminal", func(t *testing.T) {
		_, err := execute(t, "", "--key", "k", "-i", "Springfield")
		assert.ErrorContains(t, err, "needs a terminal")
	})
}

func fakeTerminal(t *testing.T) *bool {
	t.Helper()
	restored := false
	origIn, origOut, origRaw := stdinIsTerminal, stdoutIsTerminal, enterRawMode
	stdinIsTerminal = func() bool { return true }
	stdoutIsTerminal = func() bool { return true }
	enterRawMode = func() (func(), error) {
		return func() { restored = true }, nil
	}
	t.Cleanup(func() {
		stdinIsTerminal, stdoutIsTerminal, enterRawMode = origIn, origOut, origRaw
	})
	return &restored
}

func TestCommand_Interactive(t *testing.T) {
	restored := fakeTerminal(t)
	upstream := newRecordingUpstream(t, springfieldBody)

	out, err := execute(t, "\x1b[B\x1b[B\r", "--config", upstreamConfig(t, upstream.URL), "-i", "Springfield")
	require.NoError(t, err)
	assert.True(t, *restored)
	assert.Contains(t, out, clearScreen)
	assert.True(t, strings.HasSuffix(out, "Springfield, Missouri, United States\n37.2153,-93.2982\n"))
}

func TestCommand_InteractiveJSON(t *testing.T) {
	fakeTerminal(t)
	upstream := newRecordingUpstream(t, springfieldBody)

	out, err := execute(t, "2", "--config", upstreamConfig(t, upstream.URL), "-i", "--json", "Springfield")
	require.NoError(t, err)

	jsonStart := strings.Index(out, "{\n")
	require.GreaterOrEqual(t, jsonStart, 0)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out[jsonStart:]), &resp))
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Selected)
	assert.Equal(t, "Springfield, Missouri, United States", resp.Selected.Name)
}

func TestCommand_InteractiveQuit(t *testing.T) {
	restored := fakeTerminal(t)
	upstream := newRecordingUpstream(t, springfieldBody)

	out, err := execute(t, "q", "--config", upstreamConfig(t, upstream.URL), "-i", "Springfield")
	require.NoError(t, err)
	assert.True(t, *restored)
	assert.NotContains(t, out, "37.2153,-93.2982\n")
}
