package browser

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

func TestNewDriver(t *testing.T) {
	d, err := NewDriver("")
	require.NoError(t, err)
	assert.Equal(t, DriverChromeDP, d.Name())

	d, err = NewDriver(" Playwright ")
	require.NoError(t, err)
	assert.Equal(t, DriverPlaywright, d.Name())

	_, err = NewDriver("selenium")
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}

func TestLaunchArgs_DedupesAndKeepsOrder(t *testing.T) {
	args := launchArgs([]string{"--no-sandbox", " --lang=en-US ", ""})

	assert.Equal(t, DefaultLaunchArgs, args[:len(DefaultLaunchArgs)])
	assert.Equal(t, "--lang=en-US", args[len(args)-1])
	assert.Len(t, args, len(DefaultLaunchArgs)+1)
}

func TestSplitFlag(t *testing.T) {
	name, value := splitFlag("--disable-features=VizDisplayCompositor")
	assert.Equal(t, "disable-features", name)
	assert.Equal(t, "VizDisplayCompositor", value)

	name, value = splitFlag("--no-sandbox")
	assert.Equal(t, "no-sandbox", name)
	assert.Equal(t, "true", value)
}

func TestElementKindString(t *testing.T) {
	assert.Equal(t, "field", KindField.String())
	assert.Equal(t, "rich", KindRich.String())
	assert.Equal(t, "other", KindOther.String())
}

func TestParseChord(t *testing.T) {
	tests := []struct {
		in   string
		mods []string
		key  string
	}{
		{"Enter", nil, "Enter"},
		{"Shift+Enter", []string{ModShift}, "Enter"},
		{"ctrl+a", []string{ModControl}, "a"},
		{"Cmd+Shift+z", []string{ModMeta, ModShift}, "z"},
		{"+", nil, "+"},
		{"Shift++", []string{ModShift}, "+"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseChord(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.mods, c.Modifiers)
			assert.Equal(t, tt.key, c.Key)
		})
	}
}

func TestParseChord_Errors(t *testing.T) {
	_, err := ParseChord("")
	assert.Error(t, err)

	_, err = ParseChord("Shift+")
	assert.Error(t, err)

	_, err = ParseChord("Hyper+a")
	assert.Error(t, err)
}

func TestChordString(t *testing.T) {
	c, err := ParseChord("control+option+Delete")
	require.NoError(t, err)
	assert.Equal(t, "Control+Alt+Delete", c.String())
}

func TestResolveDebuggerURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Browser":"Chrome/124.0","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	ctx := context.Background()

	ws, err := ResolveDebuggerURL(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", ws)

	// ws:// host:port endpoints go through the same lookup
	ws, err = ResolveDebuggerURL(ctx, strings.Replace(srv.URL, "http://", "ws://", 1)+"/")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", ws)

	direct := "ws://10.0.0.2:9222/devtools/browser/xyz"
	ws, err = ResolveDebuggerURL(ctx, direct)
	require.NoError(t, err)
	assert.Equal(t, direct, ws)

	_, err = ResolveDebuggerURL(ctx, "  ")
	assert.Error(t, err)
}

func TestGetChromeVersion_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := GetChromeVersion(context.Background(), srv.URL)
	assert.Error(t, err)
}
