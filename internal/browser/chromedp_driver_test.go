package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editorPage = `<!doctype html>
<html><body>
<div id="composer" contenteditable="true"><p>stale draft</p></div>
<script>
  document.getElementById("composer").addEventListener("input", function (e) {
    e.target.setAttribute("data-seen", e.target.innerHTML === "" ? "empty" : "text");
  });
</script>
</body></html>`

// launchChrome starts a headless Chrome or skips when none is installed
func launchChrome(t *testing.T) Page {
	t.Helper()
	if testing.Short() {
		t.Skip("needs a local Chrome")
	}
	if _, err := FindChrome(); err != nil {
		t.Skipf("Chrome not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	b, err := (&ChromeDPDriver{}).Launch(ctx, LaunchOptions{Headless: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	p, err := b.NewPage(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestChromeElement_ClearContentFiresInput(t *testing.T) {
	p := launchChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(editorPage))
	}))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, srv.URL, 15*time.Second))

	els, err := p.QueryAll(ctx, "#composer")
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, KindRich, els[0].Kind())

	require.NoError(t, els[0].ClearContent(ctx))

	text, err := els[0].Text(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)

	n, err := p.Count(ctx, `#composer[data-seen="empty"]`)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "input event reached the page after the clear")
}
