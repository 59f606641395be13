package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html>
<head><title>APT29 Supply Chain Report</title><style>body { color: red; }</style></head>
<body>
<nav>Home | Blog | About</nav>
<script>trackVisitor();</script>
<div class="article-body">
<p>APT29 compromised the software supply chain of a network monitoring vendor.</p>
<p>The implant beaconed to avsvmcloud.com over HTTPS and staged Cobalt Strike.</p>
<p>Defenders should hunt for encoded PowerShell execution and anomalous DNS queries.</p>
<img src="/images/iocs.png">
<img data-src="https://cdn.example.com/flow.jpg">
<img src="/images/iocs.png">
</div>
<footer>Copyright</footer>
</body>
</html>`

func TestFetchArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	page, err := New().FetchArticle(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "APT29 Supply Chain Report", page.Title)
	assert.Contains(t, page.Text, "software supply chain")
	assert.Contains(t, page.Text, "avsvmcloud.com")
	// nav, script and style content is stripped before extraction
	assert.NotContains(t, page.Text, "trackVisitor")
	assert.NotContains(t, page.Text, "Home | Blog")
	assert.NotContains(t, page.Text, "color: red")

	// relative sources resolved against the page URL, duplicates removed
	assert.Equal(t, []string{
		srv.URL + "/images/iocs.png",
		"https://cdn.example.com/flow.jpg",
	}, page.Images)
}

func TestFetchArticle_MainTagFallback(t *testing.T) {
	long := strings.Repeat("The loader wrote a scheduled task for persistence. ", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><main><p>" + long + "</p></main></body></html>"))
	}))
	defer srv.Close()

	page, err := New().FetchArticle(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, page.Text, "scheduled task for persistence")
}

func TestFetchArticle_WholePageFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>Short advisory text.</p></body></html>"))
	}))
	defer srv.Close()

	page, err := New().FetchArticle(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Short advisory text.", page.Text)
}

func TestFetchArticle_InsecureRetry(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>Mirror of the takedown report.</p></body></html>"))
	}))
	defer srv.Close()

	// the self-signed certificate fails the first client and succeeds on
	// the unverified retry
	page, err := New().FetchArticle(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, page.Text, "takedown report")
}

func TestFetchArticle_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New().FetchArticle(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

type fakeOCR struct {
	text string
	err  error
}

func (f fakeOCR) ExtractText(context.Context, []byte) (string, error) {
	return f.text, f.err
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractImageText(t *testing.T) {
	large := pngBytes(t, 120, 80)
	small := pngBytes(t, 16, 16)
	mux := http.NewServeMux()
	mux.HandleFunc("/large.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(large)
	})
	mux.HandleFunc("/icon.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(small)
	})
	mux.HandleFunc("/logo.svg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte("<svg></svg>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New()
	f.OCR = fakeOCR{text: "  C2: 185.220.101.45  "}

	got := f.ExtractImageText(context.Background(), []string{
		srv.URL + "/large.png",
		srv.URL + "/icon.png",
		srv.URL + "/logo.svg",
		srv.URL + "/missing.png",
	})

	assert.Equal(t, "[IMAGE_URL: "+srv.URL+"/large.png]\nC2: 185.220.101.45", got)
}

func TestExtractImageText_OCRFailureSkipsImage(t *testing.T) {
	large := pngBytes(t, 100, 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(large)
	}))
	defer srv.Close()

	f := New()
	f.OCR = fakeOCR{err: errors.New("engine unavailable")}

	assert.Empty(t, f.ExtractImageText(context.Background(), []string{srv.URL + "/a.png"}))
}

func TestExtractImageText_RespectsMaxImages(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New()
	f.MaxImages = 2
	urls := []string{srv.URL + "/1", srv.URL + "/2", srv.URL + "/3"}
	f.ExtractImageText(context.Background(), urls)
	assert.Equal(t, 2, hits)
}

func TestDefaultBackendsAreNoOps(t *testing.T) {
	f := New()
	text, err := f.ExtractPDFText(context.Background(), []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Empty(t, text)

	ocrText, err := f.OCR.ExtractText(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ocrText)
}
