package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice/syscrawl/internal/util"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var fastRetry = &util.RetryConfig{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

func TestProbe(t *testing.T) {
	cfg, err := Probe(testPNG(t, 12, 7))
	require.NoError(t, err)
	assert.Equal(t, ImageConfig{Width: 12, Height: 7, Format: "png"}, cfg)

	_, err = Probe([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestFetcher_Fetch(t *testing.T) {
	data := testPNG(t, 4, 3)
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	}))
	defer srv.Close()

	f := NewFetcher(nil, "TestCrawler/1.0", fastRetry)
	img, err := f.Fetch(context.Background(), srv.URL+"/catan.png")
	require.NoError(t, err)

	assert.Equal(t, "TestCrawler/1.0", ua.Load())
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, util.ContentChecksum(data), img.Checksum)
	assert.Len(t, img.Checksum, 64)
}

func TestFetcher_Failures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case "/missing.png":
			http.NotFound(w, r)
		case "/busy.png":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte("<html>not an image</html>"))
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), "", fastRetry)
	ctx := context.Background()

	_, err := f.Fetch(ctx, srv.URL+"/missing.png")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 is not retried")

	atomic.StoreInt32(&calls, 0)
	_, err = f.Fetch(ctx, srv.URL+"/busy.png")
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "503 is retried")

	_, err = f.Fetch(ctx, srv.URL+"/page.html")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, "  ")
	assert.Error(t, err)
}

func TestDirUploader(t *testing.T) {
	root := t.TempDir()
	u, err := NewDirUploader(root, "https://media.example.com/")
	require.NoError(t, err)

	data := []byte("bytes")
	obj, err := u.Upload(context.Background(), "game-systems/catan/hero-abc.png", "image/png", data)
	require.NoError(t, err)
	assert.Equal(t, "game-systems/catan/hero-abc.png", obj.PublicID)
	assert.Equal(t, "https://media.example.com/game-systems/catan/hero-abc.png", obj.URL)

	got, err := os.ReadFile(filepath.Join(root, "game-systems", "catan", "hero-abc.png"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// keys cannot escape the root
	obj, err = u.Upload(context.Background(), "../../etc/evil.png", "", data)
	require.NoError(t, err)
	assert.Equal(t, "etc/evil.png", obj.PublicID)
	_, err = os.Stat(filepath.Join(root, "etc", "evil.png"))
	assert.NoError(t, err)

	_, err = NewDirUploader(" ", "")
	assert.ErrorIs(t, err, util.ErrInvalidConfig)
}

func TestDirUploader_NoBaseURL(t *testing.T) {
	root := t.TempDir()
	u, err := NewDirUploader(root, "")
	require.NoError(t, err)

	obj, err := u.Upload(context.Background(), "a/b.jpg", "", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(root, "a", "b.jpg")), obj.URL)
}

func TestNopUploader(t *testing.T) {
	obj, err := NopUploader{}.Upload(context.Background(), "k.png", "image/png", nil)
	require.NoError(t, err)
	assert.Equal(t, "k.png", obj.PublicID)
	assert.Empty(t, obj.URL)
}

func TestObjectKey(t *testing.T) {
	sum := "0123456789abcdef0123456789abcdef"
	assert.Equal(t, "game-systems/catan/hero-0123456789abcdef.jpg", ObjectKey("catan", sum, "jpeg"))
	assert.Equal(t, "game-systems/catan/hero-abc.webp", ObjectKey("catan", "abc", "webp"))
	assert.Equal(t, "game-systems/catan/hero-abc", ObjectKey("catan", "abc", "bmp"))
}

func TestContentTypeForKey(t *testing.T) {
	tests := map[string]string{
		"a.png":      "image/png",
		"a.JPG":      "image/jpeg",
		"a.jpeg?x=1": "image/jpeg",
		"a.webp":     "image/webp",
		"a.gif":      "image/gif",
		"a.txt":      "",
		"":           "",
	}
	for key, expected := range tests {
		assert.Equal(t, expected, ContentTypeForKey(key), key)
	}
}

func TestGCSUploader_PublicURL(t *testing.T) {
	g := &GCSUploader{bucket: "solstice-media"}
	assert.Equal(t, "https://storage.googleapis.com/solstice-media/k.png", g.PublicURL("k.png"))
	g.cdnDomain = "cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/k.png", g.PublicURL("k.png"))
}

func TestClientOptionsFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	assert.Empty(t, ClientOptionsFromEnv())

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", `{"type":"service_account"}`)
	assert.Len(t, ClientOptionsFromEnv(), 1)
}
