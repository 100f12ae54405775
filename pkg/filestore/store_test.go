package filestore

import (
	"context"
	"encoding/base64"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	content := base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n"))

	meta, err := store.UploadFile(ctx, "alice@example.com", "data.csv", content, "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "data.csv", meta.Filename)
	assert.Equal(t, int64(8), meta.Size)

	// Storage keys carry the timestamp-hash prefix the UI sanitizer strips.
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{9,}_[0-9a-f]{6,}_data\.csv$`), meta.Key)

	got, err := store.GetFile(ctx, "alice@example.com", meta.Key)
	require.NoError(t, err)
	assert.Equal(t, content, got.ContentBase64)
}

func TestMemoryStoreScopesByOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	meta, err := store.UploadFile(ctx, "alice@example.com", "secret.txt",
		base64.StdEncoding.EncodeToString([]byte("x")), "user", nil)
	require.NoError(t, err)

	_, err = store.GetFile(ctx, "mallory@example.com", meta.Key)
	assert.Error(t, err)
	assert.Error(t, store.DeleteFile(ctx, "mallory@example.com", meta.Key))
	assert.NoError(t, store.DeleteFile(ctx, "alice@example.com", meta.Key))
}

func TestMemoryStoreRejectsBadBase64(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.UploadFile(context.Background(), "alice@example.com", "f.txt", "not base64!!!", "user", nil)
	assert.Error(t, err)
}

func TestURLSignerRoundTrip(t *testing.T) {
	signer := NewURLSigner([]byte("test-secret"), "http://localhost:8080/api/files", time.Minute)

	signed, err := signer.SignedURL("alice@example.com", "123456789_abcdef_data.csv")
	require.NoError(t, err)
	assert.Contains(t, signed, "http://localhost:8080/api/files/")
	assert.Contains(t, signed, "token=")

	// Extract the token query parameter and verify it.
	re := regexp.MustCompile(`token=([^&]+)`)
	m := re.FindStringSubmatch(signed)
	require.Len(t, m, 2)

	user, key, err := signer.Verify(decodeQuery(t, m[1]))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user)
	assert.Equal(t, "123456789_abcdef_data.csv", key)
}

func TestURLSignerFailsClosed(t *testing.T) {
	signer := NewURLSigner([]byte("test-secret"), "http://localhost:8080/api/files", time.Minute)
	other := NewURLSigner([]byte("wrong-secret"), "http://localhost:8080/api/files", time.Minute)

	signed, err := other.SignedURL("alice@example.com", "k")
	require.NoError(t, err)
	re := regexp.MustCompile(`token=([^&]+)`)
	m := re.FindStringSubmatch(signed)
	require.Len(t, m, 2)

	_, _, err = signer.Verify(decodeQuery(t, m[1]))
	assert.Error(t, err)

	_, _, err = signer.Verify("garbage")
	assert.Error(t, err)
}

func TestURLSignerExpiredToken(t *testing.T) {
	signer := NewURLSigner([]byte("test-secret"), "http://h/files", time.Minute)
	short := &URLSigner{secret: []byte("test-secret"), baseURL: "http://h/files", ttl: time.Millisecond}
	signed, err := short.SignedURL("alice@example.com", "k")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	re := regexp.MustCompile(`token=([^&]+)`)
	m := re.FindStringSubmatch(signed)
	require.Len(t, m, 2)
	_, _, err = signer.Verify(decodeQuery(t, m[1]))
	assert.Error(t, err)
}

func TestCanvasHelpers(t *testing.T) {
	assert.Equal(t, "csv", GetFileExtension("report.csv"))
	assert.Equal(t, "html", GetFileExtension("INDEX.HTML"))
	assert.Equal(t, "", GetFileExtension("Makefile"))

	assert.True(t, ShouldDisplayInCanvas("chart.svg"))
	assert.True(t, ShouldDisplayInCanvas("notes.md"))
	assert.False(t, ShouldDisplayInCanvas("archive.tar.xz"))

	assert.Equal(t, "image", GetCanvasFileType("png"))
	assert.Equal(t, "image", GetCanvasFileType(".png"))
	assert.Equal(t, "text", GetCanvasFileType("xyz"))
}

// decodeQuery undoes the query escaping applied when the token was embedded
// in the URL.
func decodeQuery(t *testing.T, s string) string {
	t.Helper()
	out, err := url.QueryUnescape(s)
	require.NoError(t, err)
	return out
}
