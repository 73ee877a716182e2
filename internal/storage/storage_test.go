package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var keyPattern = regexp.MustCompile(`^op/[0-9a-f-]{36}\.[a-z0-9]+$`)

func TestObjectKey(t *testing.T) {
	cases := map[string]string{
		"photo.PNG":      ".png",
		"archive.tar.gz": ".gz",
		"noext":          ".jpg",
		"":               ".jpg",
	}
	for name, suffix := range cases {
		key := ObjectKey(name)
		if !keyPattern.MatchString(key) || !strings.HasSuffix(key, suffix) {
			t.Fatalf("ObjectKey(%q) = %q, want op/<uuid>%s", name, key, suffix)
		}
	}
	if ObjectKey("a.png") == ObjectKey("a.png") {
		t.Fatalf("keys should be unique")
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"../etc/passwd", "  ", "."} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) should fail", key)
		}
	}
	got, err := sanitizeKey(`\op\a.png`)
	if err != nil || got != "op/a.png" {
		t.Fatalf("sanitizeKey = %q, %v", got, err)
	}
}

func TestFileStoreUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	url, err := store.Upload(context.Background(), "ref.webp", "image/webp", []byte("img"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	key := strings.TrimPrefix(url, "http://localhost:8080/static/")
	if !keyPattern.MatchString(key) || !strings.HasSuffix(key, ".webp") {
		t.Fatalf("url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil || string(data) != "img" {
		t.Fatalf("stored file = %q, %v", data, err)
	}
}

func TestSupabaseStoreUpload(t *testing.T) {
	var gotPath, gotAuth, gotKey, gotUpsert, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotUpsert = r.Header.Get("x-upsert")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Key":"uploads/op/x.png"}`))
	}))
	defer srv.Close()

	store, err := NewSupabaseStore(srv.URL+"/", "service-key", "uploads")
	if err != nil {
		t.Fatalf("NewSupabaseStore: %v", err)
	}
	url, err := store.Upload(context.Background(), "x.png", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(gotPath, "/storage/v1/object/uploads/op/") || !strings.HasSuffix(gotPath, ".png") {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer service-key" || gotKey != "service-key" || gotUpsert != "false" || gotType != "image/png" || string(gotBody) != "png" {
		t.Fatalf("request headers/body mismatch: %q %q %q %q %q", gotAuth, gotKey, gotUpsert, gotType, gotBody)
	}
	wantURL := srv.URL + "/storage/v1/object/public/uploads/" + strings.TrimPrefix(gotPath, "/storage/v1/object/uploads/")
	if url != wantURL {
		t.Fatalf("url = %q, want %q", url, wantURL)
	}
}

func TestSupabaseStoreUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusCode":"409","error":"Duplicate","message":"The resource already exists"}`))
	}))
	defer srv.Close()

	store, _ := NewSupabaseStore(srv.URL, "k", "uploads")
	_, err := store.Upload(context.Background(), "x.png", "", []byte("png"))
	if err == nil || !strings.Contains(err.Error(), "The resource already exists") {
		t.Fatalf("err = %v", err)
	}
}

func TestSupabaseStoreRequiresConfig(t *testing.T) {
	cases := []struct{ url, key, bucket string }{
		{"", "k", "b"},
		{"https://x.supabase.co", " ", "b"},
		{"https://x.supabase.co", "k", "/"},
	}
	for _, tc := range cases {
		if _, err := NewSupabaseStore(tc.url, tc.key, tc.bucket); err == nil {
			t.Fatalf("NewSupabaseStore(%q, %q, %q) succeeded", tc.url, tc.key, tc.bucket)
		}
	}
}

func TestSupabaseStoreUploadHonorsCancelledContext(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	store, _ := NewSupabaseStore(srv.URL, "k", "uploads")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Upload(ctx, "x.png", "image/png", []byte("png")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("upload reached the server after cancel")
	}
}
