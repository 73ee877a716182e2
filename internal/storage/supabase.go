package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	supabase "github.com/supabase-community/storage-go"
)

const supabaseCacheControl = "max-age=3600"

// SupabaseStore uploads to a public Supabase storage bucket.
type SupabaseStore struct {
	endpoint string
	apiKey   string
	bucket   string
}

func NewSupabaseStore(baseURL, apiKey, bucket string) (*SupabaseStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	apiKey = strings.TrimSpace(apiKey)
	if baseURL == "" || apiKey == "" {
		return nil, errors.New("storage: supabase url and key are required")
	}
	bucket = strings.Trim(strings.TrimSpace(bucket), "/")
	if bucket == "" {
		return nil, errors.New("storage: supabase bucket is required")
	}
	return &SupabaseStore{endpoint: baseURL + "/storage/v1", apiKey: apiKey, bucket: bucket}, nil
}

// client returns a fresh storage client. The library keeps per-upload options
// in headers shared by the client, so clients are never reused across uploads.
func (s *SupabaseStore) client() *supabase.Client {
	return supabase.NewClient(s.endpoint, s.apiKey, map[string]string{"apikey": s.apiKey})
}

// Upload stores data under a fresh object key without overwriting and
// returns the public object URL.
func (s *SupabaseStore) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ObjectKey(filename)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	cacheControl := supabaseCacheControl
	upsert := false

	c := s.client()
	done := make(chan error, 1)
	go func() {
		_, err := c.UploadFile(s.bucket, key, bytes.NewReader(data), supabase.FileOptions{
			CacheControl: &cacheControl,
			ContentType:  &contentType,
			Upsert:       &upsert,
		})
		done <- err
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("storage: upload %s: %w", key, err)
		}
	}
	return c.GetPublicUrl(s.bucket, key).SignedURL, nil
}

var (
	_ Uploader = (*FileStore)(nil)
	_ Uploader = (*SupabaseStore)(nil)
)
