package testdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// Fetcher streams the body of one download URL into w.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, w io.Writer) error
}

// NewFetcher serves plain http(s) URLs and, when the URL points at an S3
// bucket, goes through the AWS SDK. Zstd-compressed bodies are decompressed
// transparently.
func NewFetcher() Fetcher {
	return &fetcher{client: &http.Client{}}
}

type fetcher struct {
	client   *http.Client
	s3Client *s3.Client
}

func (f *fetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse url %s: %w", rawURL, err)
	}

	if u.Scheme == "s3" || isS3Host(u.Host) {
		return f.fetchS3(ctx, u, w)
	}
	return f.fetchHTTP(ctx, rawURL, u, w)
}

func (f *fetcher) fetchHTTP(ctx context.Context, rawURL string, u *url.URL, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s for %s", resp.Status, rawURL)
	}
	return copyBody(w, resp.Body, resp.Header.Get("Content-Type"), u.Path)
}

func (f *fetcher) fetchS3(ctx context.Context, u *url.URL, w io.Writer) error {
	if f.s3Client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("unable to load AWS config: %w", err)
		}
		f.s3Client = s3.NewFromConfig(cfg)
	}

	bucket, key, err := s3Location(u)
	if err != nil {
		return err
	}

	obj, err := f.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	contentType := ""
	if obj.ContentType != nil {
		contentType = *obj.ContentType
	}
	return copyBody(w, obj.Body, contentType, u.Path)
}

func isS3Host(host string) bool {
	parts := strings.Split(host, ".")
	return len(parts) >= 3 && parts[1] == "s3"
}

func s3Location(u *url.URL) (bucket string, key string, err error) {
	if u.Scheme == "s3" {
		return u.Host, strings.TrimPrefix(u.Path, "/"), nil
	}
	// bucket.s3.region.amazonaws.com style
	parts := strings.Split(u.Host, ".")
	if len(parts) < 3 || parts[1] != "s3" {
		return "", "", fmt.Errorf("invalid s3 url host format: %s", u.Host)
	}
	return parts[0], strings.TrimPrefix(u.Path, "/"), nil
}

func copyBody(w io.Writer, body io.Reader, contentType string, urlPath string) error {
	if contentType == "application/zstd" || filepath.Ext(urlPath) == ".zst" {
		d, err := zstd.NewReader(body)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer d.Close()
		body = d
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	return nil
}
