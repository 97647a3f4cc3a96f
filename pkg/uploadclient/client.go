// Package uploadclient uploads files against a signed POST policy issued by
// the grant endpoint. It is the client half of the presigned upload flow:
// the payload goes straight to the object store, never through the service.
package uploadclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Policy mirrors the grant response: the form fields to submit and the
// object-store URL to POST them to.
type Policy struct {
	URL      string            `json:"url"`
	FormData map[string]string `json:"formData"`
}

// Upload POSTs the file to the policy's URL as a multipart form. The signed
// policy fields go first; S3-compatible stores require the file part last.
func Upload(ctx context.Context, client *http.Client, policy Policy, filename string, file io.Reader) error {
	if client == nil {
		client = http.DefaultClient
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for field, value := range policy.FormData {
		if err := form.WriteField(field, value); err != nil {
			return fmt.Errorf("write form field %q: %w", field, err)
		}
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.URL, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload rejected: %s: %s", resp.Status, bytes.TrimSpace(detail))
	}
	return nil
}
