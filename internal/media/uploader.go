package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrUpload is returned when the media host rejects or fails an
// upload. The send that supplied the attachment is aborted; nothing is
// appended to the conversation and the caller may retry.
var ErrUpload = errors.New("media upload failed")

// Uploader hands file bytes to the external media host and returns the
// public URL of the stored object.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
}

// HTTPUploader posts multipart form data to an unsigned upload
// endpoint and reads the public URL from the JSON response.
type HTTPUploader struct {
	client    *http.Client
	uploadURL string
	preset    string
}

// NewHTTPUploader constructs an HTTPUploader.
func NewHTTPUploader(uploadURL, preset string) *HTTPUploader {
	return &HTTPUploader{
		client:    &http.Client{Timeout: 30 * time.Second},
		uploadURL: uploadURL,
		preset:    preset,
	}
}

// Upload sends the file and returns its public URL.
func (u *HTTPUploader) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if u.uploadURL == "" {
		return "", fmt.Errorf("%w: no upload endpoint configured", ErrUpload)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := writer.WriteField("upload_preset", u.preset); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: upstream status %d", ErrUpload, resp.StatusCode)
	}

	var body struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if body.SecureURL != "" {
		return body.SecureURL, nil
	}
	if body.URL != "" {
		return body.URL, nil
	}
	return "", fmt.Errorf("%w: response carried no url", ErrUpload)
}

var _ Uploader = (*HTTPUploader)(nil)
