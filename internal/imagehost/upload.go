package imagehost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"grocery_list/internal/config"

	"github.com/rs/zerolog/log"
)

// UploadError is returned when the image host refuses or fails an upload.
type UploadError struct {
	StatusCode int
	Message    string
	Underlying error
}

func (e *UploadError) Error() string {
	switch {
	case e.Underlying != nil:
		return fmt.Sprintf("failed to upload image: %v", e.Underlying)
	case e.StatusCode != 0:
		return fmt.Sprintf("failed to upload image: status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("failed to upload image: %s", e.Message)
	}
}

func (e *UploadError) Unwrap() error { return e.Underlying }

type uploadResponse struct {
	Data *struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type Uploader struct {
	apiKey     string
	uploadURL  string
	httpClient *http.Client
}

func NewUploader(apiKey, uploadURL string, timeout time.Duration) *Uploader {
	return &Uploader{
		apiKey:    apiKey,
		uploadURL: uploadURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Upload posts the image as base64 form field "image" and returns the public URL.
func (u *Uploader) Upload(ctx context.Context, data []byte) (string, error) {
	if u.apiKey == "" || u.apiKey == config.PlaceholderImgBBKey {
		return "", &config.Error{Key: "IMGBB_API_KEY", Reason: "is not configured"}
	}

	endpoint, err := url.Parse(u.uploadURL)
	if err != nil {
		return "", &UploadError{Underlying: fmt.Errorf("invalid upload URL: %w", err)}
	}
	query := endpoint.Query()
	query.Set("key", u.apiKey)
	endpoint.RawQuery = query.Encode()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("image", base64.StdEncoding.EncodeToString(data)); err != nil {
		return "", &UploadError{Underlying: fmt.Errorf("failed to write form field: %w", err)}
	}
	if err := form.Close(); err != nil {
		return "", &UploadError{Underlying: fmt.Errorf("failed to close form: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), &body)
	if err != nil {
		return "", &UploadError{Underlying: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", &UploadError{Underlying: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UploadError{StatusCode: resp.StatusCode, Underlying: fmt.Errorf("failed to read response body: %w", err)}
	}

	var parsed uploadResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := "Upload failed"
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
		log.Debug().
			Int("status_code", resp.StatusCode).
			Str("message", message).
			Msg("Image host rejected upload")
		return "", &UploadError{StatusCode: resp.StatusCode, Message: message}
	}

	if decodeErr != nil {
		return "", &UploadError{StatusCode: resp.StatusCode, Underlying: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}
	if parsed.Data == nil || parsed.Data.URL == "" {
		return "", &UploadError{StatusCode: resp.StatusCode, Message: "response did not include an image URL"}
	}

	log.Debug().Str("url", parsed.Data.URL).Msg("Image uploaded")
	return parsed.Data.URL, nil
}
