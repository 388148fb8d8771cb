package photostore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cloudinary uploads photos through the Cloudinary REST API.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	// APIBase and DeliveryBase are overridable for tests.
	APIBase      string
	DeliveryBase string
	HTTP         *http.Client

	now func() time.Time
}

// NewCloudinary creates a Cloudinary store.
func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName:    cloudName,
		APIKey:       apiKey,
		APISecret:    apiSecret,
		Folder:       strings.Trim(folder, "/"),
		APIBase:      "https://api.cloudinary.com",
		DeliveryBase: "https://res.cloudinary.com",
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
}

type uploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Existing  bool   `json:"existing"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// publicID strips the extension; Cloudinary appends the format itself.
func publicID(p string) string {
	p = strings.TrimLeft(p, "/")
	return strings.TrimSuffix(p, path.Ext(p))
}

// Upload stores data under path with overwrite disabled. Cloudinary answers an
// upload to an existing public_id with "existing": true, which becomes ErrPathExists.
func (c *Cloudinary) Upload(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"public_id": publicID(p),
		"overwrite": "false",
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreatePart(fileHeader(path.Base(p), contentType))
	if err != nil {
		return "", fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()

	url := fmt.Sprintf("%s/v1_1/%s/image/upload", c.APIBase, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result uploadResponse
	decodeErr := json.Unmarshal(body, &result)
	if resp.StatusCode >= 300 {
		if decodeErr == nil && result.Error != nil {
			return "", fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, result.Error.Message)
		}
		return "", fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("cloudinary: decode response failed: %w", decodeErr)
	}
	if result.Existing {
		return "", ErrPathExists
	}
	if result.SecureURL == "" {
		return "", fmt.Errorf("cloudinary: response without secure_url")
	}
	return result.SecureURL, nil
}

// URL returns the delivery URL of path.
func (c *Cloudinary) URL(p string) string {
	id := publicID(p)
	if c.Folder != "" {
		id = c.Folder + "/" + id
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%s/image/upload/%s.%s", c.DeliveryBase, c.CloudName, id, ext)
}

// sign computes the Cloudinary API signature from the given params.
// api_key, file and resource_type are excluded from the signature.
func (c *Cloudinary) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func fileHeader(filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)},
		"Content-Type":        {contentType},
	}
}
