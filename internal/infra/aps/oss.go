package aps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/you-humble/apsplot/internal/domain"
)

const (
	PolicyTransient = "transient"
	PolicyTemporary = "temporary"
	PolicyPersist   = "persistent"
)

func objectPath(bucket, object string) string {
	return fmt.Sprintf("%s/buckets/%s/objects/%s", ossPath, url.PathEscape(bucket), url.PathEscape(object))
}

// CreateBucket creates the bucket. A bucket that already exists is success.
func (c *Client) CreateBucket(ctx context.Context, token, bucket, policy string) error {
	if policy == "" {
		policy = PolicyTransient
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	req, err := c.newJSONRequest(ctx, http.MethodPost, ossPath+"/buckets", token, map[string]string{
		"bucketKey": bucket,
		"policyKey": policy,
	})
	if err != nil {
		return err
	}
	if err := c.doJSON(req, nil); err != nil {
		if IsStatus(err, http.StatusConflict) {
			c.logger.Debug("bucket already exists", slog.String("bucket", bucket))
			return nil
		}
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	c.logger.Info("bucket created", slog.String("bucket", bucket), slog.String("policy", policy))
	return nil
}

// SignedUpload requests a pre-signed upload slot for an object.
func (c *Client) SignedUpload(ctx context.Context, token, bucket, object string) (domain.UploadTarget, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, objectPath(bucket, object)+"/signeds3upload", token, nil)
	if err != nil {
		return domain.UploadTarget{}, err
	}
	var out domain.UploadTarget
	if err := c.doJSON(req, &out); err != nil {
		return domain.UploadTarget{}, fmt.Errorf("signed upload %s/%s: %w", bucket, object, err)
	}
	if len(out.URLs) == 0 || out.UploadKey == "" {
		return domain.UploadTarget{}, fmt.Errorf("signed upload %s/%s: response carries no upload url", bucket, object)
	}
	return out, nil
}

// PutBytes writes data to a pre-signed URL. No bearer token is sent.
func (c *Client) PutBytes(ctx context.Context, signedURL string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Transfer)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPut, signedURL, "", bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("put object bytes: %w", err)
	}
	return nil
}

// Finalize completes a signed upload and declares its size in bytes.
func (c *Client) Finalize(ctx context.Context, token, bucket, object, uploadKey string, size int64) (domain.ObjectDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	req, err := c.newJSONRequest(ctx, http.MethodPost, objectPath(bucket, object)+"/signeds3upload", token, map[string]any{
		"uploadKey": uploadKey,
		"size":      size,
	})
	if err != nil {
		return domain.ObjectDetails{}, err
	}
	var out domain.ObjectDetails
	if err := c.doJSON(req, &out); err != nil {
		return domain.ObjectDetails{}, fmt.Errorf("finalize %s/%s: %w", bucket, object, err)
	}
	return out, nil
}

// Upload stores data as an object through the signed S3 flow and returns the
// resulting object details, including its objectId.
func (c *Client) Upload(ctx context.Context, token, bucket, object string, data []byte) (domain.ObjectDetails, error) {
	target, err := c.SignedUpload(ctx, token, bucket, object)
	if err != nil {
		return domain.ObjectDetails{}, err
	}
	if err := c.PutBytes(ctx, target.URLs[0], data); err != nil {
		return domain.ObjectDetails{}, fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	details, err := c.Finalize(ctx, token, bucket, object, target.UploadKey, int64(len(data)))
	if err != nil {
		return domain.ObjectDetails{}, err
	}
	if details.ObjectID == "" {
		return domain.ObjectDetails{}, fmt.Errorf("upload %s/%s: response carries no objectId", bucket, object)
	}
	c.logger.Info("object uploaded",
		slog.String("bucket", bucket),
		slog.String("object", object),
		slog.Int("size", len(data)),
	)
	return details, nil
}

// CreatePlaceholder makes sure an empty object exists so a later signed
// write URL can target it. An object that is already there is left alone.
func (c *Client) CreatePlaceholder(ctx context.Context, token, bucket, object string) error {
	target, err := c.SignedUpload(ctx, token, bucket, object)
	if err != nil {
		if IsStatus(err, http.StatusConflict) {
			c.logger.Debug("placeholder already exists", slog.String("object", object))
			return nil
		}
		return fmt.Errorf("create placeholder: %w", err)
	}
	if err := c.PutBytes(ctx, target.URLs[0], nil); err != nil {
		return fmt.Errorf("create placeholder: %w", err)
	}
	if _, err := c.Finalize(ctx, token, bucket, object, target.UploadKey, 0); err != nil {
		return fmt.Errorf("create placeholder: %w", err)
	}
	return nil
}

// SignedURL returns a pre-signed URL for the object with the given access
// ("read", "write" or "readwrite").
func (c *Client) SignedURL(ctx context.Context, token, bucket, object, access string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	req, err := c.newJSONRequest(ctx, http.MethodPost, objectPath(bucket, object)+"/signed", token, map[string]string{
		"access": access,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		SignedURL string `json:"signedUrl"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", bucket, object, err)
	}
	if out.SignedURL == "" {
		return "", errors.New("sign: empty signedUrl")
	}
	return out.SignedURL, nil
}

// Download streams the content behind a signed URL into w.
func (c *Client) Download(ctx context.Context, signedURL string, w io.Writer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Transfer)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, signedURL, "", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", redact(req), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("download: %w", statusError(req, resp, body))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", redact(req), err)
	}
	return n, nil
}
