package aps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/you-humble/apsplot/internal/domain"
)

type translationJob struct {
	Input struct {
		URN string `json:"urn"`
	} `json:"input"`
	Output struct {
		Formats []translationFormat `json:"formats"`
	} `json:"output"`
}

type translationFormat struct {
	Type  string   `json:"type"`
	Views []string `json:"views"`
}

// StartTranslation submits a 2D SVF translation for the URN. Any existing
// derivative is overwritten.
func (c *Client) StartTranslation(ctx context.Context, token, urn string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	var job translationJob
	job.Input.URN = urn
	job.Output.Formats = []translationFormat{{Type: "svf", Views: []string{"2d"}}}

	req, err := c.newJSONRequest(ctx, http.MethodPost, mdPath+"/designdata/job", token, job)
	if err != nil {
		return err
	}
	req.Header.Set("x-ads-force", "true")

	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("start translation: %w", err)
	}
	return nil
}

// TranslationStatus probes the manifest once. A manifest the service has not
// produced yet reads as in progress.
func (c *Client) TranslationStatus(ctx context.Context, token, urn string) (domain.TranslationStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Control)
	defer cancel()

	path := fmt.Sprintf("%s/designdata/%s/manifest", mdPath, url.PathEscape(urn))
	req, err := c.newRequest(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return domain.TranslationStatus{}, err
	}

	code, body, err := c.send(req)
	if err != nil {
		return domain.TranslationStatus{}, fmt.Errorf("translation status: %w", err)
	}
	if code == http.StatusAccepted {
		return domain.TranslationStatus{
			Status:   domain.TranslationInProgress,
			Progress: domain.ManifestNotReady,
		}, nil
	}

	var out domain.TranslationStatus
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.TranslationStatus{}, fmt.Errorf("translation status: decode manifest: %w", err)
	}
	if out.Progress == "" {
		out.Progress = "N/A"
	}
	return out, nil
}
