package domain

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const (
	TranslationPending    = "pending"
	TranslationInProgress = "inprogress"
	TranslationSuccess    = "success"
	TranslationFailed     = "failed"
	TranslationTimeout    = "timeout"

	ManifestNotReady = "Manifest not ready"
)

const (
	WorkItemPending      = "pending"
	WorkItemInProgress   = "inprogress"
	WorkItemSuccess      = "success"
	WorkItemFailed       = "failed"
	WorkItemCancelled    = "cancelled"
	WorkItemFailedUpload = "failedUpload"
)

// BucketKey derives the per-client bucket key. OSS keys are lowercase.
func BucketKey(prefix, clientID string) string {
	return strings.ToLower(strings.TrimRight(prefix, "-") + "-" + clientID)
}

// EncodeURN turns an OSS object id into the resource name the derivative
// service expects: URL-safe base64 without padding.
func EncodeURN(objectID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(objectID))
}

// OutputName returns the sink object name for a source: same stem, new suffix.
func OutputName(source, ext string) string {
	base := source
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if dot := strings.LastIndex(base, "."); dot > 0 {
		base = base[:dot]
	}
	return base + ext
}

type UploadTarget struct {
	UploadKey string   `json:"uploadKey"`
	URLs      []string `json:"urls"`
}

type ObjectDetails struct {
	BucketKey   string `json:"bucketKey"`
	ObjectID    string `json:"objectId"`
	ObjectKey   string `json:"objectKey"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Location    string `json:"location"`
}

type TranslationStatus struct {
	Status   string `json:"status"`
	Progress string `json:"progress"`
}

func (s TranslationStatus) Terminal() bool {
	switch s.Status {
	case TranslationSuccess, TranslationFailed, TranslationTimeout:
		return true
	}
	return false
}

func (s TranslationStatus) Succeeded() bool { return s.Status == TranslationSuccess }

type WorkItemArgument struct {
	URL  string `json:"url"`
	Verb string `json:"verb"`
}

type WorkItemRequest struct {
	ActivityID string                      `json:"activityId"`
	Arguments  map[string]WorkItemArgument `json:"arguments"`
}

const DefaultPlotActivity = "AutoCAD.PlotToPDF+prod"

// NewPlotWorkItem builds the work item that plots the drawing behind hostURL
// into the object behind resultURL.
func NewPlotWorkItem(activityID, hostURL, resultURL string) WorkItemRequest {
	if activityID == "" {
		activityID = DefaultPlotActivity
	}
	return WorkItemRequest{
		ActivityID: activityID,
		Arguments: map[string]WorkItemArgument{
			"HostDwg": {URL: hostURL, Verb: "get"},
			"Result":  {URL: resultURL, Verb: "put"},
		},
	}
}

type WorkItemStats struct {
	TimeQueued          string `json:"timeQueued"`
	TimeDownloadStarted string `json:"timeDownloadStarted"`
	TimeInstructionsEnd string `json:"timeInstructionsEnded"`
	TimeUploadEnded     string `json:"timeUploadEnded"`
	BytesDownloaded     int64  `json:"bytesDownloaded"`
	BytesUploaded       *int64 `json:"bytesUploaded"`
}

type WorkItemStatus struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Progress  string         `json:"progress"`
	ReportURL string         `json:"reportUrl"`
	Stats     *WorkItemStats `json:"stats"`

	// Raw is the payload exactly as returned by the service.
	Raw json.RawMessage `json:"-"`
}

func (s WorkItemStatus) Terminal() bool {
	return s.Status == WorkItemSuccess || s.Failed()
}

// Failed covers every failure flavour the service reports
// (failed, failedUpload, failedDownload, failedLimit*...) plus cancelled.
func (s WorkItemStatus) Failed() bool {
	return s.Status == WorkItemCancelled || strings.HasPrefix(s.Status, WorkItemFailed)
}

func (s WorkItemStatus) Succeeded() bool { return s.Status == WorkItemSuccess }

// BytesUploaded reports the size the work item wrote into the sink object.
func (s WorkItemStatus) BytesUploaded() (int64, bool) {
	if s.Stats == nil || s.Stats.BytesUploaded == nil {
		return 0, false
	}
	return *s.Stats.BytesUploaded, true
}
