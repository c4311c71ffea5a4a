// Package classifier talks to the external image/text triage service. Any
// failure other than an explicit rejection degrades to a safe default so
// ingestion never depends on the classifier being up.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/metrics"
	"github.com/civicaudit/report-server/internal/models"
)

const (
	// DefaultTimeout bounds one classifier round trip
	DefaultTimeout = 10 * time.Second
	// GenericCategory is the classifier's "no opinion" suggestion
	GenericCategory = "General"

	maxImageSide   = 1024
	maxResponseLen = 1 << 20

	defaultRejectMessage = "Our AI does not believe this photo matches this description"
)

// RejectedError means the classifier judged the submission not to be a
// genuine civic issue. Ingestion must abort without storing anything.
type RejectedError struct {
	Reason  string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("classifier rejected submission (%s): %s", e.Reason, e.Message)
	}
	return "classifier rejected submission: " + e.Message
}

// IsRejected reports whether err carries a classifier rejection
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// KeywordGroup is the keywords detected for one category, in detection order
type KeywordGroup struct {
	Category string
	Keywords []string
}

// Analysis is the classifier verdict after normalization
type Analysis struct {
	Priority           models.Priority
	IsCritical         bool
	SuggestedCategory  string
	Sentiment          float64
	KeywordsByCategory []KeywordGroup
}

// Keywords flattens the grouped keywords, keeping detection order
func (a Analysis) Keywords() []string {
	out := []string{}
	for _, g := range a.KeywordsByCategory {
		out = append(out, g.Keywords...)
	}
	return out
}

// Default is the verdict used whenever the classifier cannot answer
func Default(category string) Analysis {
	return Analysis{
		Priority:          models.PriorityLow,
		SuggestedCategory: category,
	}
}

// Request is one submission to classify
type Request struct {
	Title       string
	Description string
	Category    string
	Image       []byte
	Filename    string
}

// Text is the combined text sent to the classifier
func (r Request) Text() string {
	return r.Title + "\n" + r.Description
}

// Classifier is what ingestion needs from the triage service
type Classifier interface {
	Classify(ctx context.Context, req Request) (Analysis, error)
}

// Client is the HTTP implementation of Classifier
type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// New creates a classifier client. An empty url disables the classifier and
// every call returns Default.
func New(url string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether a classifier endpoint is configured
func (c *Client) Enabled() bool { return c.url != "" }

type analyzeResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
	Analysis *struct {
		Priority          string  `json:"priority"`
		SuggestedCategory string  `json:"suggested_category"`
		Urgency           float64 `json:"urgency"`
		Scores            *struct {
			Sentiment float64 `json:"sentiment"`
		} `json:"scores"`
		KeywordsDetected json.RawMessage `json:"keywords_detected"`
	} `json:"analysis"`
}

// Classify sends the submission to the classifier. The only error it returns
// is *RejectedError; everything else falls back to Default.
func (c *Client) Classify(ctx context.Context, req Request) (Analysis, error) {
	if !c.Enabled() {
		return Default(req.Category), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.httpClient.Timeout)
	defer cancel()

	body, contentType, err := encodeRequest(req)
	if err != nil {
		return c.fallback(req, "encode", err), nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return c.fallback(req, "request", err), nil
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.fallback(req, "network", err), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return c.fallback(req, "read", err), nil
	}

	var ar analyzeResponse
	decodeErr := json.Unmarshal(raw, &ar)

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity || ar.Status == "rejected" {
		if decodeErr != nil {
			return c.fallback(req, "decode", decodeErr), nil
		}
		msg := ar.Message
		if msg == "" {
			msg = defaultRejectMessage
		}
		metrics.ClassifierRejections.Inc()
		return Analysis{}, &RejectedError{Reason: ar.Reason, Message: msg}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fallback(req, "status", fmt.Errorf("unexpected status %d", resp.StatusCode)), nil
	}
	if decodeErr != nil {
		return c.fallback(req, "decode", decodeErr), nil
	}
	if ar.Status != "success" || ar.Analysis == nil {
		return c.fallback(req, "status", fmt.Errorf("classifier status %q", ar.Status)), nil
	}

	groups, err := flattenKeywords(ar.Analysis.KeywordsDetected)
	if err != nil {
		return c.fallback(req, "decode", err), nil
	}

	a := Analysis{
		Priority:           models.ParsePriority(ar.Analysis.Priority),
		SuggestedCategory:  strings.TrimSpace(ar.Analysis.SuggestedCategory),
		Sentiment:          ar.Analysis.Urgency,
		KeywordsByCategory: groups,
	}
	if ar.Analysis.Scores != nil {
		a.Sentiment = ar.Analysis.Scores.Sentiment
	}
	a.IsCritical = a.Priority == models.PriorityCritical
	if a.SuggestedCategory == "" {
		a.SuggestedCategory = req.Category
	}

	return a, nil
}

func (c *Client) fallback(req Request, reason string, err error) Analysis {
	metrics.ClassifierFallbacks.WithLabelValues(reason).Inc()
	c.logger.Warnw("Classifier unavailable, using default analysis",
		"reason", reason,
		"error", err,
	)
	return Default(req.Category)
}

func encodeRequest(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("text", req.Text()); err != nil {
		return nil, "", err
	}

	image, filename := prepareImage(req.Image, req.Filename)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(image); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return &buf, mw.FormDataContentType(), nil
}

// prepareImage downscales large images to JPEG. Undecodable input is sent
// unchanged and left for the classifier to judge.
func prepareImage(data []byte, filename string) ([]byte, string) {
	if filename == "" {
		filename = "image"
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, filename
	}
	b := img.Bounds()
	if b.Dx() <= maxImageSide && b.Dy() <= maxImageSide {
		return data, filename
	}

	resized := imaging.Fit(img, maxImageSide, maxImageSide, imaging.Lanczos)
	var out bytes.Buffer
	if err := imaging.Encode(&out, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data, filename
	}
	return out.Bytes(), strings.TrimSuffix(filename, extOf(filename)) + ".jpg"
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

// flattenKeywords walks a {"category": ["kw", ...]} object with the token
// decoder so the classifier's key order survives.
func flattenKeywords(raw json.RawMessage) ([]KeywordGroup, error) {
	groups := []KeywordGroup{}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return groups, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("keywords: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("keywords: %w", err)
		}
		key, _ := keyTok.(string)

		var kws []string
		if err := dec.Decode(&kws); err != nil {
			return nil, fmt.Errorf("keywords for %q: %w", key, err)
		}
		if len(kws) == 0 {
			continue
		}
		groups = append(groups, KeywordGroup{Category: key, Keywords: kws})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	return groups, nil
}
