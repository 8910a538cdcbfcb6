// Package delegate calls the external processing service that classifies a
// stored document and extracts its structured fields.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

var (
	ErrProcessingUnavailable = errors.New("processing delegate unavailable")
	ErrProcessingRejected    = errors.New("processing delegate rejected document")
)

// RejectedError is returned when the delegate declines a file. It matches
// ErrProcessingRejected and keeps any warnings the delegate sent with it.
type RejectedError struct {
	Reason   string
	Warnings []string
}

func (e *RejectedError) Error() string {
	return ErrProcessingRejected.Error() + ": " + e.Reason
}

func (e *RejectedError) Unwrap() error {
	return ErrProcessingRejected
}

type Result struct {
	Classification *string
	Confidence     *float64
	ExtractedData  *models.ExtractedData
	Warnings       []string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client for the delegate at baseURL. A zero timeout leaves the
// call bounded only by the caller's context.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Process asks the delegate to interpret fileRef. It never retries.
func (c *Client) Process(ctx context.Context, fileRef string) (*Result, error) {
	reqID := uuid.NewString()
	start := time.Now()

	body, err := json.Marshal(processRequest{FilePath: fileRef})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrProcessingUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("delegate.send_error", "req_id", reqID, "file", fileRef, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %w", ErrProcessingUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrProcessingUnavailable, err)
	}

	c.logger.Info("delegate.response",
		"req_id", reqID,
		"file", fileRef,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, rejection(raw)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d", ErrProcessingUnavailable, resp.StatusCode)
	}

	var pr processResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrProcessingUnavailable, err)
	}

	// The delegate reports unreadable files as a 200 carrying only an error.
	if pr.Error != "" && pr.Classification == nil {
		return nil, &RejectedError{Reason: pr.Error, Warnings: pr.Warnings}
	}

	return pr.result(), nil
}

type processRequest struct {
	FilePath string `json:"filePath"`
}

type processResponse struct {
	Classification *string        `json:"classification"`
	Confidence     *float64       `json:"confidence"`
	Extracted      *wireExtracted `json:"extracted_data"`
	ExtractedCamel *wireExtracted `json:"extractedData"`
	Warnings       []string       `json:"warnings"`
	Error          string         `json:"error"`
}

type wireExtracted struct {
	Dates     []string        `json:"dates"`
	Amounts   []wireAmount    `json:"amounts"`
	Company   json.RawMessage `json:"company"`
	Companies json.RawMessage `json:"companies"`
}

type wireAmount struct {
	Amount   any     `json:"amount"`
	Currency *string `json:"currency"`
}

func (pr *processResponse) result() *Result {
	res := &Result{
		Classification: pr.Classification,
		Confidence:     pr.Confidence,
		Warnings:       pr.Warnings,
	}
	if res.Classification != nil && *res.Classification == "" {
		res.Classification = nil
	}

	ex := pr.Extracted
	if ex == nil {
		ex = pr.ExtractedCamel
	}
	if ex != nil {
		res.ExtractedData = ex.normalise()
	}
	return res
}

func (w *wireExtracted) normalise() *models.ExtractedData {
	ed := &models.ExtractedData{Dates: w.Dates}

	for _, a := range w.Amounts {
		v, ok := a.Amount.(float64)
		if !ok {
			continue
		}
		amt := models.Amount{Amount: v}
		if a.Currency != nil {
			amt.Currency = strings.TrimSpace(*a.Currency)
		}
		ed.Amounts = append(ed.Amounts, amt)
	}

	ed.Company = companyFrom(w.Company)
	if ed.Company == nil {
		ed.Company = companyFrom(w.Companies)
	}
	return ed
}

// companyFrom accepts a string or a list of candidate strings and returns the
// first non-empty value.
func companyFrom(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if s := strings.TrimSpace(single); s != "" {
			return &s
		}
		return nil
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	for _, item := range list {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return &s
			}
		}
	}
	return nil
}

func rejection(raw []byte) *RejectedError {
	var body struct {
		Error    string   `json:"error"`
		Detail   any      `json:"detail"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return &RejectedError{Reason: body.Error, Warnings: body.Warnings}
		}
		if s, ok := body.Detail.(string); ok && s != "" {
			return &RejectedError{Reason: s, Warnings: body.Warnings}
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) <= 200 {
		return &RejectedError{Reason: s}
	}
	return &RejectedError{Reason: "document could not be interpreted"}
}
