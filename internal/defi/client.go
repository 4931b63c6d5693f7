package defi

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"defiaudit-desktop/internal/api"
)

const auditEndpoint = "defi/audit"

// Client wraps the four audit REST operations. It owns no job state beyond a
// cache of terminal reports, which the server never changes.
type Client struct {
	api     *api.Client
	reports *api.LRUCache[*Report]
	now     func() time.Time
}

// NewClient creates an audit client over an API transport
func NewClient(apiClient *api.Client, cacheSize int) *Client {
	return &Client{
		api:     apiClient,
		reports: api.NewLRUCache[*Report](cacheSize),
		now:     time.Now,
	}
}

// Create submits a new audit job. Invalid input fails with ErrValidation before any request is sent.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Job, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.api.Post(ctx, auditEndpoint, req)
	if err != nil || !resp.IsSuccess() {
		return nil, classify("create audit", resp, err)
	}

	var job Job
	if err := json.Unmarshal(resp.Body(), &job); err != nil {
		return nil, fmt.Errorf("%w: failed to parse create response: %w", ErrTransient, err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%w: create response carried no job id", ErrTransient)
	}
	if job.Status == "" {
		job.Status = StatusProcessing
	}
	if len(job.Chains) == 0 {
		job.Chains = req.Chains
	}
	if job.Period.Start == "" && job.Period.End == "" {
		job.Period = Period{Start: req.StartDate, End: req.EndDate}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = c.now()
	}
	return &job, nil
}

// Fetch retrieves the job or, once completed, the full report.
// Returned reports are shared with the cache and must be treated as read-only.
func (c *Client) Fetch(ctx context.Context, id string) (*Report, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: audit id is required", ErrValidation)
	}
	if cached, ok := c.reports.Get(id); ok {
		return cached, nil
	}

	resp, err := c.api.Get(ctx, jobPath(id), nil)
	if err != nil || !resp.IsSuccess() {
		return nil, classify("fetch audit "+id, resp, err)
	}

	var report Report
	if err := json.Unmarshal(resp.Body(), &report); err != nil {
		return nil, fmt.Errorf("%w: failed to parse audit %s: %w", ErrTransient, id, err)
	}
	if report.ID == "" {
		report.ID = id
	}
	if report.Status.Terminal() {
		c.reports.Put(id, &report)
	}
	return &report, nil
}

// Remove deletes the job on the server. The caller is responsible for stopping any poller for id.
func (c *Client) Remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: audit id is required", ErrValidation)
	}
	resp, err := c.api.Delete(ctx, jobPath(id))
	if err != nil || !resp.IsSuccess() {
		return classify("delete audit "+id, resp, err)
	}
	c.reports.Remove(id)
	return nil
}

// Export downloads a report artifact. Failures are returned as-is and never retried.
func (c *Client) Export(ctx context.Context, id string, format ExportFormat) (*Artifact, error) {
	if format != FormatCSV && format != FormatPDF {
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrValidation, format)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: audit id is required", ErrValidation)
	}

	resp, err := c.api.Download(ctx, fmt.Sprintf("%s/export/%s", jobPath(id), format))
	if err != nil {
		return nil, fmt.Errorf("%w: export %s as %s: %w", ErrExportFailed, id, format, err)
	}
	if !resp.IsSuccess() {
		switch resp.StatusCode() {
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: export %s: %s", ErrNotFound, id, serverMessage(resp))
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: export %s: %s", ErrUnauthorized, id, serverMessage(resp))
		default:
			return nil, fmt.Errorf("%w: export %s as %s: HTTP %d: %s", ErrExportFailed, id, format, resp.StatusCode(), serverMessage(resp))
		}
	}

	return &Artifact{
		Filename:    artifactFilename(resp.Header().Get("Content-Disposition"), id, format),
		ContentType: resp.Header().Get("Content-Type"),
		Data:        resp.Body(),
	}, nil
}

func jobPath(id string) string {
	return fmt.Sprintf("%s/%s", auditEndpoint, url.PathEscape(id))
}

// classify maps a failed request onto the error taxonomy
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
	}

	var kind error
	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = ErrValidation
	case http.StatusUnauthorized:
		kind = ErrUnauthorized
	case http.StatusForbidden, http.StatusNotFound:
		kind = ErrNotFound
	default:
		kind = ErrTransient
	}
	return fmt.Errorf("%w: %s: HTTP %d: %s", kind, op, resp.StatusCode(), serverMessage(resp))
}

// maxMessageRunes caps raw error bodies quoted in error messages
const maxMessageRunes = 200

func truncateRunes(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + "..."
}

// serverMessage extracts a human-readable message from an error body
func serverMessage(resp *resty.Response) string {
	var body struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		for _, msg := range []string{body.Detail, body.Error, body.Message} {
			if msg != "" {
				return msg
			}
		}
	}
	text := truncateRunes(strings.TrimSpace(resp.String()), maxMessageRunes)
	if text == "" {
		text = http.StatusText(resp.StatusCode())
	}
	return text
}

func artifactFilename(disposition, id string, format ExportFormat) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	return fmt.Sprintf("audit-report-%s.%s", id, format)
}
