package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

// HTTPStore talks to a REST remote store. Rows live under
// {base}/rest/{table} and attachments under {base}/storage/photos.
type HTTPStore struct {
	baseURL string
	token   func(context.Context) (string, error)
	client  *http.Client
}

// NewHTTPStore builds a store client. token returns the current session
// token; it is called per request so refreshed sessions take effect
// without rebuilding the client. A nil httpClient gets a 10 second
// per-call timeout, which doubles as the sync engine's per-network-call
// timeout.
func NewHTTPStore(baseURL string, token func(context.Context) (string, error), httpClient *http.Client) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	if token == nil {
		return nil, fmt.Errorf("token func cannot be nil")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  httpClient,
	}, nil
}

// Create implements Store.
func (s *HTTPStore) Create(ctx context.Context, table schema.Table, payload map[string]any) (ServerRecord, error) {
	var row struct {
		ID string `json:"id"`
	}
	body, err := s.do(ctx, http.MethodPost, s.restURL(table, ""), payload)
	if err != nil {
		return ServerRecord{}, err
	}
	if err := json.Unmarshal(body, &row); err != nil {
		return ServerRecord{}, &Error{Kind: KindValidation, Message: "malformed create response", Err: err}
	}
	if row.ID == "" {
		return ServerRecord{}, &Error{Kind: KindValidation, Message: "create response missing id"}
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		fields = map[string]any{}
	}
	delete(fields, "id")
	return ServerRecord{ServerID: row.ID, Fields: fields}, nil
}

// Update implements Store.
func (s *HTTPStore) Update(ctx context.Context, table schema.Table, serverID string, payload map[string]any) (map[string]any, error) {
	body, err := s.do(ctx, http.MethodPatch, s.restURL(table, serverID), payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "malformed update response", Err: err}
	}
	delete(fields, "id")
	return fields, nil
}

// Delete implements Store. A 404 is treated as success: the row is gone
// either way.
func (s *HTTPStore) Delete(ctx context.Context, table schema.Table, serverID string) error {
	_, err := s.do(ctx, http.MethodDelete, s.restURL(table, serverID), nil)
	if err != nil {
		var re *Error
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// List implements Store.
func (s *HTTPStore) List(ctx context.Context, table schema.Table, filter map[string]string) ([]ServerRecord, error) {
	u := s.restURL(table, "")
	if len(filter) > 0 {
		q := url.Values{}
		for k, v := range filter {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	body, err := s.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "malformed list response", Err: err}
	}

	out := make([]ServerRecord, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		delete(row, "id")
		out = append(out, ServerRecord{ServerID: id, Fields: row})
	}
	return out, nil
}

// Upload implements Store. The photo is sent as multipart form data; the
// response carries the stored object's public URL.
func (s *HTTPStore) Upload(ctx context.Context, file io.Reader, kind schema.PhotoKind, ownerID, fileName string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("kind", string(kind)); err != nil {
		return "", fmt.Errorf("failed to write upload field: %w", err)
	}
	if err := mw.WriteField("owner_id", ownerID); err != nil {
		return "", fmt.Errorf("failed to write upload field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create upload part: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return "", fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/storage/photos", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := s.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", classifyErr(err, "upload failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyErr(err, "failed to read upload response")
	}
	if resp.StatusCode >= 400 {
		return "", &Error{
			Kind:    ClassifyStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(body)),
		}
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.URL == "" {
		return "", &Error{Kind: KindValidation, Message: "upload response missing url", Err: err}
	}
	return result.URL, nil
}

func (s *HTTPStore) restURL(table schema.Table, serverID string) string {
	u := s.baseURL + "/rest/" + string(table)
	if serverID != "" {
		u += "/" + url.PathEscape(serverID)
	}
	return u
}

func (s *HTTPStore) authorize(ctx context.Context, req *http.Request) error {
	tok, err := s.token(ctx)
	if err != nil {
		return &Error{Kind: KindAuth, Message: "no session token", Err: err}
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

func (s *HTTPStore) do(ctx context.Context, method, u string, payload map[string]any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyErr(err, method+" "+u+" failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyErr(err, "failed to read response body")
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{
			Kind:    ClassifyStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}
