package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// HTTPResolver resolves rooms, history, and uploads against the chat
// REST API.
type HTTPResolver struct {
	baseURL string
	token   string
	client  *http.Client
}

type ResolverOption func(*HTTPResolver)

func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *HTTPResolver) {
		r.client = c
	}
}

func NewHTTPResolver(baseURL, token string, opts ...ResolverOption) *HTTPResolver {
	r := &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type startChatRequest struct {
	UserAID string `json:"user_a_id"`
	UserBID string `json:"user_b_id"`
}

type startChatResponse struct {
	RoomID string `json:"room_id"`
}

func (r *HTTPResolver) ResolveOrCreate(ctx context.Context, a, b string) (string, error) {
	if a == "" || b == "" {
		return "", &ResolutionError{Reason: "empty participant id"}
	}
	body, err := json.Marshal(startChatRequest{UserAID: a, UserBID: b})
	if err != nil {
		return "", &ResolutionError{Reason: "encode request", Err: err}
	}
	res, err := r.do(ctx, http.MethodPost, "/api/chats/start", bytes.NewReader(body))
	if err != nil {
		return "", &ResolutionError{Reason: "backend unreachable", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return "", &ResolutionError{Reason: fmt.Sprintf("unexpected status %d", res.StatusCode)}
	}
	var out startChatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", &ResolutionError{Reason: "decode response", Err: err}
	}
	return out.RoomID, nil
}

func (r *HTTPResolver) FetchRoom(ctx context.Context, roomID string) (Room, error) {
	res, err := r.do(ctx, http.MethodGet, "/api/chats/"+roomID, nil)
	if err != nil {
		return Room{}, &ResolutionError{Reason: "backend unreachable", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return Room{}, &NotFoundError{RoomID: roomID}
	}
	if res.StatusCode != http.StatusOK {
		return Room{}, &ResolutionError{Reason: fmt.Sprintf("unexpected status %d", res.StatusCode)}
	}
	var room Room
	if err := json.NewDecoder(res.Body).Decode(&room); err != nil {
		return Room{}, &ResolutionError{Reason: "decode response", Err: err}
	}
	return room, nil
}

func (r *HTTPResolver) FetchHistory(ctx context.Context, roomID string) ([]Message, error) {
	res, err := r.do(ctx, http.MethodGet, "/api/chats/"+roomID+"/messages", nil)
	if err != nil {
		return nil, &ResolutionError{Reason: "backend unreachable", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{RoomID: roomID}
	}
	if res.StatusCode != http.StatusOK {
		return nil, &ResolutionError{Reason: fmt.Sprintf("unexpected status %d", res.StatusCode)}
	}
	var history []Message
	if err := json.NewDecoder(res.Body).Decode(&history); err != nil {
		return nil, &ResolutionError{Reason: "decode response", Err: err}
	}
	return history, nil
}

type uploadResponse struct {
	FileRef string `json:"file_ref"`
}

// Upload posts the file as multipart form data and returns the
// reference assigned by the backend.
func (r *HTTPResolver) Upload(ctx context.Context, filename string, src io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	if _, err := io.Copy(part, src); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/upload", &buf)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.authorize(req)

	res, err := r.client.Do(req)
	if err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return "", &UploadError{Filename: filename, Err: fmt.Errorf("unexpected status %d", res.StatusCode)}
	}
	var out uploadResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", &UploadError{Filename: filename, Err: err}
	}
	return out.FileRef, nil
}

func (r *HTTPResolver) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.authorize(req)
	return r.client.Do(req)
}

func (r *HTTPResolver) authorize(req *http.Request) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}
