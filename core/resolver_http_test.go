package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolverBackend(t *testing.T) (*HTTPResolver, *chi.Mux) {
	t.Helper()
	mux := chi.NewRouter()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewHTTPResolver(srv.URL, "test-token"), mux
}

func TestResolveOrCreate(t *testing.T) {
	resolver, mux := newResolverBackend(t)

	var gotAuth string
	var gotReq startChatRequest
	mux.Post("/api/chats/start", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(startChatResponse{RoomID: "room-77"})
	})

	roomID, err := resolver.ResolveOrCreate(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "room-77", roomID)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, startChatRequest{UserAID: "u1", UserBID: "u2"}, gotReq)
}

func TestResolveOrCreateRejectsEmptyIDs(t *testing.T) {
	resolver, _ := newResolverBackend(t)

	_, err := resolver.ResolveOrCreate(context.Background(), "", "u2")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestResolveOrCreateBackendFailure(t *testing.T) {
	resolver, mux := newResolverBackend(t)
	mux.Post("/api/chats/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := resolver.ResolveOrCreate(context.Background(), "u1", "u2")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Reason, "500")
}

func TestFetchRoom(t *testing.T) {
	resolver, mux := newResolverBackend(t)
	mux.Get("/api/chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "room-77" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(Room{
			ID: "room-77", UserAID: "u1", UserBID: "u2",
			UserAName: "Instructor", UserBName: "Student",
		})
	})

	room, err := resolver.FetchRoom(context.Background(), "room-77")
	require.NoError(t, err)
	assert.Equal(t, "room-77", room.ID)
	assert.Equal(t, Participant{ID: "u2", Name: "Student"}, room.Counterpart("u1"))

	_, err = resolver.FetchRoom(context.Background(), "room-gone")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "room-gone", notFound.RoomID)
}

func TestFetchHistoryPreservesOrder(t *testing.T) {
	resolver, mux := newResolverBackend(t)
	mux.Get("/api/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Message{
			{RoomID: "room-77", SenderID: "u2", Kind: TextMessage, Content: "first", SentAt: time.Unix(1, 0).UTC()},
			{RoomID: "room-77", SenderID: "u1", Kind: TextMessage, Content: "second", SentAt: time.Unix(2, 0).UTC()},
			{RoomID: "room-77", SenderID: "u2", Kind: ImageMessage, Content: "pic.png", FileRef: "/uploads/pic.png", SentAt: time.Unix(3, 0).UTC()},
		})
	})

	history, err := resolver.FetchHistory(context.Background(), "room-77")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
	assert.Equal(t, ImageMessage, history[2].Kind)
	assert.Equal(t, "/uploads/pic.png", history[2].FileRef)
}

func TestUpload(t *testing.T) {
	resolver, mux := newResolverBackend(t)
	mux.Post("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.pdf", header.Filename)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(uploadResponse{FileRef: "/uploads/abc-notes.pdf"})
	})

	ref, err := resolver.Upload(context.Background(), "notes.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/abc-notes.pdf", ref)
}

func TestUploadBackendFailure(t *testing.T) {
	resolver, mux := newResolverBackend(t)
	mux.Post("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	})

	_, err := resolver.Upload(context.Background(), "big.bin", strings.NewReader("data"))
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "big.bin", upErr.Filename)
}
