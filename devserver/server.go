package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/edulms/chatkit/core"
)

// Options configures a devserver instance.
type Options struct {
	// Secret signs and verifies bearer tokens.
	Secret []byte
	// SQLiteFile is the database file. Use ":memory:" for tests.
	SQLiteFile string
	// MigrationDir holds the goose migration files.
	MigrationDir string
	// UploadDir is where uploaded attachments are written.
	UploadDir string
	// AllowedOrigins for CORS. Defaults to ["*"].
	AllowedOrigins []string
}

// Server is the development chat backend. It serves the REST contract
// the resolver speaks and the websocket contract the transport speaks,
// backed by sqlite.
type Server struct {
	opts   *Options
	db     *DB
	store  ChatStore
	hub    *Hub
	logger *slog.Logger
	router chi.Router

	quit chan struct{}
	done chan struct{}
}

type ServerOption func(*Server)

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

func NewServer(opts *Options, serverOpts ...ServerOption) (*Server, error) {
	s := &Server{
		opts:   opts,
		logger: slog.Default(),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range serverOpts {
		opt(s)
	}

	db, err := OpenDB(opts.SQLiteFile, opts.MigrationDir, &DBParams{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	s.db = db
	s.store = NewSQLiteChatStore(db.DB)
	s.hub = NewHub(WithHubLogger(s.logger))

	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/chats/start", s.startChatHandler)
		r.Get("/api/chats/{roomID}", s.getRoomHandler)
		r.Get("/api/chats/{roomID}/messages", s.getMessagesHandler)
		r.Post("/api/upload", s.uploadHandler)
		r.Get("/ws", s.wsHandler)
	})
	r.Handle("/uploads/*", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(opts.UploadDir))))
	s.router = r

	go s.routeEvents()
	return s, nil
}

// Handler exposes the HTTP surface, for mounting under httptest or an
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Close() error {
	close(s.quit)
	s.hub.Close()
	<-s.done
	return s.db.Close()
}

type claimsKey struct{}

// requireAuth accepts the token from the Authorization header or, for
// websocket clients that cannot set headers, the token query parameter.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := VerifyToken(token, s.opts.Secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func claimsFromRequest(r *http.Request) *AuthClaims {
	claims, _ := r.Context().Value(claimsKey{}).(*AuthClaims)
	return claims
}

type startChatPayload struct {
	UserAID   string `json:"user_a_id"`
	UserBID   string `json:"user_b_id"`
	UserAName string `json:"user_a_name"`
	UserBName string `json:"user_b_name"`
}

type startChatResponse struct {
	RoomID string `json:"room_id"`
}

func (s *Server) startChatHandler(w http.ResponseWriter, r *http.Request) {
	var payload startChatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	r.Body.Close()

	roomID, err := s.store.StartChat(r.Context(),
		core.Participant{ID: payload.UserAID, Name: payload.UserAName},
		core.Participant{ID: payload.UserBID, Name: payload.UserBName})
	if err != nil {
		if errors.Is(err, ErrInvalidPair) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error(fmt.Sprintf("StartChat: %v", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, startChatResponse{RoomID: roomID})
}

func (s *Server) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.GetRoom(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error(fmt.Sprintf("GetRoom: %v", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) getMessagesHandler(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.History(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error(fmt.Sprintf("History: %v", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type uploadResponse struct {
	FileRef string `json:"file_ref"`
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	name := uuid.New().String() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(s.opts.UploadDir, name))
	if err != nil {
		s.logger.Error(fmt.Sprintf("create upload: %v", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		s.logger.Error(fmt.Sprintf("write upload: %v", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{FileRef: "/uploads/" + name})
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromRequest(r)
	if err := s.hub.Connect(claims.UserID, w, r); err != nil {
		s.logger.Error(fmt.Sprintf("Connect: %v", err))
	}
}

// routeEvents drains inbound packets and fans them out. Message events
// are persisted then delivered to both participants; typing events go
// to the counterpart only and are never persisted.
func (s *Server) routeEvents() {
	defer close(s.done)
	for {
		select {
		case packet := <-s.hub.In():
			s.handlePacket(packet)
		case <-s.quit:
			return
		}
	}
}

func (s *Server) handlePacket(p *Packet) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch p.Event.Type {
	case core.MessageEvent:
		var input core.MessageInput
		if err := json.Unmarshal(p.Event.Payload, &input); err != nil {
			s.logger.Error(fmt.Sprintf("unmarshal message event: %v", err))
			return
		}
		// The authenticated connection identity wins over the payload.
		input.SenderID = p.Sender
		if err := input.Validate(); err != nil {
			s.logger.Error(fmt.Sprintf("invalid message event: %v", err))
			return
		}
		saved, err := s.store.AppendMessage(ctx, core.Message{
			RoomID:     input.RoomID,
			SenderID:   input.SenderID,
			ReceiverID: input.ReceiverID,
			Kind:       input.Kind,
			Content:    input.Content,
			FileRef:    input.FileRef,
		})
		if err != nil {
			s.logger.Error(fmt.Sprintf("AppendMessage: %v", err))
			return
		}
		event, err := core.NewEvent(saved)
		if err != nil {
			s.logger.Error(err.Error())
			return
		}
		s.hub.Send(saved.ReceiverID, event)
		s.hub.Send(saved.SenderID, event)
	case core.TypingEvent:
		var payload core.TypingPayload
		if err := json.Unmarshal(p.Event.Payload, &payload); err != nil {
			s.logger.Error(fmt.Sprintf("unmarshal typing event: %v", err))
			return
		}
		payload.SenderID = p.Sender
		room, err := s.store.GetRoom(ctx, payload.RoomID)
		if err != nil {
			s.logger.Debug(fmt.Sprintf("typing for unknown room %s", payload.RoomID))
			return
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error(err.Error())
			return
		}
		s.hub.Send(room.Counterpart(p.Sender).ID, &core.Event{Type: core.TypingEvent, Payload: raw})
	default:
		s.logger.Debug(fmt.Sprintf("dropping event of unknown type: %s", p.Event.Type))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type jsonError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonError{Error: msg})
}
