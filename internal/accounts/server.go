package accounts

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/authclient"
	"citizenportal/internal/httpx"
	"citizenportal/internal/token"
)

// Server exposes login to staff and user management to the gateway.
type Server struct {
	store       *Store
	tokens      *token.Manager
	internalKey string
	log         *logrus.Entry
}

func NewServer(store *Store, tokens *token.Manager, internalKey string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{store: store, tokens: tokens, internalKey: internalKey, log: log}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/api/login", s.Login)
	r.Group(func(r chi.Router) {
		r.Use(s.internalOnly)
		r.Post("/api/users", s.CreateUser)
		r.Get("/api/users", s.ListUsers)
		r.Get("/api/users/{id}", s.GetUser)
		r.Patch("/api/users/{id}", s.UpdateUser)
	})
}

func (s *Server) internalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Internal-Key")
		if s.internalKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.internalKey)) != 1 {
			httpx.WriteErr(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req authclient.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := s.store.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tok, exp, err := s.tokens.Issue(u.ID, u.Roles)
	if err != nil {
		s.log.WithError(err).Error("issue token")
		httpx.WriteErr(w, http.StatusInternalServerError, "token error")
		return
	}
	s.log.WithField("user_id", u.ID).Info("staff login")
	httpx.WriteJSON(w, http.StatusOK, authclient.LoginResponse{User: u, Token: tok, ExpiresAt: exp})
}

func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req authclient.CreateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := s.store.Create(r.Context(), req.Username, req.Password, req.Roles)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, authclient.UserResponse{User: u})
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.List(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authclient.ListUsersResponse{Users: users})
}

func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.ByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authclient.UserResponse{User: u})
}

func (s *Server) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req authclient.UpdateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Active == nil {
		httpx.WriteErr(w, http.StatusBadRequest, "active is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.SetActive(r.Context(), id, *req.Active); err != nil {
		s.writeError(w, err)
		return
	}
	u, err := s.store.ByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authclient.UserResponse{User: u})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadCredentials):
		httpx.WriteErr(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrInvalid):
		httpx.WriteErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		httpx.WriteErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.WriteErr(w, http.StatusNotFound, "not found")
	default:
		s.log.WithError(err).Error("account store failed")
		httpx.WriteErr(w, http.StatusInternalServerError, "db error")
	}
}
