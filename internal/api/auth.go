package api

import (
	"net/http"
	"time"

	"github.com/Shivika2934/labquestion/internal/auth"
	"github.com/Shivika2934/labquestion/internal/pool"
	"github.com/Shivika2934/labquestion/internal/users"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	User        users.User `json:"user"`
}

// register creates an account. Anonymous callers always get a student
// account; only an administrator's token may ask for another role.
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var in users.NewUser
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	caller, err := h.Tokens.Parse(auth.BearerToken(r))
	if err != nil || !caller.IsAdmin() {
		in.Role = pool.RoleStudent
	}

	u, err := h.Users.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.Users.Authenticate(r.Context(), in.Username, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, expires, err := h.Tokens.Issue(u.Principal())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		User:        u,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
