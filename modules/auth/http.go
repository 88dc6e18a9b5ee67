package auth

import (
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/gorilla/mux"

	"github.com/diagnet/diagnet/pkg/util"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	Username  string `json:"username"`
	ExpiresIn int64  `json:"expiresIn"`
}

type validateResponse struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username,omitempty"`
}

// RegisterRoutes attaches the auth endpoints.
func (a *Authenticator) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/login", a.LoginHandler).Methods(http.MethodPost)
	r.HandleFunc("/auth/validate", a.ValidateHandler).Methods(http.MethodGet)
}

// LoginHandler serves POST /auth/login.
func (a *Authenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := jsonCodec.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	token, err := a.Issue(req.Username, req.Password)
	if err != nil {
		util.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	util.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		Type:      "Bearer",
		Username:  req.Username,
		ExpiresIn: a.cfg.TokenTTL.Milliseconds(),
	})
}

// ValidateHandler serves GET /auth/validate against the presented bearer.
func (a *Authenticator) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		util.WriteJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}

	subject, err := a.Verify(strings.TrimPrefix(header, prefix))
	if err != nil {
		util.WriteJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}
	util.WriteJSON(w, http.StatusOK, validateResponse{Valid: true, Username: subject})
}
