package www

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

const sessionName = "riot2-session"

func newSessionStore(secret string) *sessions.CookieStore {
	if secret == "" {
		secret = "riot2-default-secret-change-me"
	}
	s := sessions.NewCookieStore([]byte(secret))
	s.Options.HttpOnly = true
	s.Options.Secure = false
	s.Options.SameSite = http.SameSiteLaxMode
	return s
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (h *Handlers) isAuthenticated(r *http.Request) bool {
	session, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return false
	}
	auth, ok := session.Values["authenticated"].(bool)
	return ok && auth
}

// requireAuth rejects unauthenticated requests with 401.
func (h *Handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAuthenticated(r) {
			h.jsonError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) getUsername(r *http.Request) string {
	session, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return ""
	}
	username, _ := session.Values["username"].(string)
	return username
}

func findAdminUser(s *store.Store, username string) (*model.AdminUser, bool) {
	for _, u := range store.GetAll[model.AdminUser](s) {
		if u.Username == username {
			return u, true
		}
	}
	return nil, false
}

// ensureDefaultAdmin creates admin/admin when no operator account exists.
func ensureDefaultAdmin(s *store.Store) {
	if len(store.GetAll[model.AdminUser](s)) > 0 {
		return
	}
	hash, err := hashPassword("admin")
	if err != nil {
		return
	}
	user := &model.AdminUser{Username: "admin", PasswordHash: hash, CreatedAt: time.Now().UTC()}
	if _, err := store.Save(s, user, true); err != nil {
		log.Printf("auth: create default admin: %v", err)
		return
	}
	log.Printf("auth: created default admin user, change its password")
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	user, ok := findAdminUser(h.engine.Store(), username)
	if !ok || !checkPassword(user.PasswordHash, password) {
		h.jsonError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = true
	session.Values["username"] = username
	if err := session.Save(r, w); err != nil {
		log.Printf("auth: session save error: %v", err)
	}
	h.jsonOK(w, map[string]string{"username": username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = false
	session.Values["username"] = ""
	session.Save(r, w)
	w.WriteHeader(http.StatusNoContent)
}

// handlePassword changes the logged-in user's password.
func (h *Handlers) handlePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	password := r.FormValue("password")
	if len(password) < 4 {
		h.jsonError(w, "password too short", http.StatusBadRequest)
		return
	}
	user, ok := findAdminUser(h.engine.Store(), h.getUsername(r))
	if !ok {
		h.jsonError(w, "unknown user", http.StatusNotFound)
		return
	}
	hash, err := hashPassword(password)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	user.PasswordHash = hash
	if _, err := store.Save(h.engine.Store(), user, true); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
