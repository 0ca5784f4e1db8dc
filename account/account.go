/*
Package account manages the user accounts owning leads: registration,
password login with session tokens, logout and the current-account lookup.
*/
package account

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/chandankrroy/erino-backend/core/access"
	"github.com/chandankrroy/erino-backend/core/csql"
	"github.com/chandankrroy/erino-backend/core/logger"
	"github.com/chandankrroy/erino-backend/core/registry"
	"github.com/chandankrroy/erino-backend/core/schema"
)

const schemaVersion = 1

// uniqueViolation is the postgres error code for a unique constraint violation
const uniqueViolation = "23505"

const defaultTokenValidity = 24 * time.Hour

const credentialsSchemaID = "https://erino.io/schemas/credentials.json"

const credentialsSchemaString = `{
	"$id": "https://erino.io/schemas/credentials.json",
	"type": "object",
	"required": ["email", "password"],
	"properties": {
		"email": { "type": "string", "minLength": 1 },
		"password": { "type": "string", "minLength": 1 }
	}
}`

// Account is a user account. The password hash never leaves the package.
type Account struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type credentialsRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// sessionResponse is the body of a successful register or login. The token
// is also set as session cookie for browser clients.
type sessionResponse struct {
	User  Account `json:"user"`
	Token string  `json:"token"`
}

// Backend is the account rest backend
type Backend struct {
	db            *csql.DB
	jwtSecret     string
	tokenValidity time.Duration
	validator     *schema.Validator
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// JwtSecret is the HS256 signing secret for session tokens.
	// This is mandatory.
	JwtSecret string
	// TokenValidity is the lifetime of issued session tokens.
	// Optional, default is 24h.
	TokenValidity time.Duration
}

// MustNew realizes the account backend. It creates the users relation (if it
// does not exist) and adds the /auth routes to the router.
func MustNew(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if len(bb.JwtSecret) == 0 {
		panic("JwtSecret is missing")
	}

	validator, err := schema.NewValidator([]string{credentialsSchemaString})
	if err != nil {
		panic(err)
	}

	b := &Backend{
		db:            bb.DB,
		jwtSecret:     bb.JwtSecret,
		tokenValidity: bb.TokenValidity,
		validator:     validator,
	}
	if b.tokenValidity == 0 {
		b.tokenValidity = defaultTokenValidity
	}

	b.createRelations()
	b.handleRoutes(bb.Router)
	return b
}

func (b *Backend) createRelations() {
	accessor := registry.New(b.db).Accessor("_schema_")
	var version int
	if _, err := accessor.Read("account", &version); err == nil && version == schemaVersion {
		return
	}

	_, err := b.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.users (
id SERIAL PRIMARY KEY,
email varchar NOT NULL UNIQUE,
password_hash varchar NOT NULL,
first_name varchar NOT NULL DEFAULT '',
last_name varchar NOT NULL DEFAULT '',
created_at timestamptz NOT NULL DEFAULT now(),
updated_at timestamptz NOT NULL DEFAULT now()
);`, b.db.Schema))
	if err != nil {
		panic(err)
	}
	version = schemaVersion
	if err := accessor.Write("account", version); err != nil {
		panic(err)
	}
}

func (b *Backend) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("account")
	rlog.Debugln("  handle route: /auth/register POST")
	rlog.Debugln("  handle route: /auth/login POST")
	rlog.Debugln("  handle route: /auth/logout POST")
	rlog.Debugln("  handle route: /auth/current GET")

	router.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		b.register(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		b.login(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		b.logout(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/auth/current", func(w http.ResponseWriter, r *http.Request) {
		b.current(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	jsonData, _ := json.MarshalWithOption(body, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

func (b *Backend) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	request := credentialsRequest{}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body: "+err.Error(), http.StatusBadRequest)
		return request, false
	}
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
		return request, false
	}
	if err := b.validator.ValidateString(string(body), credentialsSchemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return request, false
	}
	return request, true
}

// session issues a token for the account and sets it as session cookie
func (b *Backend) session(w http.ResponseWriter, user Account) (sessionResponse, error) {
	token, err := access.NewToken(b.jwtSecret, user.ID, user.Email, b.tokenValidity)
	if err != nil {
		return sessionResponse{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     access.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(b.tokenValidity),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionResponse{User: user, Token: token}, nil
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	request, ok := b.decodeCredentials(w, r)
	if !ok {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4731: cannot hash password")
		http.Error(w, "Error 4731", http.StatusInternalServerError)
		return
	}

	insertQuery := fmt.Sprintf(`INSERT INTO %s.users (email, password_hash, first_name, last_name)
VALUES($1,$2,$3,$4)
RETURNING id, created_at, updated_at;`, b.db.Schema)

	user := Account{Email: request.Email, FirstName: request.FirstName, LastName: request.LastName}
	err = b.db.QueryRow(insertQuery, user.Email, string(hash), user.FirstName, user.LastName).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		http.Error(w, "email already exists", http.StatusBadRequest)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4732: cannot insert user")
		http.Error(w, "Error 4732", http.StatusInternalServerError)
		return
	}

	response, err := b.session(w, user)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4733: cannot issue token")
		http.Error(w, "Error 4733", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, response)
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	request, ok := b.decodeCredentials(w, r)
	if !ok {
		return
	}

	selectQuery := fmt.Sprintf(`SELECT id, email, password_hash, first_name, last_name, created_at, updated_at
FROM %s.users WHERE email=$1;`, b.db.Schema)

	var user Account
	var hash string
	err := b.db.QueryRow(selectQuery, request.Email).Scan(&user.ID, &user.Email, &hash,
		&user.FirstName, &user.LastName, &user.CreatedAt, &user.UpdatedAt)
	if err == csql.ErrNoRows {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4734: cannot read user")
		http.Error(w, "Error 4734", http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(request.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	response, err := b.session(w, user)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4733: cannot issue token")
		http.Error(w, "Error 4733", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     access.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (b *Backend) current(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}
	rlog := logger.FromContext(r.Context())

	selectQuery := fmt.Sprintf(`SELECT id, email, first_name, last_name, created_at, updated_at
FROM %s.users WHERE id=$1;`, b.db.Schema)

	var user Account
	err := b.db.QueryRow(selectQuery, auth.UserID).Scan(&user.ID, &user.Email,
		&user.FirstName, &user.LastName, &user.CreatedAt, &user.UpdatedAt)
	if err == csql.ErrNoRows {
		http.Error(w, "no account for "+auth.Email, http.StatusUnauthorized)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4735: cannot read user")
		http.Error(w, "Error 4735", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
