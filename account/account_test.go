package account_test

import (
	"net/http"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/assert"

	"github.com/chandankrroy/erino-backend/account"
	"github.com/chandankrroy/erino-backend/core/access"
	"github.com/chandankrroy/erino-backend/core/client"
	"github.com/chandankrroy/erino-backend/core/csql"
)

const jwtSecret = "unit-test-secret"

// TestService holds the configuration for this test
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type TestService struct {
	Postgres string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	client   client.Client
}

var testService TestService

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(testService.Postgres, "_account_unit_test_")
	defer db.Close()
	db.ClearSchema()

	router := mux.NewRouter()
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Secret: jwtSecret,
		DB:     db,
	}))
	account.MustNew(&account.Builder{
		DB:        db,
		Router:    router,
		JwtSecret: jwtSecret,
	})
	testService.client = client.NewWithRouter(router)

	code := m.Run()
	os.Exit(code)
}

type session struct {
	User  account.Account `json:"user"`
	Token string          `json:"token"`
}

func TestRegisterAndLogin(t *testing.T) {
	c := testService.client

	registered := session{}
	status, err := c.RawPost("/auth/register", map[string]string{
		"email":      "jane@example.com",
		"password":   "secret",
		"first_name": "Jane",
		"last_name":  "Doe",
	}, &registered)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, registered.User.ID > 0)
	assert.Equal(t, "jane@example.com", registered.User.Email)
	assert.Equal(t, "Jane", registered.User.FirstName)
	assert.NotEmpty(t, registered.Token)

	loggedIn := session{}
	status, err = c.RawPost("/auth/login", map[string]string{
		"email":    "jane@example.com",
		"password": "secret",
	}, &loggedIn)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)
	assert.NotEmpty(t, loggedIn.Token)

	// the token is good for the current-account lookup
	current := account.Account{}
	_, err = c.WithToken(loggedIn.Token).RawGet("/auth/current", &current)
	assert.NoError(t, err)
	assert.Equal(t, registered.User.ID, current.ID)
	assert.Equal(t, "Doe", current.LastName)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	c := testService.client

	credentials := map[string]string{
		"email":    "twice@example.com",
		"password": "secret",
	}
	status, err := c.RawPost("/auth/register", credentials, nil)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	status, _ = c.RawPost("/auth/register", credentials, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRegisterMissingFields(t *testing.T) {
	c := testService.client

	status, _ := c.RawPost("/auth/register", map[string]string{"email": "nopassword@example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = c.RawPost("/auth/register", map[string]string{"password": "secret"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	c := testService.client

	_, err := c.RawPost("/auth/register", map[string]string{
		"email":    "locked@example.com",
		"password": "secret",
	}, nil)
	assert.NoError(t, err)

	status, _ := c.RawPost("/auth/login", map[string]string{
		"email":    "locked@example.com",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = c.RawPost("/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "secret",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCurrentRequiresToken(t *testing.T) {
	c := testService.client

	status, _ := c.RawGet("/auth/current", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = c.WithToken("not-a-token").RawGet("/auth/current", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	expired, err := access.NewToken(jwtSecret, 1, "jane@example.com", -1)
	assert.NoError(t, err)
	status, _ = c.WithToken(expired).RawGet("/auth/current", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogout(t *testing.T) {
	c := testService.client

	var raw []byte
	status, err := c.RawPost("/auth/logout", nil, &raw)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "Logged out successfully")
}
