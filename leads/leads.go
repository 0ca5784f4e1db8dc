/*
Package leads implements the per-user leads collection: a paged and
filterable list, fetch-by-id, create, update and delete, all scoped to the
authenticated owner.
*/
package leads

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/chandankrroy/erino-backend/core"
	"github.com/chandankrroy/erino-backend/core/access"
	"github.com/chandankrroy/erino-backend/core/csql"
	"github.com/chandankrroy/erino-backend/core/logger"
	"github.com/chandankrroy/erino-backend/core/schema"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// uniqueViolation is the postgres error code for a unique constraint violation
const uniqueViolation = "23505"

const leadSchemaID = "https://erino.io/schemas/lead.json"

// the payload schema only enforces presence of the required fields; enum and
// range looseness is handled by the model defaults
const leadSchemaString = `{
	"$id": "https://erino.io/schemas/lead.json",
	"type": "object",
	"required": ["first_name", "last_name", "email"],
	"properties": {
		"first_name": { "type": "string", "minLength": 1 },
		"last_name": { "type": "string", "minLength": 1 },
		"email": { "type": "string", "minLength": 1 }
	}
}`

// Backend is the leads rest backend
type Backend struct {
	db        *csql.DB
	router    *mux.Router
	notifier  core.Notifier
	validator *schema.Validator

	readQuery string
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory. The users relation must
	// exist; the account package creates it.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives notifications for create, update and delete.
	// This is optional.
	Notifier core.Notifier
}

// MustNew realizes the leads backend. It creates the sql relations (if they
// do not exist) and adds the /leads routes to the router.
func MustNew(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	validator, err := schema.NewValidator([]string{leadSchemaString})
	if err != nil {
		panic(err)
	}

	b := &Backend{
		db:        bb.DB,
		router:    bb.Router,
		notifier:  bb.Notifier,
		validator: validator,
	}
	b.readQuery = fmt.Sprintf(`SELECT id, user_id, first_name, last_name, email, phone, company, city, state,
source, status, score, lead_value, last_activity_at, is_qualified, created_at, updated_at FROM %s.leads `,
		b.db.Schema)

	b.createRelations()
	b.handleRoutes(bb.Router)
	return b
}

func (b *Backend) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("leads")
	rlog.Debugln("  handle route: /leads GET POST")
	rlog.Debugln("  handle route: /leads/{lead_id} GET PUT DELETE")

	router.HandleFunc("/leads", func(w http.ResponseWriter, r *http.Request) {
		b.listWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/leads", func(w http.ResponseWriter, r *http.Request) {
		b.createWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/leads/{lead_id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		b.readWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/leads/{lead_id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		b.updateWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/leads/{lead_id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		b.deleteWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

// authorized returns the authorization from the request context, or answers
// the request with 401 and returns nil.
func authorized(w http.ResponseWriter, r *http.Request) *access.Authorization {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return nil
	}
	return auth
}

func (b *Backend) notify(operation core.Operation, payload interface{}) {
	if b.notifier == nil {
		return
	}
	data, _ := json.MarshalWithOption(payload, json.DisableHTMLEscape())
	b.notifier.Notify("lead", operation, data)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	jsonData, _ := json.MarshalWithOption(body, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// pagination is the legacy pagination object of the response envelope
type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// listResponse carries the lead page in both envelope shapes, the modern
// flat one and the legacy leads/pagination one an older client still reads.
type listResponse struct {
	Data       []Lead     `json:"data"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Total      int        `json:"total"`
	TotalPages int        `json:"totalPages"`
	Leads      []Lead     `json:"leads"`
	Pagination pagination `json:"pagination"`
}

func (b *Backend) listWithAuth(w http.ResponseWriter, r *http.Request) {
	auth := authorized(w, r)
	if auth == nil {
		return
	}
	rlog := logger.FromContext(r.Context())

	limit := defaultLimit
	page := 1
	parameters := map[string]string{}
	for key, array := range r.URL.Query() {
		value := array[0]
		// malformed paging values are coerced to their defaults, the
		// same looseness the filter builder applies
		switch key {
		case "limit":
			if l, err := strconv.Atoi(value); err == nil && l >= 1 && l <= maxLimit {
				limit = l
			}
		case "page":
			if p, err := strconv.Atoi(value); err == nil && p >= 1 {
				page = p
			}
		default:
			parameters[key] = value
		}
	}

	where, queryParameters := BuildFilter(parameters, auth.UserID)

	countQuery := fmt.Sprintf("SELECT count(*) FROM %s.leads ", b.db.Schema) + where
	var total int
	err := b.db.QueryRow(countQuery, queryParameters...).Scan(&total)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4711: cannot execute query `%s` %v", countQuery, queryParameters)
		http.Error(w, "Error 4711", http.StatusInternalServerError)
		return
	}

	sqlQuery := b.readQuery + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
			len(queryParameters)+1, len(queryParameters)+2)
	queryParameters = append(queryParameters, limit, (page-1)*limit)

	rows, err := b.db.Query(sqlQuery, queryParameters...)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4712: cannot execute query `%s` %v", sqlQuery, queryParameters)
		http.Error(w, "Error 4712", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	response := listResponse{Data: []Lead{}, Page: page, Limit: limit, Total: total}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4713: cannot scan values")
			http.Error(w, "Error 4713", http.StatusInternalServerError)
			return
		}
		response.Data = append(response.Data, lead)
	}
	response.TotalPages = (total + limit - 1) / limit
	response.Leads = response.Data
	response.Pagination = pagination{Page: page, Limit: limit, Total: total, TotalPages: response.TotalPages}

	w.Header().Set("Pagination-Limit", strconv.Itoa(limit))
	w.Header().Set("Pagination-Total-Count", strconv.Itoa(total))
	w.Header().Set("Pagination-Page-Count", strconv.Itoa(response.TotalPages))
	w.Header().Set("Pagination-Current-Page", strconv.Itoa(page))
	writeJSON(w, http.StatusOK, response)
}

func (b *Backend) readWithAuth(w http.ResponseWriter, r *http.Request) {
	auth := authorized(w, r)
	if auth == nil {
		return
	}
	rlog := logger.FromContext(r.Context())
	leadID, _ := strconv.ParseInt(mux.Vars(r)["lead_id"], 10, 64)

	lead, err := b.readLead(leadID, auth.UserID)
	if err == csql.ErrNoRows {
		http.Error(w, "no such lead", http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4714: cannot read lead %d", leadID)
		http.Error(w, "Error 4714", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (b *Backend) createWithAuth(w http.ResponseWriter, r *http.Request) {
	auth := authorized(w, r)
	if auth == nil {
		return
	}
	rlog := logger.FromContext(r.Context())

	request, ok := b.decodeAndValidate(w, r)
	if !ok {
		return
	}
	lead := request.lead(auth.UserID)

	insertQuery := fmt.Sprintf(`INSERT INTO %s.leads
(user_id, first_name, last_name, email, phone, company, city, state, source, status, score, lead_value, last_activity_at, is_qualified)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id, created_at, updated_at;`, b.db.Schema)

	err := b.db.QueryRow(insertQuery,
		lead.UserID, lead.FirstName, lead.LastName, lead.Email, lead.Phone, lead.Company,
		lead.City, lead.State, lead.Source, lead.Status, lead.Score, lead.LeadValue,
		lead.LastActivityAt, lead.IsQualified,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		http.Error(w, "email already exists", http.StatusBadRequest)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4715: cannot insert lead")
		http.Error(w, "Error 4715", http.StatusInternalServerError)
		return
	}

	b.notify(core.OperationCreate, lead)
	writeJSON(w, http.StatusCreated, lead)
}

func (b *Backend) updateWithAuth(w http.ResponseWriter, r *http.Request) {
	auth := authorized(w, r)
	if auth == nil {
		return
	}
	rlog := logger.FromContext(r.Context())
	leadID, _ := strconv.ParseInt(mux.Vars(r)["lead_id"], 10, 64)

	request, ok := b.decodeAndValidate(w, r)
	if !ok {
		return
	}
	lead := request.lead(auth.UserID)
	lead.ID = leadID

	// full-field replacement, last write wins
	updateQuery := fmt.Sprintf(`UPDATE %s.leads SET
first_name=$3, last_name=$4, email=$5, phone=$6, company=$7, city=$8, state=$9,
source=$10, status=$11, score=$12, lead_value=$13, last_activity_at=$14, is_qualified=$15, updated_at=now()
WHERE id=$1 AND user_id=$2
RETURNING created_at, updated_at;`, b.db.Schema)

	err := b.db.QueryRow(updateQuery,
		lead.ID, lead.UserID, lead.FirstName, lead.LastName, lead.Email, lead.Phone,
		lead.Company, lead.City, lead.State, lead.Source, lead.Status, lead.Score,
		lead.LeadValue, lead.LastActivityAt, lead.IsQualified,
	).Scan(&lead.CreatedAt, &lead.UpdatedAt)
	if err == csql.ErrNoRows {
		http.Error(w, "no such lead", http.StatusNotFound)
		return
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		http.Error(w, "email already exists", http.StatusBadRequest)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4716: cannot update lead %d", leadID)
		http.Error(w, "Error 4716", http.StatusInternalServerError)
		return
	}

	b.notify(core.OperationUpdate, lead)
	writeJSON(w, http.StatusOK, lead)
}

func (b *Backend) deleteWithAuth(w http.ResponseWriter, r *http.Request) {
	auth := authorized(w, r)
	if auth == nil {
		return
	}
	rlog := logger.FromContext(r.Context())
	leadID, _ := strconv.ParseInt(mux.Vars(r)["lead_id"], 10, 64)

	deleteQuery := fmt.Sprintf("DELETE FROM %s.leads WHERE id=$1 AND user_id=$2 RETURNING id;", b.db.Schema)
	var deletedID int64
	err := b.db.QueryRow(deleteQuery, leadID, auth.UserID).Scan(&deletedID)
	if err == csql.ErrNoRows {
		http.Error(w, "no such lead", http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4717: cannot delete lead %d", leadID)
		http.Error(w, "Error 4717", http.StatusInternalServerError)
		return
	}

	b.notify(core.OperationDelete, map[string]interface{}{"id": deletedID, "user_id": auth.UserID})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Lead deleted successfully"})
}

// decodeAndValidate reads the request body, validates it against the lead
// payload schema and decodes it. On failure it answers the request with 400
// and returns false.
func (b *Backend) decodeAndValidate(w http.ResponseWriter, r *http.Request) (leadRequest, bool) {
	request := leadRequest{}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body: "+err.Error(), http.StatusBadRequest)
		return request, false
	}
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
		return request, false
	}
	if err := b.validator.ValidateString(string(body), leadSchemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return request, false
	}
	return request, true
}

func (b *Backend) readLead(leadID, userID int64) (Lead, error) {
	query := b.readQuery + "WHERE id=$1 AND user_id=$2;"
	return scanLead(b.db.QueryRow(query, leadID, userID))
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row scanner) (Lead, error) {
	var lead Lead
	var lastActivityAt sql.NullTime
	err := row.Scan(&lead.ID, &lead.UserID, &lead.FirstName, &lead.LastName, &lead.Email,
		&lead.Phone, &lead.Company, &lead.City, &lead.State, &lead.Source, &lead.Status,
		&lead.Score, &lead.LeadValue, &lastActivityAt, &lead.IsQualified,
		&lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return lead, err
	}
	if lastActivityAt.Valid {
		t := lastActivityAt.Time
		lead.LastActivityAt = &t
	}
	return lead, nil
}
