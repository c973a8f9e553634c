// Package api exposes the HTTP REST/JSON surface of the application and
// composes the store, cache, ledger, auth, OCR and image collaborators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xpense-app/xpense/auth"
	"github.com/xpense-app/xpense/cache"
	"github.com/xpense-app/xpense/config"
	"github.com/xpense-app/xpense/database"
	"github.com/xpense-app/xpense/images"
	"github.com/xpense-app/xpense/ledger"
	"github.com/xpense-app/xpense/money"
	"github.com/xpense-app/xpense/ocr"
)

// maxImageBytes caps uploaded bill images.
const maxImageBytes = 10 << 20

// Analyzer extracts expense fields from a bill image.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, contentType string) (ocr.Extraction, error)
}

// Options wires the API's collaborators. Analyzer, Images and ImageDir are
// optional; the corresponding endpoints degrade gracefully without them.
type Options struct {
	Store    database.Store
	Cache    cache.Cache
	JWT      *auth.JWTManager
	Config   *config.Config
	Analyzer Analyzer
	Images   images.Store
	ImageDir string
}

// API holds the handlers for the HTTP REST/JSON API.
type API struct {
	store    database.Store
	cache    cache.Cache
	jwt      *auth.JWTManager
	cfg      *config.Config
	analyzer Analyzer
	images   images.Store
	imageDir string
}

// New creates the API from its collaborators.
func New(opts Options) *API {
	return &API{
		store:    opts.Store,
		cache:    opts.Cache,
		jwt:      opts.JWT,
		cfg:      opts.Config,
		analyzer: opts.Analyzer,
		images:   opts.Images,
		imageDir: opts.ImageDir,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

var emailRegex = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+\\/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")

// writeJSON marshals data into a response with content-type application/json.
func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Encoding response failed", "error", err)
	}
}

// writeError writes a status code and error message.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{message})
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidExpense), errors.Is(err, money.ErrBadAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "expense not found")
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "only the creator may do that")
	case errors.Is(err, database.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, database.ErrUnavailable):
		slog.Error("Store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
	default:
		slog.Error("Unexpected error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Routes returns the full route table, auth applied where required.
func (api *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/signin", api.signin)
	mux.HandleFunc("POST /users", api.registerUser)
	mux.HandleFunc("GET /users", api.requireAuth(api.getUsers))

	mux.HandleFunc("GET /expenses", api.requireAuth(api.listExpenses))
	mux.HandleFunc("POST /expenses", api.requireAuth(api.createExpense))
	mux.HandleFunc("PUT /expenses/{id}", api.requireAuth(api.updateExpense))
	mux.HandleFunc("PUT /expenses/{id}/settle", api.requireAuth(api.settleExpense))
	mux.HandleFunc("DELETE /expenses/{id}", api.requireAuth(api.deleteExpense))

	mux.HandleFunc("GET /balance", api.requireAuth(api.getBalance))
	mux.HandleFunc("POST /analyze", api.requireAuth(api.analyze))

	mux.HandleFunc("GET /healthz", api.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	if api.imageDir != "" {
		mux.Handle("GET /images/", http.StripPrefix("/images/",
			http.FileServer(http.Dir(api.imageDir))))
	}

	return mux
}

// Handler wraps the routes with the logging, CORS and metrics middleware.
func (api *API) Handler() http.Handler {
	return loggingMiddleware(corsMiddleware(metricsMiddleware(api.Routes())))
}

// signin authenticates a user and sets the JWT session cookie. Only
// allow-listed participants may sign in.
func (api *API) signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	if !api.cfg.IsParticipant(req.Username) {
		writeError(w, http.StatusUnauthorized, "You are not part of the flat. Access denied.")
		return
	}

	user, err := api.store.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound), errors.Is(err, database.ErrPasswordMismatch):
			slog.Info("Authentication failed", "username", req.Username)
			writeError(w, http.StatusUnauthorized, "authorization failed")
		default:
			writeDomainError(w, err)
		}
		return
	}

	cookie, err := api.jwt.CreateCookie(user.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	http.SetCookie(w, &cookie)
	writeJSON(w, http.StatusOK, user)
}

// registerUser is the registration endpoint. A 409 is returned if the
// username or email is already taken.
func (api *API) registerUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username must not be empty")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "invalid password: it must be at least 6 characters")
		return
	}
	if !isEmailValid(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	slog.Info("Adding user", "username", req.Username, "email", req.Email)
	user, err := api.store.CreateUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			writeError(w, http.StatusConflict, "a user with that username or email already exists")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// isEmailValid checks if the email provided passes the required structure and
// length.
func isEmailValid(e string) bool {
	if len(e) < 3 || len(e) > 254 {
		return false
	}
	return emailRegex.MatchString(e)
}

// getUsers returns all registered users.
func (api *API) getUsers(w http.ResponseWriter, r *http.Request, _ string) {
	users, err := api.store.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]database.User{"users": users})
}

// listExpenses returns the caller's expenses, newest first.
func (api *API) listExpenses(w http.ResponseWriter, r *http.Request, username string) {
	expenses, err := api.listExpensesForUser(r.Context(), username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// createExpense validates the form, optionally stores the bill image and
// pre-fills missing fields via OCR, then persists the expense.
func (api *API) createExpense(w http.ResponseWriter, r *http.Request, username string) {
	title := r.FormValue("title")
	amountStr := r.FormValue("amount")
	description := r.FormValue("description")
	category := r.FormValue("category")
	splitType := r.FormValue("split_type")

	billImageURL := ""
	imageData, imageType, err := api.readBillImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if imageData != nil {
		if api.images != nil {
			url, err := api.images.Save(imageData, imageType)
			if err != nil {
				slog.Error("Storing bill image failed", "error", err)
				writeError(w, http.StatusInternalServerError, "unable to store bill image")
				return
			}
			billImageURL = url
		}

		// OCR only fills the gaps; explicit form values always win.
		if api.analyzer != nil && (amountStr == "" || title == "") {
			extraction, err := api.analyzer.Analyze(r.Context(), imageData, imageType)
			if err != nil {
				slog.Warn("Bill analysis failed", "error", err)
			} else {
				if amountStr == "" {
					amountStr = extraction.Amount.String()
				}
				if title == "" {
					title = extraction.Title
				}
				if category == "" {
					category = string(extraction.Category)
				}
				if description == "" {
					description = extraction.Description
				}
			}
		}
	}

	if title == "" {
		writeError(w, http.StatusBadRequest, "title must not be empty")
		return
	}
	amount, err := money.Parse(amountStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to parse amount")
		return
	}
	if category == "" {
		category = string(ledger.CategoryOther)
	}
	if !ledger.Category(category).Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category '%s'", category))
		return
	}
	if splitType == "" {
		splitType = ledger.SplitEqual
	}
	if splitType != ledger.SplitEqual {
		writeError(w, http.StatusBadRequest, "only equal splits are supported")
		return
	}

	participants, err := api.resolveParticipants(r.Form["participants"], username)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	expense := &ledger.Expense{
		Title:        title,
		Description:  description,
		Amount:       amount,
		Category:     ledger.Category(category),
		SplitType:    splitType,
		Creator:      username,
		Participants: participants,
		BillImageURL: billImageURL,
	}
	if err := expense.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := api.store.CreateExpense(r.Context(), expense); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("Expense created", "id", expense.ID, "creator", username,
		"amount", expense.Amount.String(), "participants", expense.Participants)
	api.invalidateBalances(r.Context())

	writeJSON(w, http.StatusCreated, expense)
}

// updateExpense patches an existing expense. Only fields present in the form
// are changed.
func (api *API) updateExpense(w http.ResponseWriter, r *http.Request, username string) {
	id, err := expenseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expense id")
		return
	}

	if err := r.ParseMultipartForm(maxImageBytes); err != nil && err != http.ErrNotMultipart {
		writeError(w, http.StatusBadRequest, "unable to parse form")
		return
	}

	patch := database.ExpensePatch{}
	if v, ok := formField(r, "title"); ok {
		if v == "" {
			writeError(w, http.StatusBadRequest, "title must not be empty")
			return
		}
		patch.Title = &v
	}
	if v, ok := formField(r, "description"); ok {
		patch.Description = &v
	}
	if v, ok := formField(r, "amount"); ok {
		amount, err := money.Parse(v)
		if err != nil || amount <= 0 {
			writeError(w, http.StatusBadRequest, "unable to parse amount")
			return
		}
		patch.Amount = &amount
	}
	if v, ok := formField(r, "category"); ok {
		category := ledger.Category(v)
		if !category.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category '%s'", v))
			return
		}
		patch.Category = &category
	}
	if values, ok := r.Form["participants"]; ok {
		participants, err := api.resolveParticipants(values, username)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		patch.Participants = participants
	}

	expense, err := api.store.UpdateExpense(r.Context(), id, username, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("Expense updated", "id", id, "creator", username)
	api.invalidateBalances(r.Context())
	writeJSON(w, http.StatusOK, expense)
}

// settleExpense marks an expense settled. Only the creator may settle, and
// settling never changes balances.
func (api *API) settleExpense(w http.ResponseWriter, r *http.Request, username string) {
	id, err := expenseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expense id")
		return
	}

	expense, err := api.store.GetExpense(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := ledger.MarkSettled(expense, username); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := api.store.SetSettled(r.Context(), id, true); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("Expense settled", "id", id, "creator", username)
	writeJSON(w, http.StatusOK, expense)
}

// deleteExpense removes an expense permanently.
func (api *API) deleteExpense(w http.ResponseWriter, r *http.Request, username string) {
	id, err := expenseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expense id")
		return
	}

	if err := api.store.DeleteExpense(r.Context(), id, username); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("Expense deleted", "id", id, "creator", username)
	api.invalidateBalances(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// getBalance returns the caller's balance view.
func (api *API) getBalance(w http.ResponseWriter, r *http.Request, username string) {
	balance, err := api.getBalanceForUser(r.Context(), username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// analyze runs a bill image through the OCR collaborator without creating an
// expense.
func (api *API) analyze(w http.ResponseWriter, r *http.Request, _ string) {
	if api.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "bill analysis is not configured")
		return
	}

	imageData, imageType, err := api.readBillImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if imageData == nil {
		writeError(w, http.StatusBadRequest, "no valid file provided")
		return
	}

	extraction, err := api.analyzer.Analyze(r.Context(), imageData, imageType)
	if err != nil {
		slog.Warn("Bill analysis failed", "error", err)
		writeError(w, http.StatusBadGateway, "unable to analyze bill")
		return
	}
	writeJSON(w, http.StatusOK, extraction)
}

// health is the liveness endpoint.
func (api *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Xpense API is running"})
}

// listExpensesForUser is the read side of the query facade.
func (api *API) listExpensesForUser(ctx context.Context, username string) ([]ledger.Expense, error) {
	return api.store.ListExpenses(ctx, username)
}

// getBalanceForUser recomputes the balance view from the whole shared expense
// history, going through the cache. Cache failures degrade to recomputation.
func (api *API) getBalanceForUser(ctx context.Context, username string) (ledger.BalanceView, error) {
	if balance, ok, err := api.cache.GetBalance(ctx, username); err != nil {
		slog.Warn("Balance cache read failed", "error", err)
	} else if ok {
		return balance, nil
	}

	expenses, err := api.store.AllExpenses(ctx)
	if err != nil {
		return ledger.BalanceView{}, err
	}
	balance, err := ledger.ComputeBalances(expenses, username)
	if err != nil {
		return ledger.BalanceView{}, err
	}

	if err := api.cache.SetBalance(ctx, username, balance); err != nil {
		slog.Warn("Balance cache write failed", "error", err)
	}
	return balance, nil
}

// invalidateBalances drops every participant's cached balance. Any expense
// mutation can move any participant's totals under pooled netting.
func (api *API) invalidateBalances(ctx context.Context) {
	if err := api.cache.Invalidate(ctx, api.cfg.Participants...); err != nil {
		slog.Warn("Balance cache invalidation failed", "error", err)
	}
}

// resolveParticipants validates the requested participant set against the
// allow-list, deduplicates it and makes sure the creator shares the cost.
// An empty request means the whole configured group.
func (api *API) resolveParticipants(requested []string, creator string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), api.cfg.Participants...), nil
	}

	seen := make(map[string]bool, len(requested))
	participants := make([]string, 0, len(requested)+1)
	for _, p := range requested {
		if !api.cfg.IsParticipant(p) {
			return nil, fmt.Errorf("unknown participant '%s'", p)
		}
		if seen[p] {
			return nil, fmt.Errorf("duplicate participant '%s'", p)
		}
		seen[p] = true
		participants = append(participants, p)
	}
	if !seen[creator] {
		participants = append(participants, creator)
	}
	return participants, nil
}

// readBillImage extracts the optional bill image from the multipart form.
// Returns nil data when no file was uploaded.
func (api *API) readBillImage(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("bill_image")
	if err == http.ErrMissingFile || err == http.ErrNotMultipart {
		// Also accept the field name the standalone analyze endpoint uses.
		file, header, err = r.FormFile("file")
	}
	if err == http.ErrMissingFile || err == http.ErrNotMultipart {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", errors.New("no valid file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, "", errors.New("unable to read uploaded file")
	}
	if len(data) > maxImageBytes {
		return nil, "", errors.New("uploaded file is too large")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func expenseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// formField distinguishes an absent form field from an empty one, so PUT
// patches only what the client sent.
func formField(r *http.Request, name string) (string, bool) {
	values, ok := r.Form[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}
