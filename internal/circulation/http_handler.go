package circulation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"circulationapi/internal/access"
	"circulationapi/internal/auth"
	"circulationapi/internal/entity"
	"circulationapi/internal/httpx"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

type HTTPHandler struct {
	service   *Service
	jwtSecret string
	tokenTTL  time.Duration
	logger    zerolog.Logger
}

func NewHTTPHandler(service *Service, jwtSecret string, tokenTTL time.Duration, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{service: service, jwtSecret: jwtSecret, tokenTTL: tokenTTL, logger: logger}
}

// writeError maps service errors onto the JSON error envelope.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, entity.ErrConflict):
		httpx.JSONError(w, r, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, entity.ErrForbidden):
		httpx.JSONError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, entity.ErrOutOfStock):
		httpx.JSONError(w, r, http.StatusConflict, "OUT_OF_STOCK", err.Error(), nil)
	case errors.Is(err, entity.ErrAlreadyBorrowed):
		httpx.JSONError(w, r, http.StatusConflict, "ALREADY_BORROWED", err.Error(), nil)
	case errors.Is(err, entity.ErrLimitReached):
		httpx.JSONError(w, r, http.StatusConflict, "LIMIT_REACHED", err.Error(), nil)
	case errors.Is(err, entity.ErrUnauthorized):
		httpx.JSONError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
	case errors.Is(err, entity.ErrInvalidInput):
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		h.logger.Error().Err(err).Str("request_id", httpx.RequestIDFrom(r)).Str("path", r.URL.Path).Msg("request failed")
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}

// decode reads and validates the request body. It writes the error response
// itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return false
	}
	if details := httpx.ValidateStruct(dst); len(details) > 0 {
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", details)
		return false
	}
	return true
}

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/login
// @Summary Log in
// @Description Check credentials and issue a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body loginReq true "Credentials"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 401 {object} httpx.ErrorResponse
// @Router /api/login [post]
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if !decode(w, r, &req) {
		return
	}

	p, err := h.service.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, _, err := auth.GenerateToken(h.jwtSecret, p.Username, string(p.Role), h.tokenTTL)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("generate token: %w", err))
		return
	}

	httpx.JSONSuccess(w, r, map[string]any{
		"username":   p.Username,
		"userType":   p.Role,
		"token":      token,
		"expires_in": int(h.tokenTTL.Seconds()),
	}, nil)
}

type registerReq struct {
	Username string `json:"username" validate:"required,min=1,max=64,username"`
	Password string `json:"password" validate:"required,min=1,max=72"`
	UserType string `json:"userType"`
}

// Register handles POST /api/register
// @Summary Register an account
// @Description Create a member or administrator account (administrators only)
// @Tags accounts
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body registerReq true "Registration request"
// @Success 201 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /api/register [post]
func (h *HTTPHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decode(w, r, &req) {
		return
	}
	role, ok := entity.ParseRole(req.UserType)
	if !ok {
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", []httpx.ErrorDetail{
			{Field: "userType", Message: "userType must be one of: MEMBER ADMIN"},
		})
		return
	}

	a, err := h.service.Register(r.Context(), httpx.UsernameFrom(r), req.Username, req.Password, role)
	if errors.Is(err, entity.ErrConflict) {
		httpx.JSONError(w, r, http.StatusConflict, "CONFLICT", "User already exists", nil)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpx.JSONSuccessCreated(w, r, map[string]any{
		"message":  "User registered successfully",
		"username": a.Username,
		"userType": a.Role,
	})
}

type bookResp struct {
	Title       string            `json:"title"`
	Author      string            `json:"author"`
	Type        string            `json:"type"`
	Category    string            `json:"category"`
	Copies      int               `json:"copies"`
	CopiesTotal int               `json:"copiesTotal"`
	Owner       string            `json:"owner"`
	Visibility  entity.Visibility `json:"visibility"`
}

func toBookResp(b entity.Book) bookResp {
	owner := b.Owner
	if owner == "" {
		owner = "System"
	}
	return bookResp{
		Title:       b.Title,
		Author:      b.Author,
		Type:        b.Type,
		Category:    b.Category,
		Copies:      b.CopiesAvailable,
		CopiesTotal: b.CopiesTotal,
		Owner:       owner,
		Visibility:  b.Visibility,
	}
}

// ListBooks handles GET /api/books
// @Summary List the catalog
// @Description Books visible to the caller, sorted by title. Anonymous callers see public titles only.
// @Tags books
// @Produce json
// @Success 200 {object} httpx.SuccessResponse
// @Router /api/books [get]
func (h *HTTPHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListCatalog(r.Context(), httpx.UsernameFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]bookResp, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResp(b))
	}
	httpx.JSONSuccess(w, r, out, map[string]interface{}{"total": len(out)})
}

type addBookReq struct {
	Title      string  `json:"title" validate:"notblank,max=255"`
	Author     string  `json:"author" validate:"max=255"`
	Copies     int     `json:"copies" validate:"gte=0"`
	Type       string  `json:"type" validate:"max=64"`
	Category   string  `json:"category" validate:"max=64"`
	Owner      *string `json:"owner"`
	Visibility string  `json:"visibility"`
}

// AddBook handles POST /api/books
// @Summary Add a book
// @Description Add a title to the catalog. The caller owns it unless an administrator names another owner.
// @Tags books
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body addBookReq true "Book"
// @Success 201 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /api/books [post]
func (h *HTTPHandler) AddBook(w http.ResponseWriter, r *http.Request) {
	var req addBookReq
	if !decode(w, r, &req) {
		return
	}

	b, err := h.service.AddBook(r.Context(), httpx.UsernameFrom(r), NewBook{
		Title:      req.Title,
		Author:     req.Author,
		Copies:     req.Copies,
		Type:       req.Type,
		Category:   req.Category,
		Owner:      req.Owner,
		Visibility: strings.ToUpper(strings.TrimSpace(req.Visibility)),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccessCreated(w, r, toBookResp(b))
}

type accountResp struct {
	UserType      entity.Role       `json:"userType"`
	BorrowedBooks []string          `json:"borrowedBooks"`
	DueDates      map[string]string `json:"dueDates"`
	BorrowDates   map[string]string `json:"borrowDates"`
	Favourites    []string          `json:"favourites"`
	TotalFine     entity.Money      `json:"totalFine"`
}

func toAccountResp(a entity.Account) accountResp {
	resp := accountResp{
		UserType:      a.Role,
		BorrowedBooks: a.BorrowedTitles(),
		DueDates:      make(map[string]string, len(a.ActiveLoans)),
		BorrowDates:   make(map[string]string, len(a.ActiveLoans)),
		Favourites:    a.FavouriteTitles(),
		TotalFine:     a.TotalFine,
	}
	for title, loan := range a.ActiveLoans {
		resp.DueDates[title] = loan.DueOn.Format(dateLayout)
		resp.BorrowDates[title] = loan.BorrowedOn.Format(dateLayout)
	}
	return resp
}

// ListUsers handles GET /api/users
// @Summary List accounts
// @Description Every account keyed by username (administrators), or a single account with ?username=
// @Tags accounts
// @Produce json
// @Security Bearer
// @Param username query string false "Only this account"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /api/users [get]
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor := httpx.UsernameFrom(r)

	var accounts []entity.Account
	if username := strings.TrimSpace(r.URL.Query().Get("username")); username != "" {
		a, err := h.service.GetAccount(r.Context(), actor, username)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		accounts = []entity.Account{a}
	} else {
		var err error
		accounts, err = h.service.ListAccounts(r.Context(), actor)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	out := make(map[string]accountResp, len(accounts))
	for _, a := range accounts {
		out[a.Username] = toAccountResp(a)
	}
	httpx.JSONSuccess(w, r, out, map[string]interface{}{"total": len(out)})
}

// History handles GET /api/users/{username}/history
// @Summary Circulation history
// @Description Borrow and return events of one account, oldest first
// @Tags accounts
// @Produce json
// @Security Bearer
// @Param username path string true "Username"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /api/users/{username}/history [get]
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	txs, err := h.service.History(r.Context(), httpx.UsernameFrom(r), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, txs, map[string]interface{}{"total": len(txs)})
}

type loanReq struct {
	Username  string `json:"username"`
	BookTitle string `json:"bookTitle" validate:"notblank"`
}

// caller returns the identity a loan request acts for. The body may repeat
// the caller's username but never name someone else.
func (h *HTTPHandler) caller(w http.ResponseWriter, r *http.Request, req loanReq) (string, bool) {
	p := access.Principal{Username: httpx.UsernameFrom(r), Role: entity.Role(httpx.RoleFrom(r))}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = p.Username
	}
	if err := access.RequireSelf(p, username); err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return username, true
}

// Borrow handles POST /api/borrow
// @Summary Borrow a book
// @Tags circulation
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body loanReq true "Loan request"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /api/borrow [post]
func (h *HTTPHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req loanReq
	if !decode(w, r, &req) {
		return
	}
	username, ok := h.caller(w, r, req)
	if !ok {
		return
	}

	res, err := h.service.Borrow(r.Context(), username, strings.TrimSpace(req.BookTitle))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	due := res.DueOn.Format(dateLayout)
	httpx.JSONSuccess(w, r, map[string]any{
		"message":         "Book borrowed! Due date: " + due,
		"dueDate":         due,
		"copiesAvailable": res.CopiesAvailable,
	}, nil)
}

// Return handles POST /api/return
// @Summary Return a book
// @Tags circulation
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body loanReq true "Loan request"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /api/return [post]
func (h *HTTPHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req loanReq
	if !decode(w, r, &req) {
		return
	}
	username, ok := h.caller(w, r, req)
	if !ok {
		return
	}

	res, err := h.service.Return(r.Context(), username, strings.TrimSpace(req.BookTitle))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Book returned successfully."
	if res.Fine > 0 {
		message = "Book returned. Fine incurred: $" + res.Fine.String()
	}
	httpx.JSONSuccess(w, r, map[string]any{
		"message":     message,
		"fine":        res.Fine,
		"daysOverdue": res.DaysOverdue,
		"totalFine":   res.TotalFine,
	}, nil)
}

// ToggleFavorite handles POST /api/favorites
// @Summary Toggle a favourite
// @Tags circulation
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body loanReq true "Favourite request"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /api/favorites [post]
func (h *HTTPHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req loanReq
	if !decode(w, r, &req) {
		return
	}
	username, ok := h.caller(w, r, req)
	if !ok {
		return
	}

	title := strings.TrimSpace(req.BookTitle)
	favourite, err := h.service.ToggleFavorite(r.Context(), username, title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, map[string]any{
		"bookTitle": title,
		"favourite": favourite,
	}, nil)
}
