// Package rest exposes the licensing operations as a JSON HTTP API.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/logging"
	"github.com/dmitrijs2005/licensekeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type LicenseService interface {
	Register(ctx context.Context, username, password, fingerprint string) error
	Login(ctx context.Context, username, password, fingerprint string) (string, error)
	Authenticate(ctx context.Context, token string) (string, error)
	Profile(ctx context.Context, username, fingerprint string) (*services.Profile, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	Redeem(ctx context.Context, username, code string) (*services.Redemption, error)
	Logout(ctx context.Context, token string) error
}

type AdminService interface {
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, token string) error
	List(ctx context.Context) ([]*services.AccountView, error)
	Get(ctx context.Context, username string) (*services.AccountView, error)
	ExtendPaid(ctx context.Context, username string, days int) (*services.AccountView, error)
	SetPaidExact(ctx context.Context, username string, days int) (*services.AccountView, error)
	ResetPassword(ctx context.Context, username, newPassword string) error
	Rename(ctx context.Context, oldName, newName string) error
	Delete(ctx context.Context, username string) error
	Create(ctx context.Context, req services.CreateAccountRequest) (*services.AccountView, string, error)
	Backup(ctx context.Context) (string, error)
}

type Handler struct {
	license  LicenseService
	admin    AdminService
	validate *validator.Validate
	logger   logging.Logger
}

func NewHandler(ls LicenseService, as AdminService, l logging.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{license: ls, admin: as, validate: v, logger: l.With("module", "rest")}
}

type registerRequest struct {
	Username    string `json:"username" validate:"required,max=64"`
	Password    string `json:"password" validate:"required,max=256"`
	Fingerprint string `json:"fingerprint" validate:"required,max=256"`
}

type loginRequest = registerRequest

type changePasswordRequest struct {
	Old string `json:"old" validate:"required"`
	New string `json:"new" validate:"required,max=256"`
}

type redeemRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type adminLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type daysRequest struct {
	Days *int `json:"days" validate:"required"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,max=256"`
}

type renameRequest struct {
	NewUsername string `json:"new_username" validate:"required,max=64"`
}

type createRequest struct {
	Username       string `json:"username" validate:"required,max=64"`
	Password       string `json:"password" validate:"required,max=256"`
	PendingMachine string `json:"pending_machine,omitempty" validate:"max=256"`
	PaidDays       int    `json:"paid_days,omitempty" validate:"gte=0"`
}

type okResponse struct {
	OK        bool       `json:"ok"`
	Message   string     `json:"message,omitempty"`
	Token     string     `json:"token,omitempty"`
	PaidUntil *time.Time `json:"paid_until,omitempty"`
	Warning   string     `json:"warning,omitempty"`
	Key       string     `json:"key,omitempty"`
}

type profileResponse struct {
	OK        bool       `json:"ok"`
	Username  string     `json:"username"`
	Plan      string     `json:"plan"`
	DaysLeft  int        `json:"days_left"`
	PaidUntil *time.Time `json:"paid_until"`
}

type accountPayload struct {
	Plan           string               `json:"plan"`
	PaidUntil      *time.Time           `json:"paid_until"`
	DaysLeft       int                  `json:"days_left"`
	Machines       []string             `json:"machines"`
	MachineBoundAt map[string]time.Time `json:"machine_bound_at"`
	PendingMachine *string              `json:"pending_machine"`
	TrialEndsAt    *time.Time           `json:"trial_ends_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

type userResponse struct {
	OK       bool   `json:"ok"`
	Username string `json:"username"`
	accountPayload
}

type usersResponse struct {
	OK    bool                      `json:"ok"`
	Users map[string]accountPayload `json:"users"`
}

func toPayload(v *services.AccountView) accountPayload {
	p := accountPayload{
		Plan:           string(v.Plan),
		PaidUntil:      v.PaidUntil,
		DaysLeft:       v.DaysLeft,
		Machines:       v.Machines,
		MachineBoundAt: v.MachineBoundAt,
		TrialEndsAt:    v.TrialEndsAt,
		CreatedAt:      v.CreatedAt,
	}
	if v.PendingMachine != "" {
		pm := v.PendingMachine
		p.PendingMachine = &pm
	}
	return p
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body", common.ErrInvalidInput)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	render.Render(w, r, apiErr)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.license.Register(r.Context(), req.Username, req.Password, req.Fingerprint); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Message: "registered, log in from the same machine to start the trial"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.license.Login(r.Context(), req.Username, req.Password, req.Fingerprint)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Token: token})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.license.Profile(r.Context(), usernameFrom(r.Context()), r.Header.Get(common.MachineHeaderName))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, profileResponse{OK: true, Username: p.Username, Plan: string(p.Plan), DaysLeft: p.DaysLeft, PaidUntil: p.PaidUntil})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.license.ChangePassword(r.Context(), usernameFrom(r.Context()), req.Old, req.New); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Message: "password changed"})
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.license.Redeem(r.Context(), usernameFrom(r.Context()), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{
		OK:        true,
		Message:   fmt.Sprintf("added %d days, paid until %s", res.Days, res.PaidUntil.UTC().Format(time.RFC3339)),
		PaidUntil: &res.PaidUntil,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.license.Logout(r.Context(), bearerToken(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true})
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.admin.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Token: token})
}

func (h *Handler) AdminLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Logout(r.Context(), bearerToken(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	views, err := h.admin.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	users := make(map[string]accountPayload, len(views))
	for _, v := range views {
		users[v.Username] = toPayload(v)
	}
	render.JSON(w, r, usersResponse{OK: true, Users: users})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	v, err := h.admin.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, userResponse{OK: true, Username: v.Username, accountPayload: toPayload(v)})
}

func (h *Handler) SetPaid(w http.ResponseWriter, r *http.Request) {
	h.changePaid(w, r, h.admin.ExtendPaid, "extended %s by %d days")
}

func (h *Handler) SetPaidExact(w http.ResponseWriter, r *http.Request) {
	h.changePaid(w, r, h.admin.SetPaidExact, "set %s to %d days from now")
}

func (h *Handler) changePaid(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, username string, days int) (*services.AccountView, error), format string) {
	var req daysRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := op(r.Context(), chi.URLParam(r, "username"), *req.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Message: fmt.Sprintf(format, v.Username, *req.Days), PaidUntil: v.PaidUntil})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	username := chi.URLParam(r, "username")
	if err := h.admin.ResetPassword(r.Context(), username, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Message: "password reset for " + common.NormalizeUsername(username)})
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	oldName := common.NormalizeUsername(chi.URLParam(r, "username"))
	newName := common.NormalizeUsername(req.NewUsername)
	if err := h.admin.Rename(r.Context(), oldName, newName); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Message: fmt.Sprintf("renamed %s to %s", oldName, newName)})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := common.NormalizeUsername(chi.URLParam(r, "username"))
	if err := h.admin.Delete(r.Context(), username); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Message: "deleted " + username})
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	v, warning, err := h.admin.Create(r.Context(), services.CreateAccountRequest{
		Username:       req.Username,
		Password:       req.Password,
		PendingMachine: req.PendingMachine,
		PaidDays:       req.PaidDays,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Message: "created " + v.Username, PaidUntil: v.PaidUntil, Warning: warning})
}

func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	key, err := h.admin.Backup(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, okResponse{OK: true, Key: key})
}
