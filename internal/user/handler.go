package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/response"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// Handler exposes HTTP endpoints for password accounts and profiles.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// SignupRequest is accepted as JSON or as a form, where modes is either a
// JSON array or repeated fields.
type SignupRequest struct {
	Username string        `json:"username"`
	Email    string        `json:"email"`
	Password string        `json:"password"`
	Modes    []entity.Mode `json:"modes"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := bindSignup(w, r, &req); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		response.Fail(w, response.BadRequest)
		return
	}
	tok, u, err := h.svc.SignUp(r.Context(), SignUpInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Modes:    req.Modes,
		IP:       auth.ClientIP(r),
	})
	if err != nil {
		h.fail(w, "signup", err)
		return
	}
	h.logger.Infow("user signed up", "user_id", u.ID)
	response.OK(w, tok)
}

func bindSignup(w http.ResponseWriter, r *http.Request, req *SignupRequest) error {
	if !response.IsForm(r) {
		return response.DecodeJSON(w, r, req)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	req.Username = r.PostForm.Get("username")
	req.Email = r.PostForm.Get("email")
	req.Password = r.PostForm.Get("password")
	modes, err := parseModes(r.PostForm["modes"])
	if err != nil {
		return err
	}
	req.Modes = modes
	return nil
}

func parseModes(values []string) ([]entity.Mode, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var modes []entity.Mode
		if err := json.Unmarshal([]byte(values[0]), &modes); err != nil {
			return nil, err
		}
		return modes, nil
	}
	modes := make([]entity.Mode, 0, len(values))
	for _, v := range values {
		m, err := entity.ParseMode(v)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return modes, nil
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if response.IsForm(r) {
		if err := r.ParseForm(); err != nil {
			response.Fail(w, response.BadRequest)
			return
		}
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
	} else if err := response.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		response.Fail(w, response.BadRequest)
		return
	}
	tok, _, err := h.svc.AuthenticatePassword(r.Context(), req.Email, req.Password, auth.ClientIP(r))
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	response.OK(w, tok)
}

// UserInfo is the profile view returned by GET /user/info.
type UserInfo struct {
	Username      string                    `json:"username"`
	Email         string                    `json:"email"`
	VerifiedEmail bool                      `json:"verified_email"`
	Modes         []entity.Mode             `json:"modes"`
	Connects      []entity.ConnectedAccount `json:"connects"`
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		response.Fail(w, response.AuthError)
		return
	}
	u, err := h.svc.Profile(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.Fail(w, response.NotFound)
			return
		}
		h.fail(w, "user info", err)
		return
	}
	response.OK(w, UserInfo{
		Username:      u.Username,
		Email:         u.Email,
		VerifiedEmail: u.VerifiedEmail,
		Modes:         u.Modes,
		Connects:      u.Connects,
	})
}

// UpdateInfoRequest carries the new username and one flag per mode.
type UpdateInfoRequest struct {
	Username  string `json:"username"`
	IsStudent bool   `json:"is_student"`
	IsTeacher bool   `json:"is_teacher"`
	IsParents bool   `json:"is_parents"`
}

func (req UpdateInfoRequest) modes() []entity.Mode {
	var modes []entity.Mode
	if req.IsStudent {
		modes = append(modes, entity.ModeStudent)
	}
	if req.IsTeacher {
		modes = append(modes, entity.ModeTeacher)
	}
	if req.IsParents {
		modes = append(modes, entity.ModeParents)
	}
	return modes
}

func (h *Handler) UpdateInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		response.Fail(w, response.AuthError)
		return
	}
	var req UpdateInfoRequest
	if err := bindUpdateInfo(w, r, &req); err != nil {
		h.logger.Debugw("invalid edit payload", "err", err)
		response.Fail(w, response.EditUserFailed)
		return
	}
	tok, _, err := h.svc.UpdateProfile(r.Context(), id.UserID, req.Username, req.modes())
	if err != nil {
		h.fail(w, "edit user", err)
		return
	}
	response.OK(w, tok)
}

func bindUpdateInfo(w http.ResponseWriter, r *http.Request, req *UpdateInfoRequest) error {
	if !response.IsForm(r) {
		return response.DecodeJSON(w, r, req)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	req.Username = r.PostForm.Get("username")
	for field, dst := range map[string]*bool{
		"is_student": &req.IsStudent,
		"is_teacher": &req.IsTeacher,
		"is_parents": &req.IsParents,
	} {
		v := r.PostForm.Get(field)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
	}
	return nil
}

// VerifyEmail handles the link sent after sign-up and redirects home.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if err := h.svc.VerifyEmail(r.Context(), code); err != nil {
		h.fail(w, "verify email", err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// fail maps service errors onto envelope codes; anything unexpected is logged
// and answered with a generic internal error.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var code response.Code
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidIdentity):
		code = response.BadRequest
	case errors.Is(err, ErrEmailRegistered):
		code = response.SignUpEmailAlreadyRegistered
	case errors.Is(err, ErrUserNotFound) && op == "login":
		code = response.LoginUserNotFoundError
	case errors.Is(err, ErrBadCredentials):
		code = response.LoginPasswordError
	case errors.Is(err, ErrNoModes), errors.Is(err, ErrUserNotFound):
		code = response.EditUserFailed
	case errors.Is(err, ErrVerifyEmail):
		code = response.VerifyEmailError
	default:
		h.logger.Errorw(op+" failed", "err", err)
		response.Fail(w, response.InternalError)
		return
	}
	h.logger.Debugw(op+" rejected", "err", err)
	response.Fail(w, code)
}
