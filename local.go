package trackauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// Response messages
const (
	msgRegistered       = "User registered successfully. Please check your email to verify your account."
	msgRegisteredActive = "User registered successfully."
	msgVerified         = "Email verified successfully"
	msgPasswordChanged  = "Password changed successfully"
	msgResetRequested   = "If that email exists, a reset link has been sent"
	msgResetDone        = "Password reset successful"
	msgResent           = "If that account exists and is unverified, a new verification link has been sent"
)

// Handlers exposes the AuthGateway over HTTP with JSON bodies.
type Handlers struct {
	Gateway *AuthGateway
	Guard   *AccessGuard
	Limiter LoginRateLimiter
	Metrics *Metrics
	Logger  *slog.Logger

	// TrustProxyHeaders keys the login limiter on X-Forwarded-For.
	TrustProxyHeaders bool
}

type messageResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type passwordRequest struct {
	NewPassword string `json:"newPassword"`
	Password    string `json:"password"`
}

func (p passwordRequest) value() string {
	if p.NewPassword != "" {
		return p.NewPassword
	}
	return p.Password
}

type emailRequest struct {
	Email string `json:"email"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its fixed client message. Internal detail never
// reaches the body.
func writeError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	body := errorBody{Error: kind.Message(), Code: string(kind)}
	var ae *Error
	if errors.As(err, &ae) {
		body.Error = ae.ClientMessage()
		body.Field = ae.Field
	}
	writeJSON(w, kind.Status(), body)
}

// decodeBody reads a JSON object, or a urlencoded or multipart form for
// browsers posting plain forms.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct := r.Header.Get("Content-Type")
	multipart := strings.HasPrefix(ct, "multipart/form-data")
	if multipart || strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		parse := r.ParseForm
		if multipart {
			parse = func() error { return r.ParseMultipartForm(maxBodyBytes) }
		}
		if err := parse(); err != nil {
			return validationError("", "Error parsing form")
		}
		fields := map[string]any{}
		for k := range r.PostForm {
			v := r.PostForm.Get(k)
			if k == "remember" {
				fields[k] = v == "true" || v == "on" || v == "1"
				continue
			}
			fields[k] = v
		}
		raw, _ := json.Marshal(fields)
		return json.Unmarshal(raw, dst)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return validationError("", "Invalid request body")
	}
	return nil
}

// HandleRegister serves POST /register.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeBody(w, r, &creds); err != nil {
		writeError(w, err)
		return
	}
	identity, err := h.Gateway.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	msg := msgRegistered
	if identity.IsVerified {
		msg = msgRegisteredActive
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg, UserID: identity.ID})
}

// HandleVerifyEmail serves GET /verify/{token} and GET /confirm/{token}.
func (h *Handlers) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.Gateway.ConfirmEmail(r.Context(), mux.Vars(r)["token"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgVerified})
}

// HandleLogin serves POST /login. Every attempt counts against the client's
// rate limit, whatever its outcome.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.Limiter != nil {
		addr := ClientAddress(r, h.TrustProxyHeaders)
		if err := h.Limiter.Check(r.Context(), addr); err != nil {
			if errors.Is(err, ErrRateLimited) {
				h.Metrics.observeRateLimited()
				h.logger().Warn("login rate limited", "client", addr)
				writeError(w, newError(KindRateLimited, err))
				return
			}
			// A broken limiter backend must not lock everyone out.
			logError(h.logger(), "login rate limiter failed", err)
		}
	}

	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := h.Gateway.Login(r.Context(), req.Email, req.Password, req.Remember)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HandleChangePassword serves PUT /change-password behind the AccessGuard.
func (h *Handlers) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	identity, err := h.Gateway.Profile(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Gateway.ChangePassword(r.Context(), identity, req.value()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordChanged})
}

// HandleForgotPassword serves POST /forgot-password. The response never
// depends on whether the email is registered.
func (h *Handlers) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	_ = decodeBody(w, r, &req)
	if err := h.Gateway.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetRequested})
}

// HandleResendVerification serves POST /resend-verification.
func (h *Handlers) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	_ = decodeBody(w, r, &req)
	if err := h.Gateway.ResendVerification(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResent})
}

// HandleResetPassword serves PATCH /reset-password/{token}.
func (h *Handlers) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Gateway.ResetPassword(r.Context(), mux.Vars(r)["token"], req.value()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetDone})
}

// HandleProfile serves GET /profile behind the AccessGuard.
func (h *Handlers) HandleProfile(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Gateway.Profile(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
