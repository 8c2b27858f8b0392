package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
)

type emailRequest struct {
	Email string `json:"email"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type codeRequest struct {
	Code        string `json:"code"`
	TrustDevice bool   `json:"trust_device"`
}

// cellRequest is one keystroke or paste into the code cells. TrustDevice is
// left untouched when the field is absent.
type cellRequest struct {
	Index       int    `json:"index"`
	Value       string `json:"value"`
	TrustDevice *bool  `json:"trust_device,omitempty"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.StartFlow(h.requestContext(r))
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	http.SetCookie(w, h.attemptCookie(f.ID()))
	state := f.State()
	writeJSON(w, http.StatusCreated, response{State: &state})
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	f, err := h.loadFlow(w, r)
	if err != nil {
		return
	}
	state := f.State()
	writeJSON(w, http.StatusOK, response{State: &state})
}

func (h *Handler) submitEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	h.step(w, r, &req, func(ctx context.Context, f *authflow.Flow) error {
		return f.SubmitEmail(ctx, req.Email)
	})
}

func (h *Handler) submitPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	h.step(w, r, &req, func(ctx context.Context, f *authflow.Flow) error {
		return f.SubmitPassword(ctx, []byte(req.Password))
	})
}

func (h *Handler) submitEmailCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	h.step(w, r, &req, func(ctx context.Context, f *authflow.Flow) error {
		return f.SubmitEmailCode(ctx, req.Code)
	})
}

func (h *Handler) inputCode(w http.ResponseWriter, r *http.Request) {
	var req cellRequest
	h.step(w, r, &req, func(ctx context.Context, f *authflow.Flow) error {
		if req.TrustDevice != nil {
			if err := f.TrustDevice(*req.TrustDevice); err != nil {
				return err
			}
		}
		return f.InputCode(ctx, req.Index, req.Value)
	})
}

func (h *Handler) submitTOTP(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	h.step(w, r, &req, func(ctx context.Context, f *authflow.Flow) error {
		if err := f.TrustDevice(req.TrustDevice); err != nil {
			return err
		}
		return f.SubmitTOTP(ctx, req.Code)
	})
}

func (h *Handler) submitBackupCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	h.step(w, r, &req, func(ctx context.Context, f *authflow.Flow) error {
		if err := f.TrustDevice(req.TrustDevice); err != nil {
			return err
		}
		return f.SubmitBackupCode(ctx, req.Code)
	})
}

func (h *Handler) useBackupCode(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, nil, func(_ context.Context, f *authflow.Flow) error {
		return f.UseBackupCode()
	})
}

func (h *Handler) useAuthenticator(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, nil, func(_ context.Context, f *authflow.Flow) error {
		return f.UseAuthenticator()
	})
}

func (h *Handler) resend(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, nil, func(ctx context.Context, f *authflow.Flow) error {
		return f.Resend(ctx)
	})
}

func (h *Handler) goBack(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, nil, func(_ context.Context, f *authflow.Flow) error {
		return f.GoBack()
	})
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	if h.issuer != nil {
		http.SetCookie(w, h.issuer.ClearCookie())
	}
	w.WriteHeader(http.StatusNoContent)
}

// step decodes req, loads the attempt, applies fn and saves the attempt
// even when fn failed, so failure counts survive the request.
func (h *Handler) step(w http.ResponseWriter, r *http.Request, req any, fn func(context.Context, *authflow.Flow) error) {
	if req != nil {
		if err := decode(w, r, req); err != nil {
			h.writeError(w, nil, err)
			return
		}
	}

	f, err := h.loadFlow(w, r)
	if err != nil {
		return
	}

	ctx := h.requestContext(r)
	stepErr := fn(ctx, f)
	if err := h.engine.SaveFlow(ctx, f); err != nil {
		h.writeError(w, nil, err)
		return
	}

	if f.Step() == authflow.StepSuccess {
		h.completeSignIn(w, f)
	}

	state := f.State()
	if stepErr != nil {
		h.writeError(w, &state, stepErr)
		return
	}
	writeJSON(w, http.StatusOK, response{State: &state})
}

func (h *Handler) loadFlow(w http.ResponseWriter, r *http.Request) (*authflow.Flow, error) {
	var id string
	if c, err := r.Cookie(h.opts.AttemptCookie); err == nil {
		id = c.Value
	}
	f, err := h.engine.LoadFlow(r.Context(), id)
	if err != nil {
		if errors.Is(err, authflow.ErrAttemptNotFound) {
			http.SetCookie(w, h.expiredCookie(h.opts.AttemptCookie, "/signin"))
		}
		h.writeError(w, nil, err)
		return nil, err
	}
	return f, nil
}

func (h *Handler) completeSignIn(w http.ResponseWriter, f *authflow.Flow) {
	if tok, ok := f.Session(); ok && h.issuer != nil {
		http.SetCookie(w, h.issuer.Cookie(tok))
	}
	http.SetCookie(w, h.expiredCookie(h.opts.AttemptCookie, "/signin"))
	if token := f.TrustedDeviceToken(); token != "" {
		ttl := h.engine.Config().TrustedDevice.TTL
		http.SetCookie(w, h.cookie(h.opts.DeviceCookie, token, "/signin", ttl))
	}
}

func (h *Handler) requestContext(r *http.Request) context.Context {
	ctx := authflow.WithClientIP(r.Context(), clientIP(r))
	ctx = authflow.WithUserAgent(ctx, r.UserAgent())
	if c, err := r.Cookie(h.opts.DeviceCookie); err == nil && c.Value != "" {
		ctx = authflow.WithDeviceToken(ctx, c.Value)
	}
	return ctx
}

func (h *Handler) attemptCookie(id string) *http.Cookie {
	return h.cookie(h.opts.AttemptCookie, id, "/signin", h.engine.Config().Attempts.TTL)
}

func (h *Handler) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   h.opts.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) expiredCookie(name, path string) *http.Cookie {
	c := h.cookie(name, "", path, 0)
	c.MaxAge = -1
	return c
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
