package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/clientdesk/crm/notify"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/unrolled/secure"
)

type appError struct {
	Code   string // stable error code for clients and support
	Status int    // HTTP status
	Err    error  // original error, never sent to the client
	Public string // safe text for the client (optional)

	fields    []model.FieldError
	remaining string
	retryable bool
}

func (e *appError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *appError) Unwrap() error { return e.Err }

// Helpers for the usual errors
func ErrNotFound(err error) *appError {
	return &appError{Code: "not_found", Status: http.StatusNotFound, Err: err}
}
func ErrInvalid(err error, public string) *appError {
	if err == nil {
		err = errors.New(public)
	}
	return &appError{Code: "bad_request", Status: http.StatusBadRequest, Err: err, Public: public}
}
func ErrInternal(err error) *appError {
	return &appError{Code: "internal", Status: http.StatusInternalServerError, Err: err}
}

type controller struct {
	model  *model.Store
	notify *notify.Dispatcher
	logger *slog.Logger
}

// NewServer builds the echo instance serving the JSON API.
func NewServer(store *model.Store, dispatcher *notify.Dispatcher, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = notify.NewDispatcher(logger, 0)
	}
	cfg := store.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisablePrintStack: true,
	}))
	e.Use(echo.WrapMiddleware(secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		STSSeconds:            31536000,
		IsDevelopment:         cfg.Mode != "production",
	}).Handler))
	e.Use(requestLogger(logger))
	e.HTTPErrorHandler = httpErrorHandler(logger)

	ctrl := &controller{model: store, notify: dispatcher, logger: logger}
	e.GET("/healthz", ctrl.health)
	ctrl.apiInit(e)
	return e
}

// requestLogger installs a request-scoped logger under "logger" and writes
// one access log line per request.
func requestLogger(base *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			res := c.Response()
			rid := res.Header().Get(echo.HeaderXRequestID)

			reqLogger := base.With(
				"request_id", rid,
			).WithGroup("http").With(
				"method", req.Method,
				"path", req.URL.Path,
				"remote_ip", c.RealIP(),
			)
			c.Set("logger", reqLogger)

			err := next(c)
			if err != nil {
				// let the error handler write the status before logging it
				c.Error(err)
			}
			if shouldSkipAccessLog(c) {
				return nil
			}
			attrs := []any{
				"status", res.Status,
				"latency_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			}
			switch {
			case res.Status >= 500:
				reqLogger.Error("http_request", attrs...)
			case res.Status >= 400:
				reqLogger.Warn("http_request", attrs...)
			default:
				reqLogger.Info("http_request", attrs...)
			}
			return nil
		}
	}
}

func loggerFrom(c echo.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := c.Get("logger").(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// httpErrorHandler logs everything internally and sends only a safe payload.
func httpErrorHandler(logger *slog.Logger) func(error, echo.Context) {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		l := loggerFrom(c, logger)

		var ae *appError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ae):
		case errors.As(err, &he):
			public := ""
			if he.Code >= 400 && he.Code < 500 {
				public = fmt.Sprint(he.Message)
			}
			ae = &appError{
				Code:   httpStatusToCode(he.Code),
				Status: he.Code,
				Err:    fmt.Errorf("%v", he.Message),
				Public: public,
			}
		default:
			ae = fromModelError(err)
		}

		attrs := []any{
			"status", ae.Status,
			"code", ae.Code,
			"error", ae.Err.Error(),
		}
		if ae.Status >= 500 {
			l.Error("handler_error", attrs...)
		} else {
			l.Warn("handler_error", attrs...)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(ae.Status)
			return
		}
		_ = respond(c, ae.Status, ae.payload(c.Response().Header().Get(echo.HeaderXRequestID)))
	}
}

func userMessage(ae *appError) string {
	if ae.Public != "" {
		return ae.Public
	}
	switch ae.Code {
	case "bad_request", "validation_error":
		return "The input is invalid. Please check it and try again."
	case "not_found":
		return "The requested resource was not found."
	case "method_not_allowed":
		return "This HTTP method is not supported here."
	case "conflict":
		return "The resource was changed concurrently. Please retry."
	default:
		return "An error occurred. Please try again later."
	}
}

func httpStatusToCode(status int) string {
	switch status {
	case 400:
		return "bad_request"
	case 401:
		return "unauthorized"
	case 403:
		return "forbidden"
	case 404:
		return "not_found"
	case 405:
		return "method_not_allowed"
	case 413:
		return "payload_too_large"
	case 429:
		return "rate_limited"
	default:
		if status >= 500 {
			return "internal"
		}
		return "error"
	}
}

func shouldSkipAccessLog(c echo.Context) bool {
	switch c.Request().URL.Path {
	case "/favicon.ico", "/robots.txt", "/healthz":
		return true
	}
	m := c.Request().Method
	return m == http.MethodHead || m == http.MethodOptions
}

func (ctrl *controller) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// rateLimit limits API requests per client IP; n <= 0 disables it.
func rateLimit(n int) echo.MiddlewareFunc {
	if n <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echo.WrapMiddleware(httprate.Limit(n, time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"rate_limited","message":"Too many requests, slow down.","retryable":true}`))
		}),
	))
}

// Shutdown stops the server and waits for pending notifications.
func Shutdown(ctx context.Context, e *echo.Echo, dispatcher *notify.Dispatcher) error {
	err := e.Shutdown(ctx)
	if dispatcher != nil {
		if werr := dispatcher.Wait(ctx); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}
