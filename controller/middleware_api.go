package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
)

type ctxKey string

const (
	ctxUserID ctxKey = "api_user_id"
	ctxToken  ctxKey = "api_token"
)

// APIKeyAuthMiddleware accepts "Authorization: Bearer <token>" or
// "Authorization: Api-Key <token>".
func (ctrl *controller) APIKeyAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				return respond(c, http.StatusUnauthorized, apiError("missing_token", "Provide Authorization header"))
			}
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || (!strings.EqualFold(parts[0], "Bearer") && !strings.EqualFold(parts[0], "Api-Key")) {
				return respond(c, http.StatusUnauthorized, apiError("bad_token", "Use Bearer or Api-Key"))
			}
			rec, err := ctrl.model.ValidateAPIToken(c.Request().Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				if errors.Is(err, model.ErrPersistence) {
					return err
				}
				loggerFrom(c, ctrl.logger).Debug("api token rejected", "error", err)
				return respond(c, http.StatusUnauthorized, apiError("unauthorized", "Unauthorized"))
			}

			c.Set(string(ctxUserID), rec.UserID)
			c.Set(string(ctxToken), rec)
			return next(c)
		}
	}
}

// requireScope rejects tokens without the given scope.
func requireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok, ok := c.Get(string(ctxToken)).(*model.APIToken)
			if !ok || !tok.HasScope(scope) {
				return respond(c, http.StatusForbidden, apiError("forbidden", "token lacks scope "+scope))
			}
			return next(c)
		}
	}
}

func apiUserID(c echo.Context) uint {
	if v, ok := c.Get(string(ctxUserID)).(uint); ok {
		return v
	}
	return 0
}
