package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
)

type createTokenReq struct {
	Name      string   `json:"name"`
	Scope     string   `json:"scope"`
	ExpiresAt *apiDate `json:"expires_at"`
}

type createTokenResp struct {
	XMLName struct{} `json:"-" xml:"token"`
	ID      uint     `json:"id" xml:"id,attr"`
	Prefix  string   `json:"prefix" xml:"prefix"`
	Token   string   `json:"token" xml:"secret"` // only shown once
}

type APITokenInfo struct {
	ID         uint       `json:"id" xml:"id,attr"`
	Name       string     `json:"name" xml:"name"`
	Prefix     string     `json:"prefix" xml:"prefix"`
	Scope      string     `json:"scope" xml:"scope"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" xml:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" xml:"last_used_at,omitempty"`
	Disabled   bool       `json:"disabled" xml:"disabled"`
	CreatedAt  time.Time  `json:"created_at" xml:"created_at"`
}

func toAPITokenInfo(t *model.APIToken) APITokenInfo {
	return APITokenInfo{
		ID:         t.ID,
		Name:       t.Name,
		Prefix:     t.TokenPrefix,
		Scope:      t.Scope,
		ExpiresAt:  t.ExpiresAt,
		LastUsedAt: t.LastUsedAt,
		Disabled:   t.Disabled,
		CreatedAt:  t.CreatedAt,
	}
}

func (ctrl *controller) apiCreateToken(c echo.Context) error {
	var req createTokenReq
	if err := c.Bind(&req); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	token, rec, err := ctrl.model.CreateAPIToken(c.Request().Context(), apiUserID(c), req.Name, req.Scope, req.ExpiresAt.timePtr())
	if err != nil {
		return err
	}
	loggerFrom(c, ctrl.logger).Info("api token created", "token_id", rec.ID, "prefix", rec.TokenPrefix)
	return respond(c, http.StatusCreated, createTokenResp{
		ID: rec.ID, Prefix: rec.TokenPrefix, Token: token,
	})
}

func (ctrl *controller) apiTokenList(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	res, err := ctrl.model.ListAPITokens(c.Request().Context(), apiUserID(c), page, perPage)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toAPIPage(res, toAPITokenInfo))
}

func (ctrl *controller) apiRevokeToken(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := ctrl.model.RevokeAPIToken(c.Request().Context(), apiUserID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
