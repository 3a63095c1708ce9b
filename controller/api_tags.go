package controller

import (
	"net/http"
	"strconv"

	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
)

type APITagList struct {
	XMLName struct{} `json:"-" xml:"tags"`
	Items   []APITag `json:"items" xml:"tag"`
}

// apiTagList returns all tags, or the suggestions for ?q=prefix.
func (ctrl *controller) apiTagList(c echo.Context) error {
	var (
		tags []model.Tag
		err  error
	)
	ctx := c.Request().Context()
	if q := c.QueryParam("q"); q != "" {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		tags, err = ctrl.model.SuggestTags(ctx, q, limit)
	} else {
		tags, err = ctrl.model.ListTags(ctx)
	}
	if err != nil {
		return err
	}
	out := APITagList{Items: make([]APITag, len(tags))}
	for i := range tags {
		out.Items[i] = toAPITag(&tags[i])
	}
	return respond(c, http.StatusOK, out)
}

func (ctrl *controller) apiTagCreate(c echo.Context) error {
	var in model.TagInput
	if err := c.Bind(&in); err != nil {
		return ErrInvalid(err, "invalid payload")
	}
	tag, err := ctrl.model.CreateTag(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, toAPITag(tag))
}
