package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
)

type APIClient struct {
	XMLName  struct{} `json:"-" xml:"client"`
	ID       uint     `json:"id" xml:"id,attr"`
	Name     string   `json:"name" xml:"name"`
	Email    string   `json:"email,omitempty" xml:"email,omitempty"`
	Phone    string   `json:"phone,omitempty" xml:"phone,omitempty"`
	WhatsApp string   `json:"whatsapp,omitempty" xml:"whatsapp,omitempty"`
	Status   string   `json:"status" xml:"status"`
	CityID   *uint    `json:"city_id,omitempty" xml:"city_id,omitempty"`
	Country  string   `json:"country,omitempty" xml:"country,omitempty"`
}

type APITimelineEntry struct {
	ID        uint      `json:"id" xml:"id,attr"`
	Event     string    `json:"event" xml:"event"`
	Details   string    `json:"details,omitempty" xml:"details,omitempty"`
	InvoiceID *uint     `json:"invoice_id,omitempty" xml:"invoice_id,omitempty"`
	UserID    uint      `json:"user_id" xml:"user_id"`
	CreatedAt time.Time `json:"created_at" xml:"created_at"`
}

func (ctrl *controller) apiClientGet(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	cl, err := ctrl.model.GetClient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, APIClient{
		ID:       cl.ID,
		Name:     cl.Name,
		Email:    cl.Email,
		Phone:    cl.Phone,
		WhatsApp: cl.WhatsApp,
		Status:   string(cl.Status),
		CityID:   cl.CityID,
		Country:  cl.Country,
	})
}

func (ctrl *controller) apiClientTimeline(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	res, err := ctrl.model.ClientTimeline(c.Request().Context(), id, page, perPage)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toAPIPage(res, func(e *model.ClientTimelineEntry) APITimelineEntry {
		return APITimelineEntry{
			ID:        e.ID,
			Event:     e.Event,
			Details:   e.Details,
			InvoiceID: e.InvoiceID,
			UserID:    e.UserID,
			CreatedAt: e.CreatedAt,
		}
	}))
}
