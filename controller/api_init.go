package controller

import (
	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
)

func (ctrl *controller) apiInit(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.Use(rateLimit(ctrl.model.Config.RateLimit))
	api.Use(ctrl.APIKeyAuthMiddleware())

	read := requireScope(model.ScopeRead)
	write := requireScope(model.ScopeWrite)

	// static paths before /invoices/:id
	api.GET("/invoices/export", ctrl.apiInvoiceExport, read)
	api.GET("/invoices/stats", ctrl.apiInvoiceStats, read)
	api.GET("/invoices/next-number", ctrl.apiInvoiceNextNumber, read)

	api.GET("/invoices", ctrl.apiInvoiceList, read)
	api.POST("/invoices", ctrl.apiInvoiceCreate, write)
	api.GET("/invoices/:id", ctrl.apiInvoiceGet, read)
	api.PUT("/invoices/:id", ctrl.apiInvoiceUpdate, write)
	api.DELETE("/invoices/:id", ctrl.apiInvoiceDelete, write)
	api.POST("/invoices/:id/restore", ctrl.apiInvoiceRestore, write)
	api.PATCH("/invoices/:id/status", ctrl.apiInvoiceStatus, write)
	api.POST("/invoices/:id/send", ctrl.apiInvoiceSend, write)

	api.GET("/invoices/:id/payments", ctrl.apiPaymentList, read)
	api.POST("/invoices/:id/payments", ctrl.apiPaymentCreate, write)
	api.PUT("/invoices/:id/payments/:pid", ctrl.apiPaymentUpdate, write)
	api.DELETE("/invoices/:id/payments/:pid", ctrl.apiPaymentDelete, write)

	api.GET("/clients/:id", ctrl.apiClientGet, read)
	api.GET("/clients/:id/timeline", ctrl.apiClientTimeline, read)

	api.GET("/tags", ctrl.apiTagList, read)
	api.POST("/tags", ctrl.apiTagCreate, write)

	// Token management
	api.GET("/tokens", ctrl.apiTokenList, read)
	api.POST("/tokens", ctrl.apiCreateToken, write)
	api.DELETE("/tokens/:id", ctrl.apiRevokeToken, write)
}
