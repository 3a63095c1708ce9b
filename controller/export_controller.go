package controller

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/clientdesk/crm/model"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const exportPageSize = 200

type ExportInvoices struct {
	XMLName  struct{}     `xml:"invoices"`
	Version  string       `xml:"version,attr"`
	Invoices []APIInvoice `xml:"invoice"`
}

var exportHeader = []string{
	"Number", "Client", "Created", "Due", "Status",
	"Subtotal", "Tax", "Discount", "Total", "Paid", "Remaining",
}

// collectInvoices pages through all invoices matching f.
func (ctrl *controller) collectInvoices(c echo.Context, f model.InvoiceFilter) ([]model.Invoice, error) {
	var out []model.Invoice
	f.PerPage = exportPageSize
	for f.Page = 1; ; f.Page++ {
		page, err := ctrl.model.ListInvoices(c.Request().Context(), f)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if f.Page >= page.LastPage() {
			return out, nil
		}
	}
}

// apiInvoiceExport writes the filtered invoice list as CSV (default), XLSX
// or XML.
func (ctrl *controller) apiInvoiceExport(c echo.Context) error {
	format := strings.ToLower(c.QueryParam("format"))
	switch format {
	case "":
		format = "csv"
	case "csv", "xlsx", "xml":
	default:
		return ErrInvalid(nil, "format must be csv, xlsx or xml")
	}
	f, err := bindInvoiceFilter(c)
	if err != nil {
		return err
	}
	invs, err := ctrl.collectInvoices(c, f)
	if err != nil {
		return err
	}

	filename := "invoices_" + ctrl.model.Now().Format("2006-01-02") + "." + format
	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	loggerFrom(c, ctrl.logger).Info("invoice export", "format", format, "count", len(invs))

	switch format {
	case "xlsx":
		return writeInvoicesXLSX(c, invs)
	case "xml":
		return writeInvoicesXML(c, invs)
	}
	return writeInvoicesCSV(c, invs)
}

func exportRow(inv *model.Invoice) []string {
	due := ""
	if inv.DueDate != nil {
		due = inv.DueDate.Format("2006-01-02")
	}
	return []string{
		inv.InvoiceNumber,
		inv.Client.Name,
		inv.CreatedAt.Format("2006-01-02"),
		due,
		inv.Status.Label(),
		model.FormatMoney(inv.Subtotal),
		model.FormatMoney(inv.TaxAmount),
		model.FormatMoney(inv.Discount),
		model.FormatMoney(inv.Total),
		model.FormatMoney(inv.PaidAmount),
		model.FormatMoney(inv.RemainingAmount),
	}
}

func moneyColumns(inv *model.Invoice) []decimal.Decimal {
	return []decimal.Decimal{
		inv.Subtotal, inv.TaxAmount, inv.Discount, inv.Total, inv.PaidAmount, inv.RemainingAmount,
	}
}

func writeInvoicesCSV(c echo.Context, invs []model.Invoice) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.WriteHeader(http.StatusOK)

	// UTF-8 BOM for Excel
	if _, err := res.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	w := csv.NewWriter(res)
	w.Comma = ';'
	if err := w.Write(exportHeader); err != nil {
		return err
	}
	for i := range invs {
		row := exportRow(&invs[i])
		for j := range row {
			if !utf8.ValidString(row[j]) {
				row[j] = strings.ToValidUTF8(row[j], "")
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeInvoicesXLSX(c echo.Context, invs []model.Invoice) error {
	const sheet = "Invoices"
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i := range invs {
		inv := &invs[i]
		row := exportRow(inv)
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		// money columns as numbers so that sums work in the spreadsheet
		for j, d := range moneyColumns(inv) {
			cells[5+j] = d.InexactFloat64()
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}
	if len(invs) > 0 {
		if err := f.SetColStyle(sheet, "F:K", money); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheet, "A", "B", 22); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	res.WriteHeader(http.StatusOK)
	if err := f.Write(res); err != nil {
		return fmt.Errorf("cannot write xlsx: %w", err)
	}
	return nil
}

func writeInvoicesXML(c echo.Context, invs []model.Invoice) error {
	export := ExportInvoices{Version: "1", Invoices: make([]APIInvoice, 0, len(invs))}
	for i := range invs {
		export.Invoices = append(export.Invoices, toAPIInvoice(&invs[i]))
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationXMLCharsetUTF8)
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write([]byte(xml.Header)); err != nil {
		return err
	}
	enc := xml.NewEncoder(res)
	enc.Indent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("cannot encode invoices.xml: %w", err)
	}
	return enc.Flush()
}
