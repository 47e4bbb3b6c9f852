package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// envelope is the backend's {success, message, data} wrapper
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(resp *Response, fallback string) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &Error{Status: resp.Status, Message: "invalid response from server", Err: err}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = fallback
		}
		return nil, &Error{Status: resp.Status, Message: msg}
	}
	return env.Data, nil
}

type printRequest struct {
	SaleID         int64                `json:"saleId"`
	BusinessConfig model.BusinessConfig `json:"businessConfig"`
	TicketConfig   model.TicketConfig   `json:"ticketConfig"`
	Preview        bool                 `json:"preview,omitempty"`
}

// CommandsPreview is the command buffer with its server side text rendering
type CommandsPreview struct {
	Commands    string `json:"commands"`
	PreviewText string `json:"previewText,omitempty"`
}

// FetchCommands asks the backend for the base64 ESC/POS buffer of a sale
func (c *Client) FetchCommands(ctx context.Context, saleID int64, business model.BusinessConfig, ticket model.TicketConfig) (string, error) {
	p, err := c.fetchCommands(ctx, printRequest{SaleID: saleID, BusinessConfig: business, TicketConfig: ticket})
	if err != nil {
		return "", err
	}
	return p.Commands, nil
}

// PreviewCommands is FetchCommands with the backend's text preview
func (c *Client) PreviewCommands(ctx context.Context, saleID int64, business model.BusinessConfig, ticket model.TicketConfig) (*CommandsPreview, error) {
	return c.fetchCommands(ctx, printRequest{SaleID: saleID, BusinessConfig: business, TicketConfig: ticket, Preview: true})
}

func (c *Client) fetchCommands(ctx context.Context, body printRequest) (*CommandsPreview, error) {
	resp, err := c.do(ctx, request{method: http.MethodPost, path: "/ticket/print-escpos", body: body})
	if err != nil {
		return nil, err
	}
	data, err := decodeEnvelope(resp, "could not generate the ticket commands")
	if err != nil {
		return nil, err
	}

	var p CommandsPreview
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &Error{Status: resp.Status, Message: "invalid response from server", Err: err}
	}
	if p.Commands == "" {
		return nil, &Error{Status: resp.Status, Message: "the server returned an empty ticket"}
	}
	return &p, nil
}

// DetectPrinters lists the printers attached to the backend host
func (c *Client) DetectPrinters(ctx context.Context) ([]model.DetectedPrinter, error) {
	resp, err := c.do(ctx, request{method: http.MethodPost, path: "/ticket/printers/detect"})
	if err != nil {
		return nil, err
	}
	data, err := decodeEnvelope(resp, "could not detect printers")
	if err != nil {
		return nil, err
	}

	var printers []model.DetectedPrinter
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &printers); err != nil {
			return nil, &Error{Status: resp.Status, Message: "invalid response from server", Err: err}
		}
	}
	return printers, nil
}

// ConnectPrinter makes the backend open portPath at baudRate
func (c *Client) ConnectPrinter(ctx context.Context, portPath string, baudRate int) error {
	if portPath == "" {
		return errors.New("no port selected")
	}
	body := struct {
		PortPath string `json:"portPath"`
		BaudRate int    `json:"baudRate"`
	}{portPath, baudRate}

	resp, err := c.do(ctx, request{method: http.MethodPost, path: "/ticket/printers/connect", body: body})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(resp, "could not connect to the printer")
	if err == nil {
		c.ClearCacheFor("/ticket/printers/status")
	}
	return err
}

// TestPrinter prints the backend's test page
func (c *Client) TestPrinter(ctx context.Context) error {
	resp, err := c.do(ctx, request{method: http.MethodPost, path: "/ticket/printers/test"})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(resp, "could not print the test page")
	return err
}

// PrinterStatus reports the backend printer connection
func (c *Client) PrinterStatus(ctx context.Context) (*model.PrinterStatus, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/ticket/printers/status"})
	if err != nil {
		return nil, err
	}
	data, err := decodeEnvelope(resp, "could not read printer status")
	if err != nil {
		return nil, err
	}

	var st model.PrinterStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &Error{Status: resp.Status, Message: "invalid response from server", Err: err}
	}
	return &st, nil
}

// GetSale returns the sale document used by the PDF renderer
func (c *Client) GetSale(ctx context.Context, saleID int64) (json.RawMessage, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/sales/%d", saleID)})
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(resp, "sale not found")
}

// GenerateDocument renders a sale as a thermal sized PDF
func (c *Client) GenerateDocument(ctx context.Context, sale json.RawMessage, business model.BusinessConfig, ticket model.TicketConfig) ([]byte, error) {
	body := struct {
		SaleData       json.RawMessage      `json:"saleData"`
		BusinessConfig model.BusinessConfig `json:"businessConfig"`
		TicketConfig   model.TicketConfig   `json:"ticketConfig"`
	}{sale, business, ticket}

	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/config/ticket/generate-pdf",
		body:   body,
		failure: func(status int) string {
			return fmt.Sprintf("Error %d: could not generate the PDF", status)
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, &Error{Status: resp.Status, Message: "the server returned an empty PDF"}
	}
	return resp.Body, nil
}
