package model

import "strings"

// PrintMethod selects the transport used to deliver a ticket
type PrintMethod string

const (
	MethodSerial      PrintMethod = "serial"
	MethodBluetooth   PrintMethod = "bluetooth"
	MethodLocalServer PrintMethod = "localserver"
	MethodPreview     PrintMethod = "preview"
)

// Copy limits accepted by the print loop
const (
	MinCopies = 1
	MaxCopies = 5
)

// DefaultLocalPrinterURL is the relay address used when none is configured
const DefaultLocalPrinterURL = "http://localhost:9100"

// ParsePrintMethod maps a configured value to a PrintMethod.
// Unknown or empty values resolve to MethodPreview.
func ParsePrintMethod(s string) PrintMethod {
	switch m := PrintMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodSerial, MethodBluetooth, MethodLocalServer, MethodPreview:
		return m
	default:
		return MethodPreview
	}
}

// ClampCopies bounds n to [MinCopies, MaxCopies]
func ClampCopies(n int) int {
	if n < MinCopies {
		return MinCopies
	}
	if n > MaxCopies {
		return MaxCopies
	}
	return n
}

// MethodInfo is an entry of the print method picker
type MethodInfo struct {
	Value PrintMethod `json:"value"`
	Label string      `json:"label"`
}

// BusinessConfig is the business header data sent to the command source
type BusinessConfig struct {
	Name          string `json:"business_name" mapstructure:"name"`
	Address       string `json:"business_address,omitempty" mapstructure:"address"`
	Phone         string `json:"business_phone,omitempty" mapstructure:"phone"`
	CUIT          string `json:"business_cuit,omitempty" mapstructure:"cuit"`
	Email         string `json:"business_email,omitempty" mapstructure:"email"`
	Website       string `json:"business_website,omitempty" mapstructure:"website"`
	Slogan        string `json:"business_slogan,omitempty" mapstructure:"slogan"`
	FooterMessage string `json:"business_footer_message,omitempty" mapstructure:"footer_message"`
	Logo          string `json:"business_logo,omitempty" mapstructure:"logo"`
}

// TicketConfig is the ticket formatting and printing configuration
type TicketConfig struct {
	EnablePrint     bool   `json:"enable_print" mapstructure:"enable_print"`
	PrintMethod     string `json:"print_method" mapstructure:"print_method"`
	LocalPrinterURL string `json:"local_printer_url" mapstructure:"local_printer_url"`
	CopiesCount     int    `json:"copies_count" mapstructure:"copies_count"`
	PaperWidth      int    `json:"paper_width" mapstructure:"paper_width"`
	PrinterName     string `json:"printer_name,omitempty" mapstructure:"printer_name"`

	FontSize          string `json:"font_size,omitempty" mapstructure:"font_size"`
	FiscalType        string `json:"fiscal_type,omitempty" mapstructure:"fiscal_type"`
	ShowBusinessInfo  bool   `json:"show_business_info" mapstructure:"show_business_info"`
	ShowLogo          bool   `json:"show_logo" mapstructure:"show_logo"`
	ShowCUIT          bool   `json:"show_cuit" mapstructure:"show_cuit"`
	ShowCustomer      bool   `json:"show_customer" mapstructure:"show_customer"`
	ShowCashier       bool   `json:"show_cashier" mapstructure:"show_cashier"`
	ShowTaxBreakdown  bool   `json:"show_tax_breakdown" mapstructure:"show_tax_breakdown"`
	ShowPaymentMethod bool   `json:"show_payment_method" mapstructure:"show_payment_method"`
	ShowBarcode       bool   `json:"show_barcode" mapstructure:"show_barcode"`
	IncludeCAE        bool   `json:"include_cae" mapstructure:"include_cae"`
	HeaderMessage     string `json:"header_message,omitempty" mapstructure:"header_message"`
	FooterMessage     string `json:"footer_message,omitempty" mapstructure:"footer_message"`
	ReturnPolicy      string `json:"return_policy,omitempty" mapstructure:"return_policy"`
}

// Method returns the parsed print method
func (t TicketConfig) Method() PrintMethod {
	return ParsePrintMethod(t.PrintMethod)
}

// RelayURL returns the configured relay address or the default one
func (t TicketConfig) RelayURL() string {
	if t.LocalPrinterURL == "" {
		return DefaultLocalPrinterURL
	}
	return t.LocalPrinterURL
}

// DetectedPrinter is a printer port reported by detection
type DetectedPrinter struct {
	Path         string `json:"path"`
	Manufacturer string `json:"manufacturer,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	VendorID     string `json:"vendorId,omitempty"`
	ProductID    string `json:"productId,omitempty"`
}

// PrinterStatus reports the backend printer connection state
type PrinterStatus struct {
	Connected bool   `json:"connected"`
	PortName  string `json:"portName,omitempty"`
}
