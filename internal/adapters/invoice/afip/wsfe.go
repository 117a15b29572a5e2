package afip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// Invoicing service endpoints, production and testing.
const (
	WSFEURLProduction = "https://servicios1.afip.gov.ar/wsfev1/service.asmx"
	WSFEURLTesting    = "https://wswhomo.afip.gov.ar/wsfev1/service.asmx"
)

const wsfeNamespace = "http://ar.gov.afip.dif.FEV1/"

// WSFEClient is the low-level envelope-based RPC caller against the
// invoicing service. It builds the outer envelope per method, enforces the
// request timeout and returns raw response text; parsing is the caller's
// responsibility.
type WSFEClient struct {
	httpClient    HTTPClient
	log           *slog.Logger
	productionURL string
	testingURL    string
}

// NewWSFEClient creates an invoicing-service client. Empty URLs fall back to
// the fixed AFIP endpoints.
func NewWSFEClient(httpClient HTTPClient, log *slog.Logger, productionURL, testingURL string) *WSFEClient {
	if productionURL == "" {
		productionURL = WSFEURLProduction
	}
	if testingURL == "" {
		testingURL = WSFEURLTesting
	}
	return &WSFEClient{
		httpClient:    httpClient,
		log:           log,
		productionURL: productionURL,
		testingURL:    testingURL,
	}
}

// Call wraps a method body in the service envelope, POSTs it and returns the
// raw response text.
func (c *WSFEClient) Call(ctx context.Context, production bool, method, body string) (string, error) {
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ar="%s">
  <soapenv:Header/>
  <soapenv:Body>
    <ar:%s>
%s
    </ar:%s>
  </soapenv:Body>
</soapenv:Envelope>`, wsfeNamespace, method, body, method)

	url := c.testingURL
	if production {
		url = c.productionURL
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", wsfeNamespace+method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			c.log.Error("wsfe request timed out", "method", method, "url", url)
			return "", ErrTimeout
		}
		return "", fmt.Errorf("execute %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("wsfe returned non-2xx status", "status", resp.StatusCode, "method", method)
		return "", &TransportError{StatusCode: resp.StatusCode, Body: Truncate(string(raw), 400)}
	}
	return string(raw), nil
}

var cbteNroRe = regexp.MustCompile(`(?s)<CbteNro>\s*(\d+)\s*</CbteNro>`)

// authFragment renders the Auth block common to every invoicing call.
func authFragment(creds *Credentials, cuit string) string {
	return fmt.Sprintf(`      <ar:Auth>
        <ar:Token>%s</ar:Token>
        <ar:Sign>%s</ar:Sign>
        <ar:Cuit>%s</ar:Cuit>
      </ar:Auth>`, creds.Token, creds.Sign, NormalizeCUIT(cuit))
}

// NormalizeCUIT strips separators from a tax id; the service expects bare
// digits.
func NormalizeCUIT(cuit string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, cuit)
}

// LastAuthorized queries the authority's last authorized comprobante number
// for a (terminal, type) pair.
func (c *WSFEClient) LastAuthorized(ctx context.Context, creds *Credentials, production bool, cuit string, ptoVta, cbteTipo int) (int64, error) {
	body := fmt.Sprintf(`%s
      <ar:PtoVta>%d</ar:PtoVta>
      <ar:CbteTipo>%d</ar:CbteTipo>`, authFragment(creds, cuit), ptoVta, cbteTipo)

	raw, err := c.Call(ctx, production, "FECompUltimoAutorizado", body)
	if err != nil {
		return 0, err
	}

	m := cbteNroRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, &NoResponseNumberError{Message: AggregateMessages(raw)}
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &NoResponseNumberError{Message: "non-numeric comprobante number: " + m[1]}
	}

	c.log.Debug("last authorized number fetched", "pto_vta", ptoVta, "cbte_tipo", cbteTipo, "number", n)
	return n, nil
}

// Authorize requests a CAE for a new document and returns the parsed
// authorization, with the raw request and response attached for persistence.
// On failure the returned value is partial: it carries only the raw exchange
// so callers can snapshot what was sent and received.
func (c *WSFEClient) Authorize(ctx context.Context, creds *Credentials, production bool, cuit string, ptoVta int, req fiscal.AuthorizationRequest) (*fiscal.Authorization, error) {
	body := buildCAERequestBody(creds, cuit, ptoVta, req)

	raw, err := c.Call(ctx, production, "FECAESolicitar", body)
	if err != nil {
		return &fiscal.Authorization{RawRequest: body}, err
	}

	auth, err := ParseCAEResponse(raw)
	if err != nil {
		return &fiscal.Authorization{RawRequest: body, RawResponse: raw}, err
	}
	auth.RawRequest = body
	auth.RawResponse = raw

	c.log.Info("authorization obtained",
		"pto_vta", ptoVta,
		"cbte_tipo", req.CbteTipo,
		"cbte_desde", auth.CbteDesde,
		"cae", auth.CAE,
		"result", auth.Result,
	)
	return auth, nil
}

// buildCAERequestBody renders the FeCAEReq fragment for one document.
func buildCAERequestBody(creds *Credentials, cuit string, ptoVta int, req fiscal.AuthorizationRequest) string {
	var b strings.Builder
	b.WriteString(authFragment(creds, cuit))
	b.WriteString("\n      <ar:FeCAEReq>\n")
	fmt.Fprintf(&b, `        <ar:FeCabReq>
          <ar:CantReg>1</ar:CantReg>
          <ar:PtoVta>%d</ar:PtoVta>
          <ar:CbteTipo>%d</ar:CbteTipo>
        </ar:FeCabReq>
`, ptoVta, req.CbteTipo)
	b.WriteString("        <ar:FeDetReq>\n          <ar:FECAEDetRequest>\n")
	fmt.Fprintf(&b, "            <ar:Concepto>%d</ar:Concepto>\n", req.Concepto)
	fmt.Fprintf(&b, "            <ar:DocTipo>%d</ar:DocTipo>\n", req.DocTipo)
	fmt.Fprintf(&b, "            <ar:DocNro>%s</ar:DocNro>\n", NormalizeCUIT(req.DocNro))
	fmt.Fprintf(&b, "            <ar:CbteDesde>%d</ar:CbteDesde>\n", req.CbteDesde)
	fmt.Fprintf(&b, "            <ar:CbteHasta>%d</ar:CbteHasta>\n", req.CbteHasta)
	fmt.Fprintf(&b, "            <ar:CbteFch>%s</ar:CbteFch>\n", req.Date.Format("20060102"))
	fmt.Fprintf(&b, "            <ar:ImpTotal>%.2f</ar:ImpTotal>\n", req.ImpTotal)
	b.WriteString("            <ar:ImpTotConc>0.00</ar:ImpTotConc>\n")
	fmt.Fprintf(&b, "            <ar:ImpNeto>%.2f</ar:ImpNeto>\n", req.ImpNeto)
	fmt.Fprintf(&b, "            <ar:ImpOpEx>%.2f</ar:ImpOpEx>\n", req.ImpOpEx)
	b.WriteString("            <ar:ImpTrib>0.00</ar:ImpTrib>\n")
	fmt.Fprintf(&b, "            <ar:ImpIVA>%.2f</ar:ImpIVA>\n", req.ImpIVA)
	fmt.Fprintf(&b, "            <ar:MonId>%s</ar:MonId>\n", req.MonID)
	b.WriteString("            <ar:MonCotiz>1.00</ar:MonCotiz>\n")
	if req.CondicionIVAReceptor > 0 {
		fmt.Fprintf(&b, "            <ar:CondicionIVAReceptorId>%d</ar:CondicionIVAReceptorId>\n", req.CondicionIVAReceptor)
	}
	if req.Associated != nil {
		b.WriteString("            <ar:CbtesAsoc>\n              <ar:CbteAsoc>\n")
		fmt.Fprintf(&b, "                <ar:Tipo>%d</ar:Tipo>\n", req.Associated.CbteTipo)
		fmt.Fprintf(&b, "                <ar:PtoVta>%d</ar:PtoVta>\n", req.Associated.PtoVta)
		fmt.Fprintf(&b, "                <ar:Nro>%d</ar:Nro>\n", req.Associated.Number)
		fmt.Fprintf(&b, "                <ar:Cuit>%s</ar:Cuit>\n", NormalizeCUIT(req.Associated.CUIT))
		fmt.Fprintf(&b, "                <ar:CbteFch>%s</ar:CbteFch>\n", req.Associated.Date.Format("20060102"))
		b.WriteString("              </ar:CbteAsoc>\n            </ar:CbtesAsoc>\n")
	}
	if len(req.IVA) > 0 {
		b.WriteString("            <ar:Iva>\n")
		for _, line := range req.IVA {
			fmt.Fprintf(&b, `              <ar:AlicIva>
                <ar:Id>%d</ar:Id>
                <ar:BaseImp>%.2f</ar:BaseImp>
                <ar:Importe>%.2f</ar:Importe>
              </ar:AlicIva>
`, line.ID, line.BaseImp, line.Importe)
		}
		b.WriteString("            </ar:Iva>\n")
	}
	b.WriteString("          </ar:FECAEDetRequest>\n        </ar:FeDetReq>\n      </ar:FeCAEReq>")
	return b.String()
}
