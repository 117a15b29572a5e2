package afip

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// HTTPClient allows using both standard and traced HTTP clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Login service endpoints, production and testing.
const (
	WSAAURLProduction = "https://wsaa.afip.gov.ar/ws/services/LoginCms"
	WSAAURLTesting    = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
)

// requestTimeout bounds every outbound call. The only cancellation source;
// there is no caller-supplied deadline and no retry at any layer.
const requestTimeout = 30 * time.Second

// Credentials is the short-lived token/sign pair returned by the login
// service. Never persisted; requested fresh per call chain.
type Credentials struct {
	Token string
	Sign  string
}

// WSAAClient exchanges a signed ticket request for authentication
// credentials.
type WSAAClient struct {
	httpClient    HTTPClient
	log           *slog.Logger
	productionURL string
	testingURL    string
}

// NewWSAAClient creates a login-service client. Empty URLs fall back to the
// fixed AFIP endpoints; tests point them at local servers.
func NewWSAAClient(httpClient HTTPClient, log *slog.Logger, productionURL, testingURL string) *WSAAClient {
	if productionURL == "" {
		productionURL = WSAAURLProduction
	}
	if testingURL == "" {
		testingURL = WSAAURLTesting
	}
	return &WSAAClient{
		httpClient:    httpClient,
		log:           log,
		productionURL: productionURL,
		testingURL:    testingURL,
	}
}

var (
	loginReturnRe = regexp.MustCompile(`(?s)<loginCmsReturn[^>]*>(.*?)</loginCmsReturn>`)
	tokenRe       = regexp.MustCompile(`(?s)<token>(.*?)</token>`)
	signRe        = regexp.MustCompile(`(?s)<sign>(.*?)</sign>`)
)

// Login builds and signs a ticket request with the given credentials and
// exchanges it for a token/sign pair. Blocks the caller until the service
// answers or the 30-second timeout fires.
func (c *WSAAClient) Login(ctx context.Context, certificate, privateKey string, production bool) (*Credentials, error) {
	tra, err := BuildTRA(ServiceWSFE, time.Now())
	if err != nil {
		return nil, err
	}

	cms, err := SignTRA(tra, certificate, privateKey)
	if err != nil {
		return nil, err
	}

	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:wsaa="http://wsaa.view.sua.dvadac.desein.afip.gov">
  <soapenv:Header/>
  <soapenv:Body>
    <wsaa:loginCms>
      <wsaa:in0>%s</wsaa:in0>
    </wsaa:loginCms>
  </soapenv:Body>
</soapenv:Envelope>`, cms)

	url := c.testingURL
	if production {
		url = c.productionURL
	}

	body, err := c.post(ctx, url, "", envelope)
	if err != nil {
		return nil, err
	}

	fragment := loginReturnRe.FindStringSubmatch(body)
	if fragment == nil {
		return nil, &ProtocolError{Reason: "response lacks loginCmsReturn", Body: Truncate(body, 400)}
	}

	// The ticket response arrives entity-escaped inside the envelope.
	decoded := html.UnescapeString(fragment[1])

	token := tokenRe.FindStringSubmatch(decoded)
	sign := signRe.FindStringSubmatch(decoded)
	if token == nil || sign == nil {
		return nil, &ProtocolError{Reason: "ticket response lacks token/sign", Body: Truncate(decoded, 400)}
	}

	c.log.Debug("authentication ticket obtained", "url", url)
	return &Credentials{Token: strings.TrimSpace(token[1]), Sign: strings.TrimSpace(sign[1])}, nil
}

// post issues a bounded SOAP POST and classifies transport failures.
func (c *WSAAClient) post(ctx context.Context, url, soapAction, envelope string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	if soapAction != "" {
		req.Header.Set("SOAPAction", soapAction)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			c.log.Error("wsaa request timed out", "url", url)
			return "", ErrTimeout
		}
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("wsaa returned non-2xx status", "status", resp.StatusCode, "url", url)
		return "", &TransportError{StatusCode: resp.StatusCode, Body: Truncate(string(raw), 400)}
	}
	return string(raw), nil
}

// isClientTimeout recognizes net/http client-level timeouts, which surface
// as url.Error with Timeout() true rather than context.DeadlineExceeded.
func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Truncate bounds diagnostic excerpts embedded in error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
