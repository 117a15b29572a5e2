package afip

import (
	"context"
	"log/slog"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// Service composes the login and invoicing clients behind the Authorizer
// boundary. Every call authenticates from scratch: credentials are valid for
// a short window and are not cached across orchestrator invocations.
type Service struct {
	wsaa *WSAAClient
	wsfe *WSFEClient
	log  *slog.Logger
}

// URLOverrides points the clients at non-default endpoints, used by tests
// and by deployments behind an outbound proxy.
type URLOverrides struct {
	WSAAProduction string
	WSAATesting    string
	WSFEProduction string
	WSFETesting    string
}

// NewService creates the protocol client against the fixed AFIP endpoints.
func NewService(httpClient HTTPClient, log *slog.Logger) *Service {
	return NewServiceWithURLs(httpClient, log, URLOverrides{})
}

// NewServiceWithURLs creates the protocol client with endpoint overrides.
func NewServiceWithURLs(httpClient HTTPClient, log *slog.Logger, urls URLOverrides) *Service {
	return &Service{
		wsaa: NewWSAAClient(httpClient, log, urls.WSAAProduction, urls.WSAATesting),
		wsfe: NewWSFEClient(httpClient, log, urls.WSFEProduction, urls.WSFETesting),
		log:  log,
	}
}

// LastAuthorized authenticates and queries the authority's last authorized
// number for a (terminal, type) pair of the identity.
func (s *Service) LastAuthorized(ctx context.Context, identity *fiscal.Identity, cbteTipo int) (int64, error) {
	creds, err := s.wsaa.Login(ctx, identity.Certificate, identity.PrivateKey, identity.Production)
	if err != nil {
		return 0, err
	}
	return s.wsfe.LastAuthorized(ctx, creds, identity.Production, identity.CUIT, identity.PtoVta, cbteTipo)
}

// Authorize authenticates and requests a CAE for a new document.
func (s *Service) Authorize(ctx context.Context, identity *fiscal.Identity, req fiscal.AuthorizationRequest) (*fiscal.Authorization, error) {
	creds, err := s.wsaa.Login(ctx, identity.Certificate, identity.PrivateKey, identity.Production)
	if err != nil {
		return nil, err
	}
	return s.wsfe.Authorize(ctx, creds, identity.Production, identity.CUIT, identity.PtoVta, req)
}
