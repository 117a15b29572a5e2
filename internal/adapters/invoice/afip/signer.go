package afip

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallstep/pkcs7"
)

// ServiceWSFE is the service name requested in the authentication ticket.
const ServiceWSFE = "wsfe"

// traValidity is the window around generation time within which the ticket
// request is accepted by the login service.
const traValidity = 10 * time.Minute

// loginTicketRequest is the TRA document: a time-boxed request for an
// authentication ticket for one service.
type loginTicketRequest struct {
	XMLName xml.Name  `xml:"loginTicketRequest"`
	Version string    `xml:"version,attr"`
	Header  traHeader `xml:"header"`
	Service string    `xml:"service"`
}

type traHeader struct {
	UniqueID       int64  `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}

// BuildTRA renders the ticket-request XML for a service, valid from ten
// minutes before now until ten minutes after.
func BuildTRA(service string, now time.Time) ([]byte, error) {
	tra := loginTicketRequest{
		Version: "1.0",
		Header: traHeader{
			UniqueID:       now.Unix(),
			GenerationTime: now.Add(-traValidity).Format("2006-01-02T15:04:05-07:00"),
			ExpirationTime: now.Add(traValidity).Format("2006-01-02T15:04:05-07:00"),
		},
		Service: service,
	}

	body, err := xml.MarshalIndent(tra, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal ticket request: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// NormalizePEM returns material with BEGIN/END markers, adding them around
// bare base64 payloads. Configuration records sometimes store the payload
// without markers; parsing requires them.
func NormalizePEM(raw, blockType string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.Contains(trimmed, "-----BEGIN") {
		return trimmed + "\n"
	}

	payload := strings.Join(strings.Fields(trimmed), "")
	var b strings.Builder
	b.WriteString("-----BEGIN " + blockType + "-----\n")
	for len(payload) > 64 {
		b.WriteString(payload[:64])
		b.WriteByte('\n')
		payload = payload[64:]
	}
	if payload != "" {
		b.WriteString(payload)
		b.WriteByte('\n')
	}
	b.WriteString("-----END " + blockType + "-----\n")
	return b.String()
}

// ParseCertificate parses a PEM certificate, normalizing missing markers.
func ParseCertificate(raw string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(NormalizePEM(raw, "CERTIFICATE")))
	if block == nil {
		return nil, &CryptoParseError{What: "certificate", Err: errors.New("no PEM block found")}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &CryptoParseError{What: "certificate", Err: err}
	}
	return cert, nil
}

// ParsePrivateKey parses a PEM private key in PKCS#8, PKCS#1 or EC form,
// normalizing missing markers.
func ParsePrivateKey(raw string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode([]byte(NormalizePEM(raw, "PRIVATE KEY")))
	if block == nil {
		return nil, &CryptoParseError{What: "private key", Err: errors.New("no PEM block found")}
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, &CryptoParseError{What: "private key", Err: err}
	}
	return key, nil
}

// SignTRA wraps the ticket request in a CMS SignedData envelope carrying the
// signer certificate and a SHA-256 signature, returned base64 encoded as the
// login service expects it.
func SignTRA(tra []byte, certificate, privateKey string) (string, error) {
	cert, err := ParseCertificate(certificate)
	if err != nil {
		return "", err
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}

	signed, err := pkcs7.NewSignedData(tra)
	if err != nil {
		return "", fmt.Errorf("build signed data: %w", err)
	}
	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := signed.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return "", &CryptoParseError{What: "signer credentials", Err: err}
	}

	der, err := signed.Finish()
	if err != nil {
		return "", fmt.Errorf("finish signed data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
