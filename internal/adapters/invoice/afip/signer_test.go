package afip

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuildTRA(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	tra, err := BuildTRA(ServiceWSFE, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := string(tra)
	if !strings.Contains(body, "<service>wsfe</service>") {
		t.Error("expected service wsfe in ticket request")
	}
	if !strings.Contains(body, "<uniqueId>"+`1741953600`+"</uniqueId>") {
		t.Errorf("expected uniqueId from unix time, got:\n%s", body)
	}
	// Validity window is ten minutes either side of now.
	if !strings.Contains(body, "<generationTime>2025-03-14T11:50:00+00:00</generationTime>") {
		t.Errorf("unexpected generation time:\n%s", body)
	}
	if !strings.Contains(body, "<expirationTime>2025-03-14T12:10:00+00:00</expirationTime>") {
		t.Errorf("unexpected expiration time:\n%s", body)
	}
}

func TestNormalizePEM(t *testing.T) {
	t.Run("already marked", func(t *testing.T) {
		got := NormalizePEM("  "+testCertificate+"  ", "CERTIFICATE")
		if !strings.HasPrefix(got, "-----BEGIN CERTIFICATE-----") {
			t.Error("expected markers preserved")
		}
		if strings.Count(got, "-----BEGIN") != 1 {
			t.Error("markers must not be duplicated")
		}
	})

	t.Run("bare payload gets markers and reflow", func(t *testing.T) {
		payload := strings.Repeat("QUJDRA==", 30)
		got := NormalizePEM(payload, "CERTIFICATE")
		if !strings.HasPrefix(got, "-----BEGIN CERTIFICATE-----\n") {
			t.Error("expected BEGIN marker added")
		}
		if !strings.HasSuffix(got, "-----END CERTIFICATE-----\n") {
			t.Error("expected END marker added")
		}
		for _, line := range strings.Split(got, "\n") {
			if len(line) > 64 {
				t.Errorf("line exceeds 64 chars: %q", line)
			}
		}
	})

	t.Run("whitespace inside payload collapsed", func(t *testing.T) {
		got := NormalizePEM("QUJD\n  REVG\t Z0hJ", "PRIVATE KEY")
		if !strings.Contains(got, "QUJDREVGZ0hJ") {
			t.Errorf("expected whitespace stripped, got %q", got)
		}
	})
}

func TestParseCertificateAndKey(t *testing.T) {
	cert, err := ParseCertificate(testCertificate)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if cert.Subject.CommonName != "test-facturacion" {
		t.Errorf("unexpected subject %q", cert.Subject.CommonName)
	}

	if _, err := ParsePrivateKey(testPrivateKey); err != nil {
		t.Fatalf("parse private key: %v", err)
	}
}

func TestParseCertificate_Garbage(t *testing.T) {
	_, err := ParseCertificate("not a certificate")
	var parseErr *CryptoParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected CryptoParseError, got %v", err)
	}
	if parseErr.What != "certificate" {
		t.Errorf("unexpected What %q", parseErr.What)
	}
}

func TestSignTRA(t *testing.T) {
	tra, err := BuildTRA(ServiceWSFE, time.Now())
	if err != nil {
		t.Fatalf("build ticket request: %v", err)
	}

	cms, err := SignTRA(tra, testCertificate, testPrivateKey)
	if err != nil {
		t.Fatalf("sign ticket request: %v", err)
	}

	der, err := base64.StdEncoding.DecodeString(cms)
	if err != nil {
		t.Fatalf("signature is not valid base64: %v", err)
	}
	if len(der) == 0 {
		t.Fatal("empty signature")
	}
	// The SignedData envelope embeds the ticket request verbatim.
	if !strings.Contains(string(der), "<service>wsfe</service>") {
		t.Error("expected ticket request embedded in the signed envelope")
	}
}

func TestSignTRA_BadKey(t *testing.T) {
	tra, _ := BuildTRA(ServiceWSFE, time.Now())
	if _, err := SignTRA(tra, testCertificate, "garbage"); err == nil {
		t.Error("expected error for unparsable key")
	}
}
