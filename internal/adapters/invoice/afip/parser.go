package afip

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// Best-effort extraction over the legacy XML responses. The envelopes are
// machine-generated and stable enough for anchored expressions; swapping in
// a real XML decoder only needs to touch this file.
var (
	caeRe       = regexp.MustCompile(`(?s)<CAE>\s*(\d+)\s*</CAE>`)
	caeFchVtoRe = regexp.MustCompile(`(?s)<CAEFchVto>\s*(\d{8})\s*</CAEFchVto>`)
	resultadoRe = regexp.MustCompile(`(?s)<Resultado>\s*([A-Z])\s*</Resultado>`)
	cbteDesdeRe = regexp.MustCompile(`(?s)<CbteDesde>\s*(\d+)\s*</CbteDesde>`)
	cbteHastaRe = regexp.MustCompile(`(?s)<CbteHasta>\s*(\d+)\s*</CbteHasta>`)

	errBlockRe = regexp.MustCompile(`(?s)<Err>\s*<Code>(.*?)</Code>\s*<Msg>(.*?)</Msg>\s*</Err>`)
	obsBlockRe = regexp.MustCompile(`(?s)<Obs>\s*<Code>(.*?)</Code>\s*<Msg>(.*?)</Msg>\s*</Obs>`)
	evtBlockRe = regexp.MustCompile(`(?s)<Evt>\s*<Code>(.*?)</Code>\s*<Msg>(.*?)</Msg>\s*</Evt>`)
)

// Authorization result codes reported by the authority.
const (
	ResultApproved = "A"
	ResultRejected = "R"
)

// AggregateMessages collects every error, observation and event pair from a
// raw response into one human-readable string, errors first, then
// observations, then events. Observations can accompany an approved
// document and must never be dropped.
func AggregateMessages(raw string) string {
	var parts []string
	for _, m := range errBlockRe.FindAllStringSubmatch(raw, -1) {
		parts = append(parts, fmt.Sprintf("error %s: %s", strings.TrimSpace(m[1]), strings.TrimSpace(m[2])))
	}
	for _, m := range obsBlockRe.FindAllStringSubmatch(raw, -1) {
		parts = append(parts, fmt.Sprintf("observation %s: %s", strings.TrimSpace(m[1]), strings.TrimSpace(m[2])))
	}
	for _, m := range evtBlockRe.FindAllStringSubmatch(raw, -1) {
		parts = append(parts, fmt.Sprintf("event %s: %s", strings.TrimSpace(m[1]), strings.TrimSpace(m[2])))
	}
	return strings.Join(parts, "; ")
}

// ParseCAEResponse extracts the authorization code, its expiry, the granted
// number range, the overall result and the aggregated messages from a raw
// authorization response.
//
// A rejected result without an authorization code yields RejectedError with
// the aggregated message. A response carrying neither code nor expiry is
// malformed and yields UnparsableResponseError with a truncated excerpt.
func ParseCAEResponse(raw string) (*fiscal.Authorization, error) {
	cae := firstGroup(caeRe, raw)
	fchVto := firstGroup(caeFchVtoRe, raw)
	result := firstGroup(resultadoRe, raw)
	messages := AggregateMessages(raw)

	if result == ResultRejected && cae == "" {
		return nil, &RejectedError{Message: messages}
	}
	if cae == "" && fchVto == "" {
		return nil, &UnparsableResponseError{Excerpt: Truncate(raw, 400)}
	}

	auth := &fiscal.Authorization{
		CAE:      cae,
		Result:   result,
		Messages: messages,
	}

	if fchVto != "" {
		expiry, err := time.Parse("20060102", fchVto)
		if err != nil {
			return nil, &UnparsableResponseError{Excerpt: "bad expiry date " + fchVto}
		}
		auth.CAEExpiry = expiry
	}

	if m := firstGroup(cbteDesdeRe, raw); m != "" {
		auth.CbteDesde, _ = strconv.ParseInt(m, 10, 64)
	}
	if m := firstGroup(cbteHastaRe, raw); m != "" {
		auth.CbteHasta, _ = strconv.ParseInt(m, 10, 64)
	}

	return auth, nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
