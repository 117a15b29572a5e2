package fiscal

import "github.com/shopspring/decimal"

// VATRate is the single supported rate. Mixed-rate invoices are out of scope
// for the issuance orchestrator.
const VATRate = 21

// AlicIvaID21 is the authority's identifier for the 21% rate line.
const AlicIvaID21 = 5

var vatDivisor = decimal.NewFromFloat(1.21)

// SplitVAT derives the net and VAT portions of a VAT-inclusive total at the
// single 21% rate: net = total / 1.21 rounded to cents, VAT = total - net.
func SplitVAT(total float64) (net, vat float64) {
	t := decimal.NewFromFloat(total)
	n := t.DivRound(vatDivisor, 2)
	v := t.Sub(n).Round(2)
	net, _ = n.Float64()
	vat, _ = v.Float64()
	return net, vat
}
