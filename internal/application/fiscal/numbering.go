package fiscal

import (
	"context"
	"fmt"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// nextInvoiceNumber resolves the number for a new document of the given
// type. Phase one takes a candidate from the storage-atomic counter; in live
// mode phase two queries the authority's last authorized number immediately
// before the request and self-heals any drift.
func (s *Service) nextInvoiceNumber(ctx context.Context, identity *fiscal.Identity, cbteTipo int) (int64, error) {
	candidate, err := s.identities.NextNumber(ctx, identity.BranchID, cbteTipo)
	if err != nil {
		return 0, fmt.Errorf("advance local counter: %w", err)
	}

	if !identity.Production {
		return candidate, nil
	}
	return s.reconcile(ctx, identity, cbteTipo, candidate)
}

// nextCreditNoteNumber resolves the number for a new credit note. Credit
// notes run an independent sequence seeded from the highest locally stored
// number of that type, then reconcile against the authority like invoices.
func (s *Service) nextCreditNoteNumber(ctx context.Context, identity *fiscal.Identity, cbteTipo int) (int64, error) {
	highest, err := s.documents.MaxNumber(ctx, identity.BranchID, cbteTipo)
	if err != nil {
		return 0, fmt.Errorf("query local credit-note sequence: %w", err)
	}
	candidate := highest + 1

	if !identity.Production {
		return candidate, nil
	}
	return s.reconcile(ctx, identity, cbteTipo, candidate)
}

// reconcile recomputes the candidate as lastAuthorized+1 and corrects the
// local counter when they disagree. Drift comes from missed updates or
// multi-terminal races; the authority's counter is authoritative.
func (s *Service) reconcile(ctx context.Context, identity *fiscal.Identity, cbteTipo int, candidate int64) (int64, error) {
	last, err := s.authorizer.LastAuthorized(ctx, identity, cbteTipo)
	if err != nil {
		return 0, err
	}

	expected := last + 1
	if expected != candidate {
		s.log.Warn("document number drift corrected",
			"branch_id", identity.BranchID,
			"cbte_tipo", cbteTipo,
			"local_candidate", candidate,
			"authority_next", expected,
		)
		if err := s.identities.SetCounter(ctx, identity.BranchID, cbteTipo, expected); err != nil {
			return 0, fmt.Errorf("correct local counter: %w", err)
		}
	}
	return expected, nil
}

// settleCounter advances the local counter to the number that was actually
// authorized, so the next reconciliation is a no-op absent external drift.
// A failure here is not fatal: the document is already valid and the drift
// self-heals on the next issuance.
func (s *Service) settleCounter(ctx context.Context, branchID string, cbteTipo int, number int64) {
	if err := s.identities.SetCounter(ctx, branchID, cbteTipo, number); err != nil {
		s.log.Error("failed to settle counter after authorization",
			"branch_id", branchID,
			"cbte_tipo", cbteTipo,
			"number", number,
			"error", err,
		)
	}
}
