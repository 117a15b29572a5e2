package fiscal

import (
	"context"
	"errors"
	"sort"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// healthMessageLimit caps the stored failure message so a verbose SOAP fault
// never bloats the identity record.
const healthMessageLimit = 500

// CheckConnection exercises the authority with the branch's credentials by
// querying the last authorized number for each letter the branch can emit.
// The snapshot is stored on the identity and returned along with the
// production flag so operators can tell live from simulated setups.
func (s *Service) CheckConnection(ctx context.Context, branchID string) (*fiscal.HealthSnapshot, bool, error) {
	identity, err := s.identities.Get(ctx, branchID)
	if err != nil {
		if errors.Is(err, fiscal.ErrNotFound) {
			return s.saveSnapshot(ctx, branchID, fiscal.HealthSnapshot{
				Status:  fiscal.HealthUnconfigured,
				Message: "branch has no fiscal configuration",
			}), false, nil
		}
		return nil, false, err
	}
	if !identity.Complete() {
		return s.saveSnapshot(ctx, branchID, fiscal.HealthSnapshot{
			Status:  fiscal.HealthUnconfigured,
			Message: "fiscal configuration incomplete",
		}), identity.Production, nil
	}

	if !identity.Production {
		numbers := make(map[string]int64, len(fiscal.HealthCheckTypes))
		for letter, tipo := range fiscal.HealthCheckTypes {
			numbers[letter] = identity.Counters[tipo]
		}
		return s.saveSnapshot(ctx, branchID, fiscal.HealthSnapshot{
			Status:      fiscal.HealthConnected,
			LastNumbers: numbers,
		}), false, nil
	}

	numbers := make(map[string]int64, len(fiscal.HealthCheckTypes))
	for _, letter := range sortedLetters() {
		tipo := fiscal.HealthCheckTypes[letter]
		n, err := s.authorizer.LastAuthorized(ctx, identity, tipo)
		if err != nil {
			msg := truncate(err.Error(), healthMessageLimit)
			s.recordError(ctx, "verificar conexion", msg, "", "")
			return s.saveSnapshot(ctx, branchID, fiscal.HealthSnapshot{
				Status:  fiscal.HealthError,
				Message: msg,
			}), true, nil
		}
		numbers[letter] = n
	}

	return s.saveSnapshot(ctx, branchID, fiscal.HealthSnapshot{
		Status:      fiscal.HealthConnected,
		LastNumbers: numbers,
	}), true, nil
}

// saveSnapshot stamps and stores the snapshot; storage failures are logged
// only, the caller still gets the fresh result.
func (s *Service) saveSnapshot(ctx context.Context, branchID string, snap fiscal.HealthSnapshot) *fiscal.HealthSnapshot {
	snap.CheckedAt = s.now()
	if err := s.identities.SaveHealth(ctx, branchID, snap); err != nil {
		s.log.Error("failed to store health snapshot", "branch_id", branchID, "error", err)
	}
	return &snap
}

func sortedLetters() []string {
	letters := make([]string, 0, len(fiscal.HealthCheckTypes))
	for l := range fiscal.HealthCheckTypes {
		letters = append(letters, l)
	}
	sort.Strings(letters)
	return letters
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
