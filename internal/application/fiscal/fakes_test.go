package fiscal

import (
	"context"
	"fmt"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

type fakeIdentities struct {
	identity  *fiscal.Identity
	getErr    error
	nextErr   error
	setErr    error
	setCalls  []counterSet
	snapshots []fiscal.HealthSnapshot
}

type counterSet struct {
	cbteTipo int
	number   int64
}

func (f *fakeIdentities) Get(_ context.Context, branchID string) (*fiscal.Identity, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.identity == nil || f.identity.BranchID != branchID {
		return nil, fiscal.ErrNotFound
	}
	return f.identity, nil
}

func (f *fakeIdentities) NextNumber(_ context.Context, _ string, cbteTipo int) (int64, error) {
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	if f.identity.Counters == nil {
		f.identity.Counters = map[int]int64{}
	}
	f.identity.Counters[cbteTipo]++
	return f.identity.Counters[cbteTipo], nil
}

func (f *fakeIdentities) SetCounter(_ context.Context, _ string, cbteTipo int, number int64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.setCalls = append(f.setCalls, counterSet{cbteTipo: cbteTipo, number: number})
	if f.identity.Counters == nil {
		f.identity.Counters = map[int]int64{}
	}
	f.identity.Counters[cbteTipo] = number
	return nil
}

func (f *fakeIdentities) SaveHealth(_ context.Context, _ string, snapshot fiscal.HealthSnapshot) error {
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

type fakeDocuments struct {
	byID     map[string]*fiscal.Document
	byOrder  map[string]*fiscal.Document
	saved    []*fiscal.Document
	saveErr  error
	marked   []string
	markErr  error
	maxByTipo map[int]int64
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		byID:      map[string]*fiscal.Document{},
		byOrder:   map[string]*fiscal.Document{},
		maxByTipo: map[int]int64{},
	}
}

func (f *fakeDocuments) Save(_ context.Context, doc *fiscal.Document) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, doc)
	f.byID[doc.ID] = doc
	if doc.Number > f.maxByTipo[doc.CbteTipo] {
		f.maxByTipo[doc.CbteTipo] = doc.Number
	}
	return nil
}

func (f *fakeDocuments) FindByID(_ context.Context, id string) (*fiscal.Document, error) {
	doc, ok := f.byID[id]
	if !ok {
		return nil, fiscal.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocuments) FindActiveByOrder(_ context.Context, orderID string) (*fiscal.Document, error) {
	doc, ok := f.byOrder[orderID]
	if !ok || doc.Cancelled {
		return nil, nil
	}
	return doc, nil
}

func (f *fakeDocuments) MaxNumber(_ context.Context, _ string, cbteTipo int) (int64, error) {
	return f.maxByTipo[cbteTipo], nil
}

func (f *fakeDocuments) MarkCancelled(_ context.Context, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	if doc, ok := f.byID[id]; ok {
		doc.Cancelled = true
	}
	return nil
}

type fakeOrders struct {
	attached []string
	err      error
}

func (f *fakeOrders) AttachAuthorization(_ context.Context, orderID string, _ *fiscal.Document) error {
	if f.err != nil {
		return f.err
	}
	f.attached = append(f.attached, orderID)
	return nil
}

type fakeErrorLog struct {
	records []fiscal.ErrorRecord
	err     error
}

func (f *fakeErrorLog) Record(_ context.Context, rec fiscal.ErrorRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeErrorLog) List(_ context.Context, stage string, limit int) ([]fiscal.ErrorRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []fiscal.ErrorRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if stage == "" || f.records[i].Stage == stage {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

type fakeAuthorizer struct {
	lastByTipo map[int]int64
	lastErr    error
	lastCalls  int

	auth          *fiscal.Authorization
	authorizeErr  error
	authorizeReqs []fiscal.AuthorizationRequest
}

func (f *fakeAuthorizer) LastAuthorized(_ context.Context, _ *fiscal.Identity, cbteTipo int) (int64, error) {
	f.lastCalls++
	if f.lastErr != nil {
		return 0, f.lastErr
	}
	return f.lastByTipo[cbteTipo], nil
}

func (f *fakeAuthorizer) Authorize(_ context.Context, _ *fiscal.Identity, req fiscal.AuthorizationRequest) (*fiscal.Authorization, error) {
	f.authorizeReqs = append(f.authorizeReqs, req)
	if f.authorizeErr != nil {
		return f.auth, f.authorizeErr
	}
	if f.auth != nil {
		return f.auth, nil
	}
	return &fiscal.Authorization{
		CAE:       fmt.Sprintf("71234%d", req.CbteDesde),
		CbteDesde: req.CbteDesde,
		CbteHasta: req.CbteHasta,
		Result:    "A",
	}, nil
}
