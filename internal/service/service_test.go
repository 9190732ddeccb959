package service

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-damage-issues/internal/client"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/logger"
	"github.com/pesio-ai/be-damage-issues/internal/repository"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

var (
	clock = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	preparer = workflow.Actor{ID: "u-prep", DisplayName: "Pat", Branch: "B01", PositionTitle: "Staff"}
	checker  = workflow.Actor{ID: "u-chk", DisplayName: "Chris", Branch: "B01", PositionTitle: "Loss Prevention Officer"}
	bm       = workflow.Actor{ID: "u-bm", DisplayName: "Bo", Branch: "B01", PositionTitle: "Branch Manager"}
	om       = workflow.Actor{ID: "u-om", DisplayName: "Olu", Branch: "HQ", PositionTitle: "Operation Manager"}
	account  = workflow.Actor{ID: "u-acc", DisplayName: "Ari", Branch: "HQ", PositionTitle: "Accountant"}
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]workflow.Document
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]workflow.Document{}}
}

func copyDoc(d workflow.Document) workflow.Document {
	d.Approvals = d.Approvals.Clone()
	d.Items = append([]workflow.LineItem(nil), d.Items...)
	return d
}

func (f *fakeStore) Create(_ context.Context, doc *workflow.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.Version = 1
	f.docs[doc.ID] = copyDoc(*doc)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*workflow.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	c := copyDoc(d)
	return &c, nil
}

func (f *fakeStore) List(_ context.Context, flt repository.ListFilter) ([]*workflow.Document, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*workflow.Document
	for _, d := range f.docs {
		if flt.Status != nil && string(d.Status) != *flt.Status {
			continue
		}
		c := copyDoc(d)
		out = append(out, &c)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) ListByStatuses(_ context.Context, statuses []workflow.DocumentStatus, branch string, limit, offset int) ([]*workflow.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*workflow.Document{}
	for _, d := range f.docs {
		if branch != "" && d.Branch != branch {
			continue
		}
		for _, s := range statuses {
			if d.Status == s {
				c := copyDoc(d)
				out = append(out, &c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []*workflow.Document{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) SaveTransition(_ context.Context, doc *workflow.Document, expected int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	cur, ok := f.docs[doc.ID]
	if !ok {
		return errors.NotFound("document", doc.ID)
	}
	if cur.Version != expected {
		return errors.VersionConflict("document", doc.ID)
	}
	doc.Version = expected + 1
	f.docs[doc.ID] = copyDoc(*doc)
	f.saves++
	return nil
}

type fakeAudit struct {
	entries []*repository.ApprovalAuditEntry
	err     error
}

func (f *fakeAudit) Append(_ context.Context, e *repository.ApprovalAuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) GetByDocumentID(_ context.Context, id string) ([]*repository.ApprovalAuditEntry, error) {
	var out []*repository.ApprovalAuditEntry
	for _, e := range f.entries {
		if e.DocumentID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeEvents struct {
	events []*client.NotificationEvent
}

func (f *fakeEvents) PublishDocumentEvent(_ context.Context, e *client.NotificationEvent) {
	f.events = append(f.events, e)
}

type fixture struct {
	store    *fakeStore
	audit    *fakeAudit
	events   *fakeEvents
	docs     *DocumentService
	workflow *WorkflowService
}

func newFixture() *fixture {
	f := &fixture{store: newFakeStore(), audit: &fakeAudit{}, events: &fakeEvents{}}
	engine := workflow.NewEngine(workflow.WithClock(func() time.Time { return clock }))
	f.docs = NewDocumentService(f.store, f.audit, engine, f.events, logger.Nop())
	f.docs.newID = func() string { return "0f8fad5b-d9cb-469f-a165-70867728950e" }
	f.workflow = NewWorkflowService(f.store, f.audit, engine, f.events, logger.Nop())
	f.workflow.now = func() time.Time { return clock.Add(time.Minute) }
	return f
}

func (f *fixture) create(t *testing.T, unitPrice int64) *workflow.Document {
	t.Helper()
	doc, err := f.docs.CreateDocument(context.Background(), preparer, &CreateDocumentRequest{
		Items: []LineItemRequest{{Description: "Shelf", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(unitPrice)}},
	})
	require.NoError(t, err)
	return doc
}

// ── DocumentService ───────────────────────────────────────────────────────────

func TestCreateDocument(t *testing.T) {
	f := newFixture()
	doc := f.create(t, 800_000)

	assert.Equal(t, workflow.StatusOngoing, doc.Status)
	assert.Equal(t, "DMG-20260302-0F8FAD5B", doc.Number)
	assert.Equal(t, "B01", doc.Branch)
	assert.Equal(t, int64(1), doc.Version)
	assert.True(t, doc.TotalAmount.Equal(decimal.NewFromInt(800_000)))
	assert.True(t, doc.Approvals.Acted(workflow.RolePreparer))
	assert.True(t, doc.Approvals.Has(workflow.RoleOperationManager))

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "created", f.audit.entries[0].Action)
	assert.Equal(t, "preparer", f.audit.entries[0].Role)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, client.EventDocumentCreated, f.events.events[0].EventType)
	assert.Equal(t, []string{"checker", "branch_manager"}, f.events.events[0].Recipients)
}

func TestCreateDocument_LogsThresholdDecision(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture()
	f.docs.log = logger.New(logger.Config{Level: "info", Environment: "test", Output: &buf})

	f.create(t, 800_000)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Damage document created", line["message"])
	assert.Equal(t, "500000", line["operation_threshold"])
	assert.Equal(t, true, line["operation_stage"])
}

func TestCreateDocument_Validation(t *testing.T) {
	f := newFixture()
	one := decimal.NewFromInt(1)

	tests := []struct {
		name  string
		actor workflow.Actor
		req   *CreateDocumentRequest
		code  string
		field string
	}{
		{"no actor", workflow.Actor{}, &CreateDocumentRequest{}, errors.ErrCodeUnauthorized, ""},
		{"no items", preparer, &CreateDocumentRequest{}, errors.ErrCodeInvalidInput, "items"},
		{"blank description", preparer, &CreateDocumentRequest{Items: []LineItemRequest{{Description: " ", Quantity: one}}}, errors.ErrCodeInvalidInput, "items[0].description"},
		{"zero quantity", preparer, &CreateDocumentRequest{Items: []LineItemRequest{{Description: "x"}}}, errors.ErrCodeInvalidInput, "items[0].quantity"},
		{"negative price", preparer, &CreateDocumentRequest{Items: []LineItemRequest{{Description: "x", Quantity: one, UnitPrice: decimal.NewFromInt(-1)}}}, errors.ErrCodeInvalidInput, "items[0].unit_price"},
		{"quantity finer than stored", preparer, &CreateDocumentRequest{Items: []LineItemRequest{{Description: "x", Quantity: decimal.RequireFromString("1.00025"), UnitPrice: one}}}, errors.ErrCodeInvalidInput, "items[0].quantity"},
		{"unit price finer than cents", preparer, &CreateDocumentRequest{Items: []LineItemRequest{{Description: "x", Quantity: one, UnitPrice: decimal.RequireFromString("499900.021")}}}, errors.ErrCodeInvalidInput, "items[0].unit_price"},
		{"no branch", workflow.Actor{ID: "u-x"}, &CreateDocumentRequest{Items: []LineItemRequest{{Description: "x", Quantity: one}}}, errors.ErrCodeInvalidInput, "branch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.docs.CreateDocument(context.Background(), tt.actor, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Field)
		})
	}
	assert.Empty(t, f.store.docs)
}

func TestListDocuments(t *testing.T) {
	f := newFixture()
	f.create(t, 100)

	bad := "pending"
	_, _, err := f.docs.ListDocuments(context.Background(), nil, &bad, 1, 10)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	ongoing := "ongoing"
	docs, total, err := f.docs.ListDocuments(context.Background(), nil, &ongoing, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, docs, 1)
}

// ── WorkflowService ───────────────────────────────────────────────────────────

func TestApplyAction_FullPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc := f.create(t, 800_000)

	steps := []struct {
		actor  workflow.Actor
		action string
		want   workflow.DocumentStatus
		event  string
	}{
		{checker, "check", workflow.StatusChecked, client.EventDocumentChecked},
		{bm, "approve", workflow.StatusBMApproved, client.EventDocumentApproved},
		{om, "acknowledge", workflow.StatusOperationAcknowledged, client.EventDocumentAcknowledged},
		{account, "issue", workflow.StatusCompleted, client.EventDocumentIssued},
	}
	for i, s := range steps {
		got, err := f.workflow.ApplyAction(ctx, s.actor, doc.ID, s.action, "")
		require.NoError(t, err, s.action)
		assert.Equal(t, s.want, got.Status)
		assert.Equal(t, int64(i+2), got.Version)
		assert.Equal(t, s.event, f.events.events[len(f.events.events)-1].EventType)
	}

	history, err := f.workflow.GetHistory(ctx, doc.ID)
	require.NoError(t, err)
	actions := make([]string, len(history))
	for i, e := range history {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{"created", "check", "approve", "acknowledge", "issue"}, actions)
	assert.Equal(t, "bm_approved", *history[3].StatusBefore)
	assert.Equal(t, []string{"preparer"}, f.events.events[len(f.events.events)-1].Recipients)
}

func TestApplyAction_Recipients(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc := f.create(t, 800_000)

	_, err := f.workflow.ApplyAction(ctx, bm, doc.ID, "approve", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"operation_manager"}, f.events.events[len(f.events.events)-1].Recipients)

	small := newFixture()
	d2 := small.create(t, 1_000)
	_, err = small.workflow.ApplyAction(ctx, bm, d2.ID, "approve", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"account"}, small.events.events[len(small.events.events)-1].Recipients)
}

func TestApplyAction_Denied(t *testing.T) {
	f := newFixture()
	doc := f.create(t, 800_000)
	auditBefore := len(f.audit.entries)

	_, err := f.workflow.ApplyAction(context.Background(), account, doc.ID, "issue", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePermissionDenied, errors.CodeOf(err))
	assert.Zero(t, f.store.saves)
	assert.Len(t, f.audit.entries, auditBefore)

	stored, _ := f.store.GetByID(context.Background(), doc.ID)
	assert.Equal(t, workflow.StatusOngoing, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestApplyAction_UnknownAction(t *testing.T) {
	f := newFixture()
	doc := f.create(t, 100)

	for _, a := range []string{"", "approve_all", "APPROVE"} {
		_, err := f.workflow.ApplyAction(context.Background(), bm, doc.ID, a, "")
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err), a)
	}
}

func TestApplyAction_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.workflow.ApplyAction(context.Background(), bm, "missing", "approve", "")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestApplyAction_VersionConflictPropagates(t *testing.T) {
	f := newFixture()
	doc := f.create(t, 100)
	f.store.saveErr = errors.VersionConflict("document", doc.ID)

	_, err := f.workflow.ApplyAction(context.Background(), checker, doc.ID, "check", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVersionConflict, errors.CodeOf(err))
	assert.Len(t, f.audit.entries, 1, "only the creation entry")
	assert.Len(t, f.events.events, 1, "only the creation event")
}

func TestApplyAction_StaleSnapshotLoses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc := f.create(t, 100)

	// another writer advances the stored version
	stale, _ := f.store.GetByID(ctx, doc.ID)
	_, err := f.workflow.ApplyAction(ctx, checker, doc.ID, "check", "")
	require.NoError(t, err)

	stale.Status = workflow.StatusChecked
	err = f.store.SaveTransition(ctx, stale, 1)
	assert.Equal(t, errors.ErrCodeVersionConflict, errors.CodeOf(err))
}

func TestApplyAction_AuditFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	doc := f.create(t, 100)
	f.audit.err = stderrors.New("audit table locked")

	got, err := f.workflow.ApplyAction(context.Background(), checker, doc.ID, "check", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusChecked, got.Status)
	chk, _ := got.Approvals.Stage(workflow.RoleChecker)
	assert.Equal(t, "looks fine", chk.Comment)
}

func TestGetAvailableAction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc := f.create(t, 800_000)
	_, err := f.workflow.ApplyAction(ctx, bm, doc.ID, "approve", "")
	require.NoError(t, err)

	view, err := f.workflow.GetAvailableAction(ctx, account, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ActionNone, view.Action)
	assert.Empty(t, view.Actions)
	assert.Equal(t, workflow.RoleAccount, view.Role)

	view, err = f.workflow.GetAvailableAction(ctx, om, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ActionAcknowledge, view.Action)
	assert.Equal(t, []workflow.ActionKind{workflow.ActionAcknowledge, workflow.ActionReject, workflow.ActionBackToPrevious}, view.Actions)
	assert.Equal(t, int64(2), view.Version)
}

func TestGetPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ids := []string{"a-doc", "b-doc", "c-doc"}
	for i, id := range ids {
		f.docs.newID = func() string { return id }
		f.create(t, []int64{100, 800_000, 800_000}[i])
	}
	_, err := f.workflow.ApplyAction(ctx, bm, "a-doc", "approve", "")
	require.NoError(t, err)
	_, err = f.workflow.ApplyAction(ctx, bm, "b-doc", "approve", "")
	require.NoError(t, err)

	pendingIDs := func(actor workflow.Actor) []string {
		docs, err := f.workflow.GetPending(ctx, actor)
		require.NoError(t, err)
		out := make([]string, len(docs))
		for i, d := range docs {
			out[i] = d.ID
		}
		return out
	}

	assert.Equal(t, []string{"a-doc"}, pendingIDs(account))
	assert.Equal(t, []string{"b-doc"}, pendingIDs(om))
	assert.Equal(t, []string{"c-doc"}, pendingIDs(checker))
	assert.Equal(t, []string{"c-doc"}, pendingIDs(bm))

	otherBranch := checker
	otherBranch.Branch = "B02"
	assert.Empty(t, pendingIDs(otherBranch))
	assert.Empty(t, pendingIDs(workflow.Actor{ID: "u-sup", PositionTitle: "Supervisor"}))
}

func TestGetPending_BlockedDocumentsDoNotHideActionableOnes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 0; i <= defaultInboxLimit; i++ {
		id := fmt.Sprintf("d%04d", i)
		f.docs.newID = func() string { return id }
		amount := int64(800_000)
		if i == defaultInboxLimit {
			amount = 100
		}
		f.create(t, amount)
		_, err := f.workflow.ApplyAction(ctx, bm, id, "approve", "")
		require.NoError(t, err)
	}

	docs, err := f.workflow.GetPending(ctx, account)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, fmt.Sprintf("d%04d", defaultInboxLimit), docs[0].ID)

	docs, err = f.workflow.GetPending(ctx, om)
	require.NoError(t, err)
	assert.Len(t, docs, defaultInboxLimit)
	assert.Equal(t, "d0000", docs[0].ID)
}

func TestGetHistory_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.workflow.GetHistory(context.Background(), "missing")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}
