package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"

	"draftclinic/internal/credential"
	"draftclinic/internal/db"
	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
	"draftclinic/internal/migrate"
	"draftclinic/internal/storage"
)

const testPassword = "Secret123"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Files  afero.Fs
	Super  domain.Actor
	Admin  domain.Actor
	Client domain.Actor
	Other  domain.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	credential.Cost = bcrypt.MinCost
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	files := afero.NewMemMapFs()
	eng := engine.New(conn, storage.NewLocalStoreFs(files), slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	env := testEnv{Engine: eng, Ctx: context.Background(), Files: files}

	env.Super, err = eng.BootstrapSuperAdmin(env.Ctx, "boss@example.com", testPassword, engine.Profile{FirstName: "Ada", LastName: "Boss"})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	env.Admin, err = eng.CreateAdmin(env.Ctx, env.Super.ID, "editor@example.com", testPassword, engine.Profile{FirstName: "Eve", LastName: "Editor"})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	env.Client, err = eng.RegisterClient(env.Ctx, "student@example.com", testPassword, engine.Profile{FirstName: "Sam", LastName: "Student"})
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	env.Other, err = eng.RegisterClient(env.Ctx, "other@example.com", testPassword, engine.Profile{FirstName: "Olu", LastName: "Other"})
	if err != nil {
		t.Fatalf("register other: %v", err)
	}
	return env
}

func file(name, content string) engine.FileInput {
	return engine.FileInput{Name: name, Content: strings.NewReader(content)}
}

func (env testEnv) submit(t *testing.T) domain.Request {
	t.Helper()
	rq, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		ActorID:     env.Client.ID,
		ServiceType: "thesis",
		Title:       "Chapter 3 review",
		Description: "Methodology chapter",
		Deadline:    "2024-02-01",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return rq
}

// startWork drives a fresh request to in_progress with a verified deposit.
func (env testEnv) startWork(t *testing.T) domain.Request {
	t.Helper()
	rq := env.submit(t)
	deposit := 40.0
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 100, Deposit: &deposit}); err != nil {
		t.Fatalf("send quote: %v", err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, env.Client.ID, rq.ID); err != nil {
		t.Fatalf("accept quote: %v", err)
	}
	p, err := env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Amount: 40, Method: "bank_transfer"})
	if err != nil {
		t.Fatalf("submit payment: %v", err)
	}
	_, rq, err = env.Engine.VerifyPayment(env.Ctx, engine.VerifyPaymentOptions{ActorID: env.Admin.ID, PaymentID: p.ID, Approve: true})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	return rq
}

func (env testEnv) actions(t *testing.T, actorID, requestID string) []domain.ActionType {
	t.Helper()
	entries, err := env.Engine.ListActivity(env.Ctx, engine.ActivityOptions{ActorID: actorID, RequestID: requestID, Ascending: true})
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	out := make([]domain.ActionType, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func storedFiles(t *testing.T, fs afero.Fs) int {
	t.Helper()
	infos, err := afero.ReadDir(fs, "/")
	if err != nil {
		return 0
	}
	return len(infos)
}

func isState(err error) bool {
	var se domain.StateError
	return errors.As(err, &se)
}

func isAuthz(err error) bool {
	var ae domain.AuthorizationError
	return errors.As(err, &ae)
}

func isNotFound(err error) bool {
	var ne domain.NotFoundError
	return errors.As(err, &ne)
}

func isValidation(err error) bool {
	var ve domain.ValidationError
	return errors.As(err, &ve)
}

func TestHappyPathToDelivery(t *testing.T) {
	env := newTestEnv(t)
	rq := env.startWork(t)
	if rq.Status != domain.StatusInProgress || !rq.DepositPaid {
		t.Fatalf("expected in_progress with deposit, got %s deposit=%v", rq.Status, rq.DepositPaid)
	}
	if rq.Deadline == nil || *rq.Deadline != "2024-02-01T00:00:00Z" {
		t.Fatalf("deadline not normalized: %v", rq.Deadline)
	}
	doc, err := env.Engine.UploadDeliverable(env.Ctx, engine.DeliverableOptions{ActorID: env.Admin.ID, RequestID: rq.ID, File: file("final.docx", "done"), Comment: "first draft"})
	if err != nil {
		t.Fatalf("deliverable: %v", err)
	}
	if doc.Type != domain.DocDeliverable || doc.Description != "first draft" {
		t.Fatalf("unexpected deliverable %+v", doc)
	}
	rq, err = env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusDelivered})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if rq.ProgressPercentage != 100 || rq.DeliveredAt == nil {
		t.Fatalf("delivered request must be complete: %+v", rq)
	}

	got, rc, err := env.Engine.OpenDocument(env.Ctx, env.Client.ID, doc.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "done" || got.ID != doc.ID {
		t.Fatalf("unexpected download %q", body)
	}

	want := []domain.ActionType{
		domain.ActionStatusChange,
		domain.ActionQuoteSent,
		domain.ActionQuoteAccepted,
		domain.ActionPaymentSubmitted,
		domain.ActionPaymentVerified,
		domain.ActionDelivery,
		domain.ActionStatusChange,
		domain.ActionProgressUpdate,
		domain.ActionDownload,
	}
	have := env.actions(t, env.Admin.ID, rq.ID)
	if len(have) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), have)
	}
	for i := range want {
		if have[i] != want[i] {
			t.Fatalf("entry %d: expected %s, got %s (%v)", i, want[i], have[i], have)
		}
	}
}

func TestPaymentRejectionAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 80}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, env.Client.ID, rq.ID); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{
		ActorID: env.Client.ID, RequestID: rq.ID, Amount: 80, Type: domain.PaymentFull, Method: "mobile_money",
		Proof: &engine.FileInput{Name: "receipt.png", Content: strings.NewReader("png")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.ProofDocumentID == nil {
		t.Fatalf("expected proof document")
	}
	p, rq, err = env.Engine.VerifyPayment(env.Ctx, engine.VerifyPaymentOptions{ActorID: env.Admin.ID, PaymentID: p.ID, Reason: "unreadable receipt"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.Status != domain.PaymentRejected || rq.Status != domain.StatusAwaitingDeposit || rq.DepositPaid {
		t.Fatalf("unexpected state after rejection: %s %s", p.Status, rq.Status)
	}
	if _, _, err := env.Engine.VerifyPayment(env.Ctx, engine.VerifyPaymentOptions{ActorID: env.Admin.ID, PaymentID: p.ID, Approve: true}); !isState(err) {
		t.Fatalf("expected state error verifying twice, got %v", err)
	}
	if _, err := env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Amount: 80, Type: domain.PaymentFull, Method: "mobile_money"}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	ps, err := env.Engine.ListPayments(env.Ctx, env.Client.ID, rq.ID)
	if err != nil || len(ps) != 2 {
		t.Fatalf("expected two payments: %v %d", err, len(ps))
	}
}

func TestPendingDepositOnClosedRequest(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 60}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, env.Client.ID, rq.ID); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Amount: 60, Type: domain.PaymentFull, Method: "cash"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusCancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := env.Engine.VerifyPayment(env.Ctx, engine.VerifyPaymentOptions{ActorID: env.Admin.ID, PaymentID: p.ID, Approve: true}); !isState(err) {
		t.Fatalf("approving a deposit on a cancelled request should fail, got %v", err)
	}
	p, rq, err = env.Engine.VerifyPayment(env.Ctx, engine.VerifyPaymentOptions{ActorID: env.Admin.ID, PaymentID: p.ID, Reason: "request cancelled"})
	if err != nil {
		t.Fatalf("reject on cancelled request: %v", err)
	}
	if p.Status != domain.PaymentRejected || rq.Status != domain.StatusCancelled {
		t.Fatalf("payment should be rejected and the request stay cancelled: %s %s", p.Status, rq.Status)
	}
}

func TestPaymentGuards(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	_, err := env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Amount: 10, Method: "cash"})
	if !isState(err) {
		t.Fatalf("deposit before quote acceptance should fail, got %v", err)
	}
	_, err = env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Amount: 10, Type: domain.PaymentFinal, Method: "cash"})
	if !isState(err) {
		t.Fatalf("final payment before work should fail, got %v", err)
	}
	_, err = env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Amount: 10})
	if !isValidation(err) {
		t.Fatalf("missing method should be a validation error, got %v", err)
	}
	_, err = env.Engine.SubmitPayment(env.Ctx, engine.SubmitPaymentOptions{ActorID: env.Other.ID, RequestID: rq.ID, Amount: 10, Method: "cash"})
	if !isAuthz(err) {
		t.Fatalf("non-owner payment should be forbidden, got %v", err)
	}
}

func TestQuoteGuards(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	deposit := 150.0
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 100, Deposit: &deposit}); !isValidation(err) {
		t.Fatalf("deposit above amount should fail, got %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Client.ID, RequestID: rq.ID, Amount: 100}); !isAuthz(err) {
		t.Fatalf("client cannot quote, got %v", err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, env.Client.ID, rq.ID); !isState(err) {
		t.Fatalf("accepting without a quote should fail, got %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 100}); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 120}); !isState(err) {
		t.Fatalf("re-quoting a sent quote should fail, got %v", err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, env.Other.ID, rq.ID); !isAuthz(err) {
		t.Fatalf("other client cannot accept, got %v", err)
	}
}

func TestDeliveredProgressBoundary(t *testing.T) {
	env := newTestEnv(t)
	rq := env.startWork(t)
	forty := 40
	rq, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusDelivered, Progress: &forty})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if rq.ProgressPercentage != 100 {
		t.Fatalf("delivered must force 100, got %d", rq.ProgressPercentage)
	}
	if rq.DeliveredAt == nil {
		t.Fatalf("delivered_at must be stamped")
	}
	again, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusDelivered, Progress: &forty})
	if err != nil || again.ProgressPercentage != 100 || again.Version != rq.Version {
		t.Fatalf("re-delivering with lower progress should stay at 100 without a write: %v %+v", err, again)
	}
	fifty := 50
	same, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Progress: &fifty})
	if err != nil || same.ProgressPercentage != 100 || same.Version != rq.Version {
		t.Fatalf("progress on a delivered request stays at 100: %v %+v", err, same)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusInProgress}); !isState(err) {
		t.Fatalf("delivered is final without force, got %v", err)
	}
	reopened, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusInProgress, Force: true})
	if err != nil {
		t.Fatalf("forced reopen: %v", err)
	}
	if reopened.DeliveredAt != nil {
		t.Fatalf("leaving delivered must clear delivered_at, got %v", *reopened.DeliveredAt)
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusCompleted}); !isState(err) {
		t.Fatalf("expected transition error, got %v", err)
	}
	rq, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusUnderReview})
	if err != nil || rq.Status != domain.StatusUnderReview {
		t.Fatalf("to under_review: %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: "paused"}); !isValidation(err) {
		t.Fatalf("unknown status should be a validation error, got %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusInProgress, Force: true}); !isState(err) {
		t.Fatalf("force must not start work without a verified deposit, got %v", err)
	}
	detail, err := env.Engine.GetRequest(env.Ctx, env.Admin.ID, rq.ID)
	if err != nil || detail.Request.Status != domain.StatusUnderReview || detail.Request.DepositPaid {
		t.Fatalf("refused move should leave the request untouched: %v %+v", err, detail.Request)
	}
	rq, err = env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusCompleted, Force: true})
	if err != nil || rq.Status != domain.StatusCompleted {
		t.Fatalf("forced move: %v", err)
	}
	entries, err := env.Engine.ListActivity(env.Ctx, engine.ActivityOptions{ActorID: env.Admin.ID, RequestID: rq.ID})
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Metadata["forced"] != true {
		t.Fatalf("forced move should be recorded: %+v", entries[0].Metadata)
	}
	reason := "out of scope"
	rq, err = env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusCancelled, Notes: &reason, Force: true})
	if err != nil || rq.Status != domain.StatusCancelled || rq.AdminNotes != reason {
		t.Fatalf("cancel: %v %+v", err, rq)
	}
	if _, err := env.Engine.UploadDocument(env.Ctx, engine.UploadOptions{ActorID: env.Client.ID, RequestID: rq.ID, File: file("late.pdf", "x")}); !isState(err) {
		t.Fatalf("uploads to a cancelled request should fail, got %v", err)
	}
}

func TestRejectionRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	rq, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusRejected, RejectionReason: "plagiarised source"})
	if err != nil {
		t.Fatal(err)
	}
	if rq.RejectionReason != "plagiarised source" {
		t.Fatalf("reason not stored: %q", rq.RejectionReason)
	}
	entries, err := env.Engine.ListActivity(env.Ctx, engine.ActivityOptions{ActorID: env.Client.ID, RequestID: rq.ID})
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Metadata["rejection_reason"] != "plagiarised source" {
		t.Fatalf("expected reason in log: %+v", entries[0].Metadata)
	}
}

func TestVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	stale := rq.Version
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusUnderReview, ExpectedVersion: &stale}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	_, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusCancelled, ExpectedVersion: &stale})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestVisibilityAndAuthorization(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	if _, err := env.Engine.GetRequest(env.Ctx, env.Other.ID, rq.ID); !isNotFound(err) {
		t.Fatalf("other client should not see the request, got %v", err)
	}
	if _, err := env.Engine.GetRequest(env.Ctx, env.Admin.ID, rq.ID); err != nil {
		t.Fatalf("staff should see every request: %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{ActorID: env.Other.ID, RequestID: rq.ID, Text: "hi"}); !isAuthz(err) {
		t.Fatalf("other client cannot comment, got %v", err)
	}
	if _, err := env.Engine.UploadDeliverable(env.Ctx, engine.DeliverableOptions{ActorID: env.Client.ID, RequestID: rq.ID, File: file("a.pdf", "x")}); !isAuthz(err) {
		t.Fatalf("client cannot deliver, got %v", err)
	}
	if _, err := env.Engine.GetRequest(env.Ctx, "nobody", rq.ID); !isAuthz(err) {
		t.Fatalf("unknown actor should be rejected, got %v", err)
	}
	if _, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{ActorID: env.Admin.ID, ServiceType: "editing", Title: "x"}); !isAuthz(err) {
		t.Fatalf("staff cannot submit, got %v", err)
	}
}

func TestInactiveActorIsRejected(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	raw, key, err := env.Engine.CreateAPIKey(env.Ctx, env.Admin.ID, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	admin, err := env.Engine.ToggleAdminStatus(env.Ctx, env.Super.ID, env.Admin.ID)
	if err != nil || admin.Active {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 10}); !isAuthz(err) {
		t.Fatalf("inactive admin should be rejected, got %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "editor@example.com", testPassword); !isAuthz(err) {
		t.Fatalf("inactive admin cannot log in, got %v", err)
	}
	if _, err := env.Engine.ListAPIKeys(env.Ctx, env.Admin.ID); !isAuthz(err) {
		t.Fatalf("inactive admin cannot list api keys, got %v", err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, env.Admin.ID, key.ID); !isAuthz(err) {
		t.Fatalf("inactive admin cannot delete api keys, got %v", err)
	}
	if _, err := env.Engine.ResolveAPIKey(env.Ctx, raw); !isAuthz(err) {
		t.Fatalf("key of an inactive admin must not resolve, got %v", err)
	}
	if _, err := env.Engine.ToggleAdminStatus(env.Ctx, env.Super.ID, env.Admin.ID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, engine.SendQuoteOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Amount: 10}); err != nil {
		t.Fatalf("reactivated admin: %v", err)
	}
}

func TestDeadlineExtensionFlow(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	x, err := env.Engine.RequestDeadlineExtension(env.Ctx, engine.ExtensionOptions{ActorID: env.Admin.ID, RequestID: rq.ID, NewDeadline: "2024-02-15T12:00", Reason: "sources late"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if x.NewDeadline != "2024-02-15T12:00:00Z" || x.OriginalDeadline == nil || *x.OriginalDeadline != "2024-02-01T00:00:00Z" {
		t.Fatalf("unexpected extension %+v", x)
	}
	if _, err := env.Engine.RequestDeadlineExtension(env.Ctx, engine.ExtensionOptions{ActorID: env.Admin.ID, RequestID: rq.ID, NewDeadline: "2024-03-01"}); !isState(err) {
		t.Fatalf("only one pending extension allowed, got %v", err)
	}
	if _, err := env.Engine.RequestDeadlineExtension(env.Ctx, engine.ExtensionOptions{ActorID: env.Admin.ID, RequestID: rq.ID, NewDeadline: "soon"}); !isValidation(err) {
		t.Fatalf("bad date should be a validation error, got %v", err)
	}
	if _, _, err := env.Engine.RespondDeadlineExtension(env.Ctx, engine.RespondExtensionOptions{ActorID: env.Other.ID, ExtensionID: x.ID, Approve: true}); !isNotFound(err) {
		t.Fatalf("other client should not see the extension, got %v", err)
	}
	if _, _, err := env.Engine.RespondDeadlineExtension(env.Ctx, engine.RespondExtensionOptions{ActorID: env.Admin.ID, ExtensionID: x.ID, Approve: true}); !isAuthz(err) {
		t.Fatalf("staff cannot answer for the client, got %v", err)
	}
	x, rq, err = env.Engine.RespondDeadlineExtension(env.Ctx, engine.RespondExtensionOptions{ActorID: env.Client.ID, ExtensionID: x.ID, Approve: true, Message: "ok"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if x.Status != domain.ExtensionApproved || rq.Deadline == nil || *rq.Deadline != "2024-02-15T12:00:00Z" {
		t.Fatalf("deadline not applied: %+v", rq.Deadline)
	}
	if _, _, err := env.Engine.RespondDeadlineExtension(env.Ctx, engine.RespondExtensionOptions{ActorID: env.Client.ID, ExtensionID: x.ID}); !isState(err) {
		t.Fatalf("answering twice should fail, got %v", err)
	}
	next, err := env.Engine.RequestDeadlineExtension(env.Ctx, engine.ExtensionOptions{ActorID: env.Admin.ID, RequestID: rq.ID, NewDeadline: "2024-03-01"})
	if err != nil {
		t.Fatalf("propose after resolution: %v", err)
	}
	_, rq, err = env.Engine.RespondDeadlineExtension(env.Ctx, engine.RespondExtensionOptions{ActorID: env.Client.ID, ExtensionID: next.ID})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if *rq.Deadline != "2024-02-15T12:00:00Z" {
		t.Fatalf("rejection must keep the deadline, got %s", *rq.Deadline)
	}
	xs, err := env.Engine.ListDeadlineExtensions(env.Ctx, env.Client.ID, rq.ID)
	if err != nil || len(xs) != 2 {
		t.Fatalf("expected two extensions: %v %d", err, len(xs))
	}
}

func TestRevisionFlow(t *testing.T) {
	env := newTestEnv(t)
	rq := env.startWork(t)
	doc, err := env.Engine.UploadDeliverable(env.Ctx, engine.DeliverableOptions{ActorID: env.Admin.ID, RequestID: rq.ID, File: file("draft.docx", "v1")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestRevision(env.Ctx, engine.RevisionOptions{ActorID: env.Client.ID, RequestID: rq.ID, DeliveryDocumentID: doc.ID, Details: "fix refs"}); !isState(err) {
		t.Fatalf("revision before completion should fail, got %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Status: domain.StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	rv, err := env.Engine.RequestRevision(env.Ctx, engine.RevisionOptions{
		ActorID: env.Client.ID, RequestID: rq.ID, DeliveryDocumentID: doc.ID, Details: "fix refs",
		Attachments: []engine.FileInput{file("notes.txt", "page 4")},
	})
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if rv.Status != domain.RevisionPending || len(rv.Attachments) != 1 {
		t.Fatalf("unexpected revision %+v", rv)
	}
	if _, err := env.Engine.RequestRevision(env.Ctx, engine.RevisionOptions{ActorID: env.Client.ID, RequestID: rq.ID, DeliveryDocumentID: doc.ID, Details: "again"}); !isState(err) {
		t.Fatalf("second open revision should fail, got %v", err)
	}
	if _, err := env.Engine.HandleRevision(env.Ctx, engine.HandleRevisionOptions{ActorID: env.Admin.ID, RevisionID: rv.ID, Action: engine.RevisionReject}); !isValidation(err) {
		t.Fatalf("rejection needs a response, got %v", err)
	}
	if _, err := env.Engine.HandleRevision(env.Ctx, engine.HandleRevisionOptions{ActorID: env.Admin.ID, RevisionID: rv.ID, Action: engine.RevisionComplete}); !isState(err) {
		t.Fatalf("completing a pending revision should fail, got %v", err)
	}
	rv, err = env.Engine.HandleRevision(env.Ctx, engine.HandleRevisionOptions{ActorID: env.Admin.ID, RevisionID: rv.ID, Action: engine.RevisionAccept})
	if err != nil || rv.Status != domain.RevisionInProgress {
		t.Fatalf("accept: %v", err)
	}
	detail, err := env.Engine.GetRequest(env.Ctx, env.Client.ID, rq.ID)
	if err != nil || detail.Request.Status != domain.StatusRevision {
		t.Fatalf("request should be in revision: %v", err)
	}
	f := file("draft-v2.docx", "v2")
	rv, err = env.Engine.HandleRevision(env.Ctx, engine.HandleRevisionOptions{ActorID: env.Admin.ID, RevisionID: rv.ID, Action: engine.RevisionComplete, File: &f})
	if err != nil || rv.Status != domain.RevisionCompleted {
		t.Fatalf("complete: %v", err)
	}
	docs, err := env.Engine.ListDocuments(env.Ctx, env.Client.ID, rq.ID, domain.DocRevision)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one revision document: %v %d", err, len(docs))
	}
	revs, err := env.Engine.ListRevisions(env.Ctx, env.Client.ID, rq.ID)
	if err != nil || len(revs) != 1 || len(revs[0].Attachments) != 1 {
		t.Fatalf("unexpected revisions: %v %+v", err, revs)
	}
	have := env.actions(t, env.Client.ID, rq.ID)
	tail := have[len(have)-3:]
	if tail[0] != domain.ActionRevisionRequest || tail[1] != domain.ActionStatusChange || tail[2] != domain.ActionRevisionDelivery {
		t.Fatalf("unexpected revision timeline %v", have)
	}
}

func TestCommentsAreAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	rq := env.submit(t)
	a, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Text: "any news?"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Text: "any news?"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID || b.ID <= a.ID {
		t.Fatalf("identical comments must be distinct entries: %d %d", a.ID, b.ID)
	}
	if _, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{ActorID: env.Admin.ID, RequestID: rq.ID, Text: "check refs", Internal: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Text: "secret", Internal: true}); !isValidation(err) {
		t.Fatalf("client cannot post internal notes, got %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{ActorID: env.Client.ID, RequestID: rq.ID, Text: "   "}); !isValidation(err) {
		t.Fatalf("blank comment should fail, got %v", err)
	}
	if n := len(env.actions(t, env.Client.ID, rq.ID)); n != 3 {
		t.Fatalf("client should see 3 entries, got %d", n)
	}
	if n := len(env.actions(t, env.Admin.ID, rq.ID)); n != 4 {
		t.Fatalf("staff should see 4 entries, got %d", n)
	}
}

func TestUploadsRollBackFiles(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		ActorID:     env.Client.ID,
		ServiceType: "editing",
		Title:       "Essay",
		Attachments: []engine.FileInput{file("essay.pdf", "ok"), file("virus.exe", "bad")},
	})
	if !isValidation(err) {
		t.Fatalf("disallowed extension should be a validation error, got %v", err)
	}
	if n := storedFiles(t, env.Files); n != 0 {
		t.Fatalf("expected no stored files, found %d", n)
	}
	page, err := env.Engine.ListRequests(env.Ctx, engine.ListRequestsOptions{ActorID: env.Client.ID})
	if err != nil || len(page.Requests) != 0 {
		t.Fatalf("failed submit must not leave a request: %v %d", err, len(page.Requests))
	}

	rq, docs, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		ActorID:     env.Client.ID,
		ServiceType: "editing",
		Title:       "Essay",
		Attachments: []engine.FileInput{file("essay.pdf", "ok")},
	})
	if err != nil || len(docs) != 1 {
		t.Fatalf("submit with file: %v", err)
	}
	if _, err := env.Engine.UploadDocument(env.Ctx, engine.UploadOptions{ActorID: env.Other.ID, RequestID: rq.ID, File: file("x.pdf", "x")}); !isAuthz(err) {
		t.Fatalf("other client upload should be forbidden, got %v", err)
	}
	if n := storedFiles(t, env.Files); n != 1 {
		t.Fatalf("expected exactly one stored file, found %d", n)
	}
	if _, _, err := env.Engine.OpenDocument(env.Ctx, env.Other.ID, docs[0].ID); !isNotFound(err) {
		t.Fatalf("other client cannot download, got %v", err)
	}
}

func TestListRequestsPaginates(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.submit(t)
	}
	first, err := env.Engine.ListRequests(env.Ctx, engine.ListRequestsOptions{ActorID: env.Admin.ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Requests) != 2 || first.NextCursor == "" {
		t.Fatalf("expected a full first page with a cursor, got %d %q", len(first.Requests), first.NextCursor)
	}
	second, err := env.Engine.ListRequests(env.Ctx, engine.ListRequestsOptions{ActorID: env.Admin.ID, Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Requests) != 1 || second.NextCursor != "" {
		t.Fatalf("expected a final page of one, got %d %q", len(second.Requests), second.NextCursor)
	}
	for _, rq := range first.Requests {
		if rq.ID == second.Requests[0].ID {
			t.Fatalf("pages overlap on %s", rq.ID)
		}
	}
	if _, err := env.Engine.ListRequests(env.Ctx, engine.ListRequestsOptions{ActorID: env.Admin.ID, Cursor: "%%%"}); !isValidation(err) {
		t.Fatalf("bad cursor should fail validation, got %v", err)
	}
	other, err := env.Engine.ListRequests(env.Ctx, engine.ListRequestsOptions{ActorID: env.Other.ID})
	if err != nil || len(other.Requests) != 0 {
		t.Fatalf("clients only list their own requests: %v %d", err, len(other.Requests))
	}
	filtered, err := env.Engine.ListRequests(env.Ctx, engine.ListRequestsOptions{ActorID: env.Admin.ID, Statuses: []domain.RequestStatus{domain.StatusInProgress}})
	if err != nil || len(filtered.Requests) != 0 {
		t.Fatalf("status filter: %v %d", err, len(filtered.Requests))
	}
}

func TestDashboards(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t)
	env.startWork(t)

	admin, err := env.Engine.AdminDashboard(env.Ctx, env.Admin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if admin.TotalRequests != 2 || admin.Pending != 1 || admin.InProgress != 1 || admin.TotalClients != 2 || admin.PendingPayments != 0 {
		t.Fatalf("unexpected admin dashboard %+v", admin)
	}
	if admin.ByStatus[string(domain.StatusSubmitted)] != 1 || len(admin.RecentRequests) != 2 || len(admin.RecentActivities) == 0 {
		t.Fatalf("unexpected admin breakdown %+v", admin)
	}
	if _, err := env.Engine.AdminDashboard(env.Ctx, env.Client.ID); !isAuthz(err) {
		t.Fatalf("client cannot see the admin dashboard, got %v", err)
	}

	client, err := env.Engine.ClientDashboard(env.Ctx, env.Client.ID)
	if err != nil {
		t.Fatal(err)
	}
	if client.Total != 2 || client.InProgress != 1 || client.PendingQuote != 1 || client.Completed != 0 {
		t.Fatalf("unexpected client dashboard %+v", client)
	}
	empty, err := env.Engine.ClientDashboard(env.Ctx, env.Other.ID)
	if err != nil || empty.Total != 0 {
		t.Fatalf("other client dashboard: %v %+v", err, empty)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.RequestStatus
		want     bool
	}{
		{domain.StatusSubmitted, domain.StatusUnderReview, true},
		{domain.StatusInProgress, domain.StatusDelivered, true},
		{domain.StatusRevision, domain.StatusInProgress, true},
		{domain.StatusDelivered, domain.StatusInProgress, false},
		{domain.StatusCancelled, domain.StatusSubmitted, false},
		{domain.StatusSubmitted, domain.StatusQuoteSent, false},
	}
	for _, tc := range cases {
		if got := engine.CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v", tc.from, tc.to, tc.want)
		}
	}
}
