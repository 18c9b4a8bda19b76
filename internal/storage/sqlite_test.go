package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testLead(id string) Lead {
	return Lead{
		ID:      id,
		Name:    "Ada",
		Email:   "ada@example.com",
		Company: "Ada's Bakery",
		Message: "What does the Growth tier cost?",
		Source:  "web",
	}
}

func TestLeadLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveLead(testLead("lead-1")); err != nil {
		t.Fatalf("SaveLead: %v", err)
	}

	got, err := s.GetLead("lead-1")
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if got.Status != LeadStatusNew {
		t.Errorf("new lead status = %q, want %q", got.Status, LeadStatusNew)
	}
	if got.Tier != "" {
		t.Errorf("new lead tier = %q, want empty", got.Tier)
	}

	if err := s.AttachClassification("lead-1", TierHot, 0.91); err != nil {
		t.Fatalf("AttachClassification: %v", err)
	}
	got, err = s.GetLead("lead-1")
	if err != nil {
		t.Fatalf("GetLead after attach: %v", err)
	}
	if got.Status != LeadStatusTriaged || got.Tier != TierHot || got.TierConfidence != 0.91 {
		t.Errorf("triaged lead = %q/%q/%v, want triaged/hot/0.91", got.Status, got.Tier, got.TierConfidence)
	}

	if err := s.MarkLeadFailed("lead-1", "provider down"); err != nil {
		t.Fatalf("MarkLeadFailed: %v", err)
	}
	got, _ = s.GetLead("lead-1")
	if got.Status != LeadStatusFailed || got.LastError != "provider down" {
		t.Errorf("failed lead = %q/%q, want failed/provider down", got.Status, got.LastError)
	}
}

func TestGetLeadNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetLead("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLead(missing) = %v, want ErrNotFound", err)
	}
}

func TestListLeadsFilters(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveLead(testLead(id)); err != nil {
			t.Fatalf("SaveLead(%s): %v", id, err)
		}
	}
	if err := s.AttachClassification("a", TierHot, 0.9); err != nil {
		t.Fatalf("AttachClassification: %v", err)
	}
	if err := s.AttachClassification("b", TierCold, 0.6); err != nil {
		t.Fatalf("AttachClassification: %v", err)
	}

	hot, err := s.ListLeads(LeadFilter{Tier: TierHot})
	if err != nil {
		t.Fatalf("ListLeads(hot): %v", err)
	}
	if len(hot) != 1 || hot[0].ID != "a" {
		t.Errorf("hot leads = %v, want [a]", hot)
	}

	fresh, err := s.ListLeads(LeadFilter{Status: LeadStatusNew})
	if err != nil {
		t.Fatalf("ListLeads(new): %v", err)
	}
	if len(fresh) != 1 || fresh[0].ID != "c" {
		t.Errorf("new leads = %v, want [c]", fresh)
	}
}

func TestSaveClassificationSupersedes(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveLead(testLead("lead-1")); err != nil {
		t.Fatalf("SaveLead: %v", err)
	}

	first := ClassificationResult{ID: "c1", LeadID: "lead-1", Tier: TierWarm, Confidence: 0.7, Explanation: "asks how it works"}
	if err := s.SaveClassification(first); err != nil {
		t.Fatalf("SaveClassification(first): %v", err)
	}

	second := ClassificationResult{ID: "c2", LeadID: "lead-1", Tier: TierHot, Confidence: 0.9, Explanation: "asks for pricing"}
	if err := s.SaveClassification(second); err != nil {
		t.Fatalf("SaveClassification(second): %v", err)
	}

	active, err := s.ActiveClassification("lead-1")
	if err != nil {
		t.Fatalf("ActiveClassification: %v", err)
	}
	if active.ID != "c2" || active.Superseded {
		t.Errorf("active = %s superseded=%v, want c2 active", active.ID, active.Superseded)
	}

	all, err := s.ListClassifications("lead-1")
	if err != nil {
		t.Fatalf("ListClassifications: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("history length = %d, want 2", len(all))
	}
	for _, c := range all {
		if c.ID == "c1" && !c.Superseded {
			t.Errorf("c1 should be superseded")
		}
	}
}

func TestSaveTriageOutcomeWritesAllOrNothing(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveLead(testLead("lead-1")); err != nil {
		t.Fatalf("SaveLead: %v", err)
	}

	cls := ClassificationResult{ID: "c1", LeadID: "lead-1", Tier: TierHot, Confidence: 0.88, Explanation: "asks for pricing"}
	msg := GeneratedMessage{ID: "m1", LeadID: "lead-1", Subject: "Pricing", Body: "The Growth tier is $49/mo."}
	if err := s.SaveTriageOutcome(cls, msg); err != nil {
		t.Fatalf("SaveTriageOutcome: %v", err)
	}

	active, err := s.ActiveClassification("lead-1")
	if err != nil || active.ID != "c1" {
		t.Errorf("active = %v/%v, want c1", active.ID, err)
	}
	pending, err := s.PendingMessageForLead("lead-1")
	if err != nil || pending.ID != "m1" {
		t.Errorf("pending = %v/%v, want m1", pending.ID, err)
	}
	lead, _ := s.GetLead("lead-1")
	if lead.Status != LeadStatusTriaged || lead.Tier != TierHot || lead.TierConfidence != 0.88 {
		t.Errorf("lead = %q/%q/%v, want triaged/hot/0.88", lead.Status, lead.Tier, lead.TierConfidence)
	}
}

func TestSaveTriageOutcomeRollsBackOnMissingLead(t *testing.T) {
	s := openTestStore(t)

	cls := ClassificationResult{ID: "c1", LeadID: "ghost", Tier: TierHot, Confidence: 0.9}
	msg := GeneratedMessage{ID: "m1", LeadID: "ghost", Body: "draft"}
	if err := s.SaveTriageOutcome(cls, msg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveTriageOutcome for missing lead = %v, want ErrNotFound", err)
	}

	// Nothing from the failed transaction may remain visible.
	if _, err := s.ActiveClassification("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("classification survived the rollback: %v", err)
	}
	if _, err := s.GetMessage("m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("message survived the rollback: %v", err)
	}
}

func TestSaveTriageOutcomeSupersedesPrior(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveLead(testLead("lead-1")); err != nil {
		t.Fatalf("SaveLead: %v", err)
	}
	if err := s.SaveClassification(ClassificationResult{ID: "c1", LeadID: "lead-1", Tier: TierWarm, Confidence: 0.7}); err != nil {
		t.Fatalf("SaveClassification: %v", err)
	}

	cls := ClassificationResult{ID: "c2", LeadID: "lead-1", Tier: TierHot, Confidence: 0.9}
	msg := GeneratedMessage{ID: "m1", LeadID: "lead-1", Body: "draft"}
	if err := s.SaveTriageOutcome(cls, msg); err != nil {
		t.Fatalf("SaveTriageOutcome: %v", err)
	}

	active, err := s.ActiveClassification("lead-1")
	if err != nil {
		t.Fatalf("ActiveClassification: %v", err)
	}
	if active.ID != "c2" {
		t.Errorf("active = %s, want c2", active.ID)
	}
}

func TestActiveClassificationNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.ActiveClassification("lead-x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActiveClassification = %v, want ErrNotFound", err)
	}
}

func TestReviewMessageTransitions(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveLead(testLead("lead-1")); err != nil {
		t.Fatalf("SaveLead: %v", err)
	}
	msg := GeneratedMessage{ID: "m1", LeadID: "lead-1", Subject: "Hi", Body: "Original body"}
	if err := s.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := s.ReviewMessage("m1", MessageStatusEdited, "New subject", "New body"); err != nil {
		t.Fatalf("ReviewMessage(edit): %v", err)
	}
	got, err := s.GetMessage("m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != MessageStatusEdited || got.Subject != "New subject" || got.Body != "New body" {
		t.Errorf("edited message = %q/%q/%q", got.Status, got.Subject, got.Body)
	}

	// A reviewed message cannot transition again.
	if err := s.ReviewMessage("m1", MessageStatusApproved, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("second review = %v, want ErrNotFound", err)
	}
}

func TestPendingMessageForLead(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveLead(testLead("lead-1")); err != nil {
		t.Fatalf("SaveLead: %v", err)
	}
	if err := s.SaveMessage(GeneratedMessage{ID: "m1", LeadID: "lead-1", Body: "draft"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := s.PendingMessageForLead("lead-1")
	if err != nil {
		t.Fatalf("PendingMessageForLead: %v", err)
	}
	if got.ID != "m1" || got.Channel != "email" || got.EvidenceIDs != "[]" {
		t.Errorf("pending = %+v, want m1 with email channel and [] evidence", got)
	}

	if err := s.ReviewMessage("m1", MessageStatusRejected, "", ""); err != nil {
		t.Fatalf("ReviewMessage: %v", err)
	}
	if _, err := s.PendingMessageForLead("lead-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after reject, pending = %v, want ErrNotFound", err)
	}
}

func TestJobClaimAndRetry(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "triage_lead", PayloadJSON: `{"lead_id":"l1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"triage_lead"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j1" || job.Status != "running" {
		t.Fatalf("claimed = %+v, want j1 running", job)
	}
	if job.MaxAttempts != 3 {
		t.Errorf("default max attempts = %d, want 3", job.MaxAttempts)
	}

	// A running job is not claimable.
	again, err := s.ClaimNextJob([]string{"triage_lead"})
	if err != nil {
		t.Fatalf("ClaimNextJob(second): %v", err)
	}
	if again != nil {
		t.Errorf("claimed running job %s", again.ID)
	}

	// Retry with a future run_after keeps it unclaimable until due.
	if err := s.RetryJob("j1", "timeout", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "pending" || got.Attempts != 1 || got.LastError != "timeout" {
		t.Errorf("retried job = %q attempts=%d err=%q", got.Status, got.Attempts, got.LastError)
	}
	if claimed, _ := s.ClaimNextJob([]string{"triage_lead"}); claimed != nil {
		t.Errorf("claimed job before run_after")
	}
}

func TestDeferJobDoesNotCountAttempt(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueJob(Job{ID: "j1", Type: "triage_lead", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"triage_lead"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.DeferJob("j1", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("DeferJob: %v", err)
	}
	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "pending" || got.Attempts != 0 {
		t.Errorf("deferred job = %q attempts=%d, want pending/0", got.Status, got.Attempts)
	}
}

func TestFailJobIsTerminal(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueJob(Job{ID: "j1", Type: "triage_lead", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"triage_lead"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j1", "exhausted"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	if claimed, _ := s.ClaimNextJob([]string{"triage_lead"}); claimed != nil {
		t.Errorf("claimed failed job %s", claimed.ID)
	}
	got, _ := s.GetJob("j1")
	if got.Status != "failed" || got.LastError != "exhausted" {
		t.Errorf("failed job = %q/%q", got.Status, got.LastError)
	}
}

func TestModelCallsAppendAndCount(t *testing.T) {
	s := openTestStore(t)

	for i, ok := range []bool{true, false, true} {
		call := ModelCall{
			ID:        string(rune('a' + i)),
			Operation: "classify",
			Tokens:    100,
			Success:   ok,
		}
		if err := s.AppendModelCall(call); err != nil {
			t.Fatalf("AppendModelCall: %v", err)
		}
	}

	n, err := s.CountModelCalls("classify")
	if err != nil {
		t.Fatalf("CountModelCalls: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	calls, err := s.ListModelCalls("classify", 10)
	if err != nil {
		t.Fatalf("ListModelCalls: %v", err)
	}
	if len(calls) != 3 {
		t.Errorf("listed %d calls, want 3", len(calls))
	}
	if calls, _ := s.ListModelCalls("generate_message", 10); len(calls) != 0 {
		t.Errorf("unexpected generate_message calls: %d", len(calls))
	}
}

func TestKnowledgeDocReplace(t *testing.T) {
	s := openTestStore(t)

	doc := KnowledgeDoc{ID: "d1", Title: "Pricing", Body: "Old body", DocType: DocTypePricing}
	if err := s.SaveKnowledgeDoc(doc); err != nil {
		t.Fatalf("SaveKnowledgeDoc: %v", err)
	}

	doc.Body = "New body"
	if err := s.SaveKnowledgeDoc(doc); err != nil {
		t.Fatalf("SaveKnowledgeDoc(replace): %v", err)
	}

	got, err := s.GetKnowledgeDoc("d1")
	if err != nil {
		t.Fatalf("GetKnowledgeDoc: %v", err)
	}
	if got.Body != "New body" {
		t.Errorf("body = %q, want replaced", got.Body)
	}

	docs, err := s.ListKnowledgeDocs(10)
	if err != nil {
		t.Fatalf("ListKnowledgeDocs: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("replace created duplicate: %d rows", len(docs))
	}

	if err := s.DeleteKnowledgeDoc("d1"); err != nil {
		t.Fatalf("DeleteKnowledgeDoc: %v", err)
	}
	if err := s.DeleteKnowledgeDoc("d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}
