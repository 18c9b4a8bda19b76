package api

import (
	"encoding/json"
	"time"

	"github.com/bizpilot/bizpilot/internal/storage"
)

// leadJSON is the wire shape for a lead.
type leadJSON struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	Company        string  `json:"company,omitempty"`
	Message        string  `json:"message"`
	Source         string  `json:"source"`
	Tier           string  `json:"tier,omitempty"`
	TierConfidence float64 `json:"tier_confidence,omitempty"`
	Status         string  `json:"status"`
	LastError      string  `json:"last_error,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toLeadJSON(l storage.Lead) leadJSON {
	return leadJSON{
		ID:             l.ID,
		Name:           l.Name,
		Email:          l.Email,
		Company:        l.Company,
		Message:        l.Message,
		Source:         l.Source,
		Tier:           l.Tier,
		TierConfidence: l.TierConfidence,
		Status:         l.Status,
		LastError:      l.LastError,
		CreatedAt:      l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      l.UpdatedAt.Format(time.RFC3339),
	}
}

func leadsJSON(leads []storage.Lead) []leadJSON {
	out := make([]leadJSON, 0, len(leads))
	for _, l := range leads {
		out = append(out, toLeadJSON(l))
	}
	return out
}

// classificationJSON is the wire shape for a classification result.
type classificationJSON struct {
	ID          string   `json:"id"`
	Tier        string   `json:"tier"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	EvidenceIDs []string `json:"evidence_ids"`
	Superseded  bool     `json:"superseded"`
	CreatedAt   string   `json:"created_at"`
}

func toClassificationJSON(c storage.ClassificationResult) classificationJSON {
	return classificationJSON{
		ID:          c.ID,
		Tier:        c.Tier,
		Confidence:  c.Confidence,
		Explanation: c.Explanation,
		EvidenceIDs: decodeIDs(c.EvidenceIDs),
		Superseded:  c.Superseded,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
}

// messageJSON is the wire shape for a generated message. AutoSend flags
// drafts confident enough to send without an edit pass; the review decision
// still belongs to the human.
type messageJSON struct {
	ID          string   `json:"id"`
	LeadID      string   `json:"lead_id"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Channel     string   `json:"channel"`
	Confidence  float64  `json:"confidence"`
	Status      string   `json:"status"`
	EvidenceIDs []string `json:"evidence_ids"`
	TemplateID  string   `json:"template_id"`
	AutoSend    bool     `json:"auto_send_recommended"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toMessageJSON(m storage.GeneratedMessage, autoSendThreshold float64) messageJSON {
	return messageJSON{
		ID:          m.ID,
		LeadID:      m.LeadID,
		Subject:     m.Subject,
		Body:        m.Body,
		Channel:     m.Channel,
		Confidence:  m.Confidence,
		Status:      m.Status,
		EvidenceIDs: decodeIDs(m.EvidenceIDs),
		TemplateID:  m.TemplateID,
		AutoSend:    m.Confidence >= autoSendThreshold,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   m.UpdatedAt.Format(time.RFC3339),
	}
}

func decodeIDs(s string) []string {
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil || ids == nil {
		return []string{}
	}
	return ids
}
