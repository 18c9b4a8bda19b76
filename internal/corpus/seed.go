package corpus

import (
	"context"
	"fmt"

	"github.com/bizpilot/bizpilot/internal/storage"
)

// seedDocs is a starter knowledge base for a small consulting business. Fixed
// ids make seeding idempotent: re-running replaces rather than duplicates.
var seedDocs = []AddRequest{
	{
		ID:      "seed-pricing-tiers",
		Title:   "Pricing tiers",
		DocType: storage.DocTypePricing,
		Body: "We offer three engagement tiers. Starter: $1,500/month for up to 20 hours of support, email-only, 48-hour response time. Growth: $4,000/month for up to 60 hours, includes a dedicated account manager and weekly check-in calls. Enterprise: custom pricing for 100+ hours/month with an on-site option and a 4-hour response SLA. All tiers are month-to-month with no setup fee; annual commitments get a 15% discount.",
	},
	{
		ID:      "seed-onboarding-faq",
		Title:   "Onboarding process FAQ",
		DocType: storage.DocTypeFAQ,
		Body: "Onboarding takes one to two weeks. Week one covers a kickoff call, access setup and an audit of your current tooling. Week two delivers the engagement plan and the first working session. You need to provide a single point of contact and read-only access to the systems in scope. There is no onboarding fee. You can pause or cancel with 30 days notice at any point.",
	},
	{
		ID:      "seed-case-study-retail",
		Title:   "Case study: regional retailer cut fulfillment errors 40%",
		DocType: storage.DocTypeCaseStudy,
		Body: "A 12-store regional retailer came to us with a 6% order error rate and manual inventory reconciliation eating 25 staff-hours a week. Over a 3-month Growth engagement we integrated their POS with their warehouse system, automated nightly reconciliation and trained two in-house staff. Result: fulfillment errors down 40%, reconciliation time down to 4 hours a week, payback inside the first quarter.",
	},
	{
		ID:      "seed-refund-policy",
		Title:   "Refund and cancellation policy",
		DocType: storage.DocTypePolicy,
		Body: "Monthly plans can be cancelled with 30 days written notice; unused prepaid hours in the final month are refunded pro rata. Annual plans can be cancelled at the 6-month mark with a refund of the remaining months minus the annual discount already applied. We do not refund completed work. Disputes go to your account manager first and are escalated to a principal within 5 business days.",
	},
	{
		ID:      "seed-services-scope",
		Title:   "What we do and do not do",
		DocType: storage.DocTypeFAQ,
		Body: "We handle operations automation, systems integration, reporting dashboards and vendor selection for small and mid-size businesses. We do not do custom mobile app development, hardware installation or staffing. If your request is outside scope we will say so on the first call and, where we can, refer you to a partner.",
	},
}

// Seed installs the starter corpus, embedding each document.
func (m *Manager) Seed(ctx context.Context) (int, error) {
	for _, req := range seedDocs {
		if _, err := m.Add(ctx, req); err != nil {
			return 0, fmt.Errorf("seeding %s: %w", req.ID, err)
		}
	}
	return len(seedDocs), nil
}
