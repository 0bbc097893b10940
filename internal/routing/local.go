package routing

// QuickPick is the lightweight local-only selection mode used by warmup and
// other paths that run before full routing context is available. It never
// considers hosted providers and never fails for budget reasons.
type QuickPick struct {
	Provider   string
	SmallModel string // low quality floors
	LargeModel string // everything else

	// Overrides maps an integration kind to a preferred stronger local model
	// for structured extraction style tasks, with a fallback to try when
	// the preferred model is unavailable.
	Overrides map[string]LocalChoice
}

// LocalChoice is a local model plus the tag to fall back to.
type LocalChoice struct {
	Model    string
	Fallback string
}

// DefaultQuickPick returns the stock local model mapping.
func DefaultQuickPick() QuickPick {
	triage := LocalChoice{Model: "qwen2.5:7b-instruct", Fallback: "phi3:mini"}
	return QuickPick{
		Provider:   "ollama",
		SmallModel: "tinyllama",
		LargeModel: "phi3:mini",
		Overrides: map[string]LocalChoice{
			"mail.triage":        triage,
			"mail.summarize":     triage,
			"mail.draft_reply":   triage,
			"crm.inbox_lead":     triage,
			"crm.mail_lead":      triage,
			"crm.thread_summary": triage,
		},
	}
}

// Pick selects a runnable local model for the given quality floor, honoring
// the integration-kind override table first. The floor-based picks carry no
// fallback; there is nothing cheaper to retreat to.
func (q QuickPick) Pick(qualityFloor int, integrationKind string) LocalChoice {
	if integrationKind != "" {
		if c, ok := q.Overrides[integrationKind]; ok {
			return c
		}
	}
	if qualityFloor <= 2 {
		return LocalChoice{Model: q.SmallModel}
	}
	return LocalChoice{Model: q.LargeModel}
}

// Model is Pick without the fallback tag.
func (q QuickPick) Model(qualityFloor int, integrationKind string) string {
	return q.Pick(qualityFloor, integrationKind).Model
}
