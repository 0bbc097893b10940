package pipeline

import (
	"strings"

	"github.com/pennyroute/pennyroute/internal/integrations"
)

// PromptTemplate is a prompt shape selected by task type. Templates are
// plain data; {{prompt}} and {{context}} are the only placeholders.
type PromptTemplate struct {
	System string
	User   string
}

var genericTemplate = PromptTemplate{
	User: "{{context}}{{prompt}}",
}

// taskTemplates maps task types and integration kinds to their prompt
// shapes. Anything not listed gets the generic context merge.
var taskTemplates = map[string]PromptTemplate{
	"triage": {
		System: "You label incoming messages. Answer with exactly one word: urgent, normal, or ignore.",
		User:   "{{context}}Classify this message:\n\n{{prompt}}",
	},
	"summary": {
		System: "You write terse factual summaries. No preamble, no bullet headers.",
		User:   "{{context}}Summarize:\n\n{{prompt}}",
	},
	"lead-decision": {
		System: "You decide whether a message describes a sales opportunity. Answer yes or no, then one sentence of reasoning.",
		User:   "{{context}}Message:\n\n{{prompt}}",
	},
	"draft": {
		System: "You draft professional but warm email replies. Output only the reply body.",
		User:   "{{context}}Draft a reply to:\n\n{{prompt}}",
	},

	string(integrations.KindMailTriage):       {System: "You label incoming messages. Answer with exactly one word: urgent, normal, or ignore.", User: "{{context}}Classify this message:\n\n{{prompt}}"},
	string(integrations.KindMailSummarize):    {System: "You write terse factual summaries. No preamble, no bullet headers.", User: "{{context}}Summarize this thread:\n\n{{prompt}}"},
	string(integrations.KindMailDraftReply):   {System: "You draft professional but warm email replies. Output only the reply body.", User: "{{context}}Draft a reply to:\n\n{{prompt}}"},
	string(integrations.KindCRMInboxLead):     {System: "You decide whether a message describes a sales opportunity. Answer yes or no, then one sentence of reasoning.", User: "{{context}}Message:\n\n{{prompt}}"},
	string(integrations.KindCRMMailLead):      {System: "You extract lead details from mail. Output company, contact, and what they want, one line each.", User: "{{context}}Mail:\n\n{{prompt}}"},
	string(integrations.KindCRMThreadSummary): {System: "You write terse factual summaries. No preamble, no bullet headers.", User: "{{context}}Summarize this thread for the CRM record:\n\n{{prompt}}"},
	string(integrations.KindDocsCreate):       {System: "You write well-structured documents in plain prose.", User: "{{context}}{{prompt}}"},
	string(integrations.KindRecruitingNote):   {System: "You write candidate evaluation notes. Be specific, cite evidence from the material.", User: "{{context}}Material:\n\n{{prompt}}"},
}

// RenderPrompt selects the template for a task and fills it in. Integration
// kind wins over task type when both are set. Prefetched context, when
// present, is prepended with a separator.
func RenderPrompt(taskType string, kind integrations.Kind, prompt, contextText string) (system, user string) {
	tpl, ok := taskTemplates[string(kind)]
	if !ok {
		tpl, ok = taskTemplates[taskType]
	}
	if !ok {
		tpl = genericTemplate
	}
	ctx := ""
	if contextText != "" {
		ctx = "Context:\n" + contextText + "\n\n---\n\n"
	}
	r := strings.NewReplacer("{{prompt}}", prompt, "{{context}}", ctx)
	return tpl.System, r.Replace(tpl.User)
}
