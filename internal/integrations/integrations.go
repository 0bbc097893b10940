// Package integrations defines the closed set of post-processing integration
// kinds and the dispatcher contract for each external business system. One
// adapter type per system; schema drift is handled inside that adapter, never
// by trial and error at call sites.
package integrations

import (
	"context"
	"fmt"
)

// Kind identifies one integration in the closed set. Unknown kinds are
// rejected at parse time, not silently no-opped at dispatch time.
type Kind string

const (
	KindMailTriage       Kind = "mail.triage"
	KindMailSummarize    Kind = "mail.summarize"
	KindMailDraftReply   Kind = "mail.draft_reply"
	KindCRMInboxLead     Kind = "crm.inbox_lead"
	KindCRMMailLead      Kind = "crm.mail_lead"
	KindCRMThreadSummary Kind = "crm.thread_summary"
	KindDocsCreate       Kind = "docs.create"
	KindRecruitingNote   Kind = "recruiting.candidate_note"
)

// Kinds returns every member of the closed set, in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindMailTriage,
		KindMailSummarize,
		KindMailDraftReply,
		KindCRMInboxLead,
		KindCRMMailLead,
		KindCRMThreadSummary,
		KindDocsCreate,
		KindRecruitingNote,
	}
}

// ParseKind validates a wire string against the closed set.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMailTriage, KindMailSummarize, KindMailDraftReply,
		KindCRMInboxLead, KindCRMMailLead, KindCRMThreadSummary,
		KindDocsCreate, KindRecruitingNote:
		return k, nil
	}
	return "", fmt.Errorf("unknown integration kind %q", s)
}

// DispatchResult is what an integration reports back. OutputOverride, when
// set, replaces the model output in the caller's response.
type DispatchResult struct {
	ArtifactURI    string `json:"artifact_uri,omitempty"`
	Status         string `json:"status"`
	OutputOverride string `json:"output_override,omitempty"`
}

// IntegrationError wraps a failure in the post-processing dispatch step. It
// never reverts a successful generation; callers report it as a separate
// field so "got an answer, side-effect failed" stays distinguishable from
// "got no answer".
type IntegrationError struct {
	Kind Kind
	Err  error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration %s: %v", e.Kind, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// Dispatcher runs one integration against the model's output. Extra carries
// the caller-supplied per-kind options. One adapter may serve several kinds
// of the same external system.
type Dispatcher interface {
	Run(ctx context.Context, kind Kind, modelOutput string, extra map[string]string) (DispatchResult, error)
}

// PrefetchProvider gathers grounding context from an external system before
// prompt construction. An empty result is valid ("no context available");
// any error is wrapped and surfaced, never swallowed into an empty prompt.
type PrefetchProvider interface {
	FetchContext(ctx context.Context, kind Kind, extra map[string]string) (string, error)
}

// PrefetchFunc adapts a function to PrefetchProvider.
type PrefetchFunc func(ctx context.Context, kind Kind, extra map[string]string) (string, error)

func (f PrefetchFunc) FetchContext(ctx context.Context, kind Kind, extra map[string]string) (string, error) {
	return f(ctx, kind, extra)
}

// Registry maps kinds to their dispatchers and optional prefetchers.
type Registry struct {
	dispatchers map[Kind]Dispatcher
	prefetchers map[Kind]PrefetchProvider
}

func NewRegistry() *Registry {
	return &Registry{
		dispatchers: make(map[Kind]Dispatcher),
		prefetchers: make(map[Kind]PrefetchProvider),
	}
}

func (r *Registry) Register(k Kind, d Dispatcher) {
	r.dispatchers[k] = d
}

func (r *Registry) RegisterPrefetch(k Kind, p PrefetchProvider) {
	r.prefetchers[k] = p
}

// Dispatch runs the registered dispatcher for k. Every failure surfaces as an
// IntegrationError, including an unregistered kind.
func (r *Registry) Dispatch(ctx context.Context, k Kind, modelOutput string, extra map[string]string) (DispatchResult, error) {
	d, ok := r.dispatchers[k]
	if !ok {
		return DispatchResult{}, &IntegrationError{Kind: k, Err: fmt.Errorf("no dispatcher registered")}
	}
	res, err := d.Run(ctx, k, modelOutput, extra)
	if err != nil {
		return DispatchResult{}, &IntegrationError{Kind: k, Err: err}
	}
	if res.Status == "" {
		res.Status = "ok"
	}
	return res, nil
}

// Prefetch resolves grounding context for k. Kinds without a registered
// prefetcher produce no context, which is valid.
func (r *Registry) Prefetch(ctx context.Context, k Kind, extra map[string]string) (string, error) {
	p, ok := r.prefetchers[k]
	if !ok {
		return "", nil
	}
	text, err := p.FetchContext(ctx, k, extra)
	if err != nil {
		return "", &IntegrationError{Kind: k, Err: fmt.Errorf("prefetch: %w", err)}
	}
	return text, nil
}
