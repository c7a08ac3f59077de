package header

import (
	"strings"

	"repoaudit/internal/engine/signals"
	"repoaudit/internal/engine/understanding"
)

type BuildInput struct {
	Understanding understanding.ChunkUnderstanding
	// EntryPoints are labels of entry points declared in the chunk's own lines.
	EntryPoints  []string
	Reachability *Reachability
}

var boundaryBySignal = []struct {
	id       signals.ID
	boundary string
}{
	{signals.PublicEntrypoint, "internet -> application"},
	{signals.WebhookHandler, "third-party service -> application"},
	{signals.FrontendBundle, "application -> browser"},
	{signals.OutboundHTTPSink, "application -> external service"},
	{signals.RawSQLSink, "application -> database"},
	{signals.ParameterizedQuery, "application -> database"},
	{signals.ExecSink, "application -> operating system"},
}

var sensitivityBySignal = []struct {
	id    signals.ID
	label string
}{
	{signals.SecretLiteral, "credentials"},
	{signals.CookieSession, "session tokens"},
	{signals.LogsSensitiveData, "sensitive values in logs"},
}

var assumptionBySignal = []struct {
	id         signals.ID
	assumption string
}{
	{signals.InputValidationPresent, "input is schema-validated before use"},
	{signals.OutputEncodingPresent, "output is encoded before rendering"},
	{signals.ParameterizedQuery, "queries use bound parameters"},
	{signals.SignatureVerified, "webhook signatures are verified"},
	{signals.CSRFProtectionPresent, "state-changing requests carry CSRF protection"},
	{signals.TimeoutConfigured, "outbound calls are time-bounded"},
	{signals.RateLimitPresent, "requests are rate limited"},
}

// Build derives a header from the chunk's signals and reachability.
func Build(in BuildInput) SecurityHeader {
	u := in.Understanding
	set := u.SignalSet()
	byID := make(map[signals.ID]signals.Signal, len(u.Signals))
	for _, s := range u.Signals {
		byID[s.ID] = s
	}

	h := SecurityHeader{
		EntryPoint:    entryPoint(in, set),
		ExecutionRole: u.Role,
		Authentication: Authentication{
			Enforced:  set.Has(signals.AuthnPresent),
			Mechanism: evidenceOr(byID, signals.AuthnPresent, "none"),
		},
		Authorization: Authorization{
			Enforced: set.Has(signals.AuthzPresent),
			Model:    evidenceOr(byID, signals.AuthzPresent, "none"),
		},
		Reachability: in.Reachability,
	}
	if h.Authentication.Enforced {
		h.Authentication.Location = u.FilePath
	}

	seen := map[string]bool{}
	for _, b := range boundaryBySignal {
		if set.Has(b.id) && !seen[b.boundary] {
			seen[b.boundary] = true
			h.TrustBoundaries = append(h.TrustBoundaries, b.boundary)
		}
	}
	if s, ok := byID[signals.UntrustedInputPresent]; ok {
		h.InputSources = append(h.InputSources, orDefault(s.Evidence, "request data"))
	}
	for _, d := range sensitivityBySignal {
		if set.Has(d.id) {
			h.DataSensitivity = append(h.DataSensitivity, d.label)
		}
	}
	for _, s := range u.Signals {
		if strings.HasSuffix(string(s.ID), "_sink") {
			h.Sinks = append(h.Sinks, string(s.ID)+": "+orDefault(s.Evidence, "detected"))
		}
	}
	for _, a := range assumptionBySignal {
		if set.Has(a.id) {
			h.SecurityAssumptions = append(h.SecurityAssumptions, a.assumption)
		}
	}
	return h
}

func entryPoint(in BuildInput, set signals.Set) string {
	if len(in.EntryPoints) > 0 {
		return in.EntryPoints[0]
	}
	if in.Reachability != nil && len(in.Reachability.EntryPoints) > 0 {
		return "via " + in.Reachability.EntryPoints[0]
	}
	if set.Has(signals.PublicEntrypoint) {
		return "public (unlabeled)"
	}
	return "internal"
}

func evidenceOr(byID map[signals.ID]signals.Signal, id signals.ID, def string) string {
	if s, ok := byID[id]; ok {
		return orDefault(s.Evidence, id.String())
	}
	return def
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
