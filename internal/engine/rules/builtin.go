package rules

import s "repoaudit/internal/engine/signals"

func builtinRules() []Rule {
	return []Rule{
		// injection
		{
			ID: "sql_injection", Title: "SQL injection", Severity: "high", Cluster: ClusterInjection,
			Matchers:       []Matcher{AllSignals(s.RawSQLSink, s.UntrustedInputPresent)},
			ContradictedBy: []s.ID{s.ParameterizedQuery},
			Guidance: []string{
				"Trace request-controlled values into SQL text built by concatenation, interpolation or raw query helpers.",
				"Bound parameters and query builders are safe unless identifiers (table, column, ORDER BY) are interpolated.",
			},
		},
		{
			ID: "command_injection", Title: "OS command injection", Severity: "critical", Cluster: ClusterInjection,
			Matchers: []Matcher{AnySignals(s.ExecSink)},
			Guidance: []string{
				"Check whether any argument or the command string itself derives from external input.",
				"Shell invocation (sh -c, shell=True, exec with a single string) is exploitable even with partial control.",
			},
		},
		{
			ID: "path_traversal", Title: "Path traversal", Severity: "high", Cluster: ClusterInjection,
			Matchers: []Matcher{
				AllSignals(s.FileReadSink, s.UntrustedInputPresent),
				AllSignals(s.FileWriteSink, s.UntrustedInputPresent),
			},
			ContradictedBy: []s.ID{s.InputValidationPresent},
			Guidance: []string{
				"Look for user-supplied names joined into filesystem paths without cleaning and a base-directory check.",
			},
		},
		{
			ID: "xss", Title: "Cross-site scripting", Severity: "medium", Cluster: ClusterInjection,
			Matchers:       []Matcher{AnySignals(s.HTMLRenderSink)},
			ContradictedBy: []s.ID{s.OutputEncodingPresent},
			Guidance: []string{
				"Raw HTML sinks (innerHTML, dangerouslySetInnerHTML, template.HTML) must only receive sanitized markup.",
			},
		},
		{
			ID: "ssrf", Title: "Server-side request forgery", Severity: "high", Cluster: ClusterInjection,
			Matchers: []Matcher{AllSignals(s.OutboundHTTPSink, s.UntrustedInputPresent)},
			Guidance: []string{
				"Check whether the request URL or host can be chosen by the caller and whether an allow-list exists.",
			},
		},
		{
			ID: "open_redirect", Title: "Open redirect", Severity: "low", Cluster: ClusterInjection,
			Matchers: []Matcher{AllSignals(s.RedirectSink, s.UntrustedInputPresent)},
			Guidance: []string{
				"Redirect targets taken from query parameters must be restricted to relative paths or known hosts.",
			},
		},
		{
			ID: "insecure_deserialization", Title: "Insecure deserialization", Severity: "high", Cluster: ClusterInjection,
			Matchers: []Matcher{AnySignals(s.DeserializationSink)},
			Guidance: []string{
				"Native object deserializers (pickle, ObjectInputStream, yaml.load) on untrusted bytes allow code execution.",
			},
		},

		// access control
		{
			ID: "missing_authentication", Title: "Missing authentication", Severity: "high", Cluster: ClusterAccessControl,
			Matchers:       []Matcher{AnySignals(s.AuthnMissingOrUnknown)},
			ContradictedBy: []s.ID{s.AuthnPresent},
			Guidance: []string{
				"Confirm the handler verifies a session or token before doing work; middleware matchers may exclude this route.",
			},
		},
		{
			ID: "missing_authorization", Title: "Missing authorization", Severity: "high", Cluster: ClusterAccessControl,
			Matchers:       []Matcher{AnySignals(s.AuthzMissingOrUnknown)},
			ContradictedBy: []s.ID{s.AuthzPresent},
			Guidance: []string{
				"Authenticated is not authorized: check role or ownership before reading or mutating a resource.",
			},
		},
		{
			ID: "idor", Title: "Insecure direct object reference", Severity: "high", Cluster: ClusterAccessControl,
			Matchers:       []Matcher{AllSignals(s.APIHandler, s.AuthzMissingOrUnknown, s.UntrustedInputPresent)},
			ContradictedBy: []s.ID{s.AuthzPresent},
			Guidance: []string{
				"Resource ids from the request must be scoped to the caller (WHERE owner_id = current user).",
			},
		},

		// integrity
		{
			ID: "missing_webhook_signature", Title: "Unverified webhook", Severity: "high", Cluster: ClusterIntegrity,
			Matchers:       []Matcher{AnySignals(s.WebhookHandler)},
			ContradictedBy: []s.ID{s.SignatureVerified},
			Guidance: []string{
				"Webhook payloads must be authenticated with the provider signature over the raw body before use.",
			},
		},
		{
			ID: "csrf", Title: "Cross-site request forgery", Severity: "medium", Cluster: ClusterIntegrity,
			Matchers:       []Matcher{AllSignals(s.CookieSession, s.PublicEntrypoint)},
			ContradictedBy: []s.ID{s.CSRFProtectionPresent},
			Guidance: []string{
				"Cookie-authenticated state-changing endpoints need CSRF tokens, SameSite cookies or origin checks.",
			},
		},
		{
			ID: "weak_crypto", Title: "Weak cryptography", Severity: "medium", Cluster: ClusterIntegrity,
			Matchers: []Matcher{AnySignals(s.WeakCrypto)},
			Guidance: []string{
				"MD5/SHA1 for integrity or passwords, ECB mode and Math.random for tokens are findings; checksums are not.",
			},
		},

		// secrets
		{
			ID: "frontend_secret_exposure", Title: "Secret shipped to the browser", Severity: "critical", Cluster: ClusterSecrets,
			Matchers: []Matcher{AllSignals(s.FrontendBundle, s.SecretLiteral)},
			Guidance: []string{
				"Anything in a client bundle or NEXT_PUBLIC_/VITE_ variable is public; service keys there are compromised.",
			},
		},
		{
			ID: "hardcoded_secret", Title: "Hardcoded secret", Severity: "high", Cluster: ClusterSecrets,
			Matchers: []Matcher{AnySignals(s.SecretLiteral)},
			Guidance: []string{
				"Credentials in source must move to a secret store and be rotated.",
			},
		},
		{
			ID: "sensitive_data_logging", Title: "Sensitive data in logs", Severity: "medium", Cluster: ClusterSecrets,
			Matchers: []Matcher{AnySignals(s.LogsSensitiveData)},
			Guidance: []string{
				"Tokens, passwords and personal data written to logs leak to every log consumer.",
			},
		},

		// resilience
		{
			ID: "missing_timeout", Title: "Outbound call without timeout", Severity: "low", Cluster: ClusterResilience,
			Matchers:       []Matcher{AnySignals(s.OutboundCallNoTimeout)},
			ContradictedBy: []s.ID{s.TimeoutConfigured},
			Guidance: []string{
				"Requests to other services without a deadline let a slow dependency exhaust workers.",
			},
		},
		{
			ID: "missing_rate_limit", Title: "Missing rate limit", Severity: "medium", Cluster: ClusterResilience,
			Matchers:       []Matcher{AllSignals(s.PublicEntrypoint, s.ExpensiveOperation)},
			ContradictedBy: []s.ID{s.RateLimitPresent},
			Guidance: []string{
				"Public endpoints doing costly work (hashing, AI calls, email) need per-client throttling.",
			},
		},
	}
}

// DefaultBaseline is the ordered generic rule list used when nothing else
// selects rules for a chunk.
var DefaultBaseline = []string{
	"missing_authentication",
	"missing_authorization",
	"hardcoded_secret",
	"missing_timeout",
	"sensitive_data_logging",
}

// DefaultFamilyMapping maps a chunk role, or "exposure:<value>", to the rules
// that usually matter for it.
var DefaultFamilyMapping = map[string][]string{
	"api_handler":      {"missing_authentication", "missing_authorization", "idor"},
	"middleware":       {"missing_authentication", "missing_authorization"},
	"webhook_handler":  {"missing_webhook_signature", "missing_authentication"},
	"ui_component":     {"xss", "frontend_secret_exposure"},
	"data_access":      {"sql_injection", "idor"},
	"job":              {"command_injection", "path_traversal", "missing_timeout"},
	"cli":              {"command_injection", "path_traversal"},
	"config":           {"hardcoded_secret", "weak_crypto"},
	"auth":             {"weak_crypto", "missing_rate_limit", "sensitive_data_logging"},
	"exposure:public":  {"missing_authentication", "missing_rate_limit"},
	"exposure:browser": {"xss", "frontend_secret_exposure"},
}
