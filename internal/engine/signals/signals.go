// Package signals defines the closed vocabulary of security signals and a
// regex detector that extracts them from source text.
package signals

import (
	"sort"
	"strings"
)

// VocabularyVersion changes whenever an ID is added, renamed or removed.
const VocabularyVersion = "2"

// ID is a member of the closed signal vocabulary. Values outside the
// constants below are rejected by Parse.
type ID string

const (
	PublicEntrypoint       ID = "public_entrypoint"
	APIHandler             ID = "api_handler"
	AuthnMissingOrUnknown  ID = "authn_missing_or_unknown"
	AuthnPresent           ID = "authn_present"
	AuthzMissingOrUnknown  ID = "authz_missing_or_unknown"
	AuthzPresent           ID = "authz_present"
	UntrustedInputPresent  ID = "untrusted_input_present"
	InputValidationPresent ID = "input_validation_present"
	RawSQLSink             ID = "raw_sql_sink"
	ParameterizedQuery     ID = "parameterized_query"
	ExecSink               ID = "exec_sink"
	FileReadSink           ID = "file_read_sink"
	FileWriteSink          ID = "file_write_sink"
	OutboundHTTPSink       ID = "outbound_http_sink"
	RedirectSink           ID = "redirect_sink"
	HTMLRenderSink         ID = "html_render_sink"
	OutputEncodingPresent  ID = "output_encoding_present"
	DeserializationSink    ID = "deserialization_sink"
	WeakCrypto             ID = "weak_crypto"
	SecretLiteral          ID = "secret_literal"
	FrontendBundle         ID = "frontend_bundle"
	WebhookHandler         ID = "webhook_handler"
	SignatureVerified      ID = "signature_verified"
	CookieSession          ID = "cookie_session"
	CSRFProtectionPresent  ID = "csrf_protection_present"
	OutboundCallNoTimeout  ID = "outbound_call_no_timeout"
	TimeoutConfigured      ID = "timeout_configured"
	ExpensiveOperation     ID = "expensive_operation"
	RateLimitPresent       ID = "rate_limit_present"
	LogsSensitiveData      ID = "logs_sensitive_data"
)

var descriptions = map[ID]string{
	PublicEntrypoint:       "Code is reachable from the public internet without a gateway in front of it.",
	APIHandler:             "Code handles an API request and produces a response.",
	AuthnMissingOrUnknown:  "No authentication check is visible on this path.",
	AuthnPresent:           "An authentication check (session, token, middleware) guards this path.",
	AuthzMissingOrUnknown:  "No authorization or ownership check is visible on this path.",
	AuthzPresent:           "An authorization, role or ownership check guards this path.",
	UntrustedInputPresent:  "Request parameters, body, headers or other attacker-controlled data are read.",
	InputValidationPresent: "Input is validated against a schema or explicit constraints.",
	RawSQLSink:             "SQL is built from strings or executed through a raw query API.",
	ParameterizedQuery:     "SQL uses bound parameters or a query builder.",
	ExecSink:               "A process or shell command is executed.",
	FileReadSink:           "A file is read from a computed path.",
	FileWriteSink:          "A file is written to a computed path.",
	OutboundHTTPSink:       "An outbound HTTP request is issued.",
	RedirectSink:           "The response redirects the client to a computed location.",
	HTMLRenderSink:         "Markup is rendered without the framework's default escaping.",
	OutputEncodingPresent:  "Output is sanitized or HTML-escaped before rendering.",
	DeserializationSink:    "Untyped or native object deserialization is performed.",
	WeakCrypto:             "A broken hash, cipher mode or non-cryptographic RNG is used.",
	SecretLiteral:          "A credential-like literal is embedded in the source.",
	FrontendBundle:         "Code ships to the browser.",
	WebhookHandler:         "Code receives callbacks from a third-party service.",
	SignatureVerified:      "An HMAC or provider signature is verified on the incoming payload.",
	CookieSession:          "Authentication state is carried in cookies.",
	CSRFProtectionPresent:  "CSRF tokens or SameSite cookies protect state-changing requests.",
	OutboundCallNoTimeout:  "An outbound call has no visible timeout or cancellation.",
	TimeoutConfigured:      "A timeout, deadline or abort signal is configured.",
	ExpensiveOperation:     "Work is CPU, cost or quota intensive (hashing, AI calls, email, rendering).",
	RateLimitPresent:       "Requests are throttled or rate limited.",
	LogsSensitiveData:      "Credentials or personal data are written to logs.",
}

func (id ID) String() string { return string(id) }

func (id ID) Valid() bool {
	_, ok := descriptions[id]
	return ok
}

func (id ID) Description() string { return descriptions[id] }

// Parse maps an externally supplied label onto the vocabulary.
func Parse(raw string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	if !id.Valid() {
		return "", false
	}
	return id, true
}

// All returns every vocabulary member in lexical order.
func All() []ID {
	out := make([]ID, 0, len(descriptions))
	for id := range descriptions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Signal is an evidenced observation about a chunk.
type Signal struct {
	ID         ID      `json:"id"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
}

// Set is a membership view over a signal list.
type Set map[ID]bool

func NewSet(list []Signal) Set {
	set := make(Set, len(list))
	for _, s := range list {
		set[s.ID] = true
	}
	return set
}

func (s Set) Has(id ID) bool { return s[id] }

// Append adds sig unless a signal with the same ID is already present.
func Append(list []Signal, sig Signal) []Signal {
	for _, existing := range list {
		if existing.ID == sig.ID {
			return list
		}
	}
	return append(list, sig)
}
