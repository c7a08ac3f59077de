// Package header renders and strips the security context block that is
// prepended to chunk content before it is sent for analysis.
package header

import (
	"fmt"
	"strings"
)

const (
	secEntryPoint    = "ENTRY_POINT"
	secExecutionRole = "EXECUTION_ROLE"
	secTrust         = "TRUST_BOUNDARIES"
	secAuthn         = "AUTHENTICATION"
	secAuthz         = "AUTHORIZATION"
	secInputs        = "INPUT_SOURCES"
	secSensitivity   = "DATA_SENSITIVITY"
	secSinks         = "SINKS"
	secReachability  = "REACHABILITY"
	secAssumptions   = "SECURITY_ASSUMPTIONS"
	unknownValue     = "unknown"
	emptyListMarker  = "- none"
)

type Authentication struct {
	Enforced  bool   `json:"enforced"`
	Mechanism string `json:"mechanism"`
	Location  string `json:"location,omitempty"`
}

type Authorization struct {
	Enforced bool   `json:"enforced"`
	Model    string `json:"model"`
}

type Reachability struct {
	EntryPoints []string `json:"entry_points"`
	MinDepth    *int     `json:"min_depth"`
}

type SecurityHeader struct {
	EntryPoint          string         `json:"entry_point"`
	ExecutionRole       string         `json:"execution_role"`
	TrustBoundaries     []string       `json:"trust_boundaries"`
	Authentication      Authentication `json:"authentication"`
	Authorization       Authorization  `json:"authorization"`
	InputSources        []string       `json:"input_sources"`
	DataSensitivity     []string       `json:"data_sensitivity"`
	Sinks               []string       `json:"sinks"`
	Reachability        *Reachability  `json:"reachability,omitempty"`
	SecurityAssumptions []string       `json:"security_assumptions"`
}

// Render produces the fixed-section text block. The result always ends in a
// newline, so Render(h) + "\n" + body places a blank line before body.
func Render(h SecurityHeader) string {
	var b strings.Builder
	scalar := func(name, value string) {
		value = flatten(value)
		if value == "" {
			value = unknownValue
		}
		fmt.Fprintf(&b, "%s: %s\n", name, value)
	}
	list := func(name string, items []string) {
		fmt.Fprintf(&b, "%s:\n", name)
		written := 0
		for _, item := range items {
			item = flatten(item)
			if item == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", item)
			written++
		}
		if written == 0 {
			b.WriteString(emptyListMarker + "\n")
		}
	}

	scalar(secEntryPoint, h.EntryPoint)
	scalar(secExecutionRole, h.ExecutionRole)
	list(secTrust, h.TrustBoundaries)
	scalar(secAuthn, fmt.Sprintf("enforced=%t mechanism=%s location=%s",
		h.Authentication.Enforced, orUnknown(h.Authentication.Mechanism), orUnknown(h.Authentication.Location)))
	scalar(secAuthz, fmt.Sprintf("enforced=%t model=%s", h.Authorization.Enforced, orUnknown(h.Authorization.Model)))
	list(secInputs, h.InputSources)
	list(secSensitivity, h.DataSensitivity)
	list(secSinks, h.Sinks)
	scalar(secReachability, renderReachability(h.Reachability))
	list(secAssumptions, h.SecurityAssumptions)
	return b.String()
}

func renderReachability(r *Reachability) string {
	if r == nil {
		return unknownValue
	}
	eps := make([]string, 0, len(r.EntryPoints))
	for _, ep := range r.EntryPoints {
		if ep = flatten(ep); ep != "" {
			eps = append(eps, ep)
		}
	}
	depth := unknownValue
	if r.MinDepth != nil {
		depth = fmt.Sprintf("%d", *r.MinDepth)
	}
	if len(eps) == 0 {
		return "entry_points=none min_depth=" + depth
	}
	return "entry_points=" + strings.Join(eps, ",") + " min_depth=" + depth
}

// Split separates a rendered header from the body that follows it. When the
// content does not begin with ENTRY_POINT: the whole content is body. A
// header without its terminating blank line is returned with an empty body.
func Split(content string) (head, body string, ok bool) {
	if !strings.HasPrefix(content, secEntryPoint+":") {
		return "", content, false
	}
	marker := "\n" + secAssumptions + ":"
	idx := strings.Index(content, marker)
	if idx < 0 {
		return "", content, false
	}
	rest := idx + len(marker)
	end := strings.Index(content[rest:], "\n\n")
	if end < 0 {
		return content, "", true
	}
	cut := rest + end
	return content[:cut+1], content[cut+2:], true
}

// Prepend joins a rendered header and body the way Split expects.
func Prepend(h SecurityHeader, body string) string {
	return Render(h) + "\n" + body
}

func flatten(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	return strings.TrimSpace(s)
}

func orUnknown(s string) string {
	s = strings.ReplaceAll(flatten(s), " ", "_")
	if s == "" {
		return unknownValue
	}
	return s
}
