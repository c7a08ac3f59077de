package signals

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Hit is one regex match for a signal at a 1-based line.
type Hit struct {
	Signal
	Line int
}

type pattern struct {
	id         ID
	confidence float64
	re         *regexp.Regexp
}

func p(id ID, confidence float64, expr string) pattern {
	return pattern{id: id, confidence: confidence, re: regexp.MustCompile(expr)}
}

var builtinPatterns = []pattern{
	p(PublicEntrypoint, 0.7, `export\s+(?:async\s+)?function\s+(?:GET|POST|PUT|PATCH|DELETE)\b|\b(?:app|router)\.(?:get|post|put|patch|delete|all)\(\s*['"\x60]/|http\.HandleFunc\(|@app\.(?:route|get|post)\(|@(?:Get|Post|Put|Delete|Request)Mapping|Deno\.serve\(|\bserve\(\s*async`),
	p(APIHandler, 0.6, `\b(?:NextRequest|NextApiRequest|NextApiResponse|http\.ResponseWriter|HttpServletRequest|gin\.Context|echo\.Context|fiber\.Ctx)\b|\(\s*req\s*,\s*res\s*\)`),
	p(AuthnPresent, 0.6, `\b(?:getServerSession|getSession|auth\.getUser|requireAuth|isAuthenticated|passport\.authenticate|verifyToken|jwt\.verify|withAuth|authMiddleware|currentUser|login_required)\b`),
	p(AuthzPresent, 0.6, `\b(?:hasRole|hasPermission|checkPermission|requireRole|isAdmin|authorize|RolesAllowed|PreAuthorize|canAccess)\b|owner_?[iI]d\s*[!=]==?|\.eq\(\s*['"]user_id['"]`),
	p(UntrustedInputPresent, 0.6, `\b(?:req|request)\.(?:body|query|params|headers|cookies|form|args|json|GET|POST|files)\b|\br\.(?:URL\.Query|FormValue|PostFormValue|Body|PathValue)\b|searchParams\.get\(|\bc\.(?:Query|Param|PostForm|Bind\w*)\(|\brequest\.json\(\)|process\.argv|\bos\.Args\b`),
	p(InputValidationPresent, 0.5, `\bz\.object\(|\.safeParse\(|\bJoi\.|\byup\.|\bvalidator\.|\bvalidate\(|@Valid\b|\bBaseModel\b|\bajv\b`),
	p(RawSQLSink, 0.65, `(?i)\b(?:select\s+[\w*,\s.]+\s+from|insert\s+into|update\s+\w+\s+set|delete\s+from)\b[^\n]*(?:['"\x60]\s*\+|\+\s*['"\x60]|\$\{|%s|\.format\(|f['"])|\$(?:query|execute)RawUnsafe\(|\bsequelize\.query\(|\.raw\(\s*['"\x60]`),
	p(ParameterizedQuery, 0.6, `(?i)\b(?:where|values)\b[^\n]*(?:\$\d+|=\s*\?|:\w+\b|@\w+)|\.prepare\(|PreparedStatement|\$queryRaw\x60|\.where\(\s*\{|\.eq\(`),
	p(ExecSink, 0.75, `\bexec\.Command(?:Context)?\(|\bchild_process\b|\bexecSync\(|\bspawnSync\(|\bspawn\(|\bexecFile\(|\bsubprocess\.(?:run|call|Popen|check_output)\(|\bos\.system\(|Runtime\.getRuntime\(\)\.exec\(|\bProcessBuilder\(|Command::new\(`),
	p(FileReadSink, 0.55, `\bos\.(?:Open|ReadFile)\(|\bioutil\.ReadFile\(|\bfs\.(?:readFile|readFileSync|createReadStream)\(|\bsend_file\(|\bsendFile\(|\bres\.download\(|Files\.readAllBytes\(`),
	p(FileWriteSink, 0.55, `\bos\.(?:Create|WriteFile|OpenFile)\(|\bfs\.(?:writeFile|writeFileSync|appendFile|createWriteStream)\(|Files\.write\(|\.write_text\(`),
	p(OutboundHTTPSink, 0.6, `\bfetch\(|\baxios(?:\.\w+)?\(|\bhttp\.(?:Get|Post|NewRequest|NewRequestWithContext)\(|\brequests\.(?:get|post|put|delete|request)\(|\burllib\.request\b|\bHttpClient\b|\breqwest::|\bgot\(`),
	p(RedirectSink, 0.6, `\bres\.redirect\(|NextResponse\.redirect\(|\bhttp\.Redirect\(|\bredirect\(|Response\.redirect\(|window\.location(?:\.href)?\s*=`),
	p(HTMLRenderSink, 0.7, `dangerouslySetInnerHTML|\.innerHTML\s*=|\.outerHTML\s*=|document\.write\(|template\.HTML\(|render_template_string\(|\|\s*safe\b|\bv-html\b`),
	p(OutputEncodingPresent, 0.6, `\bDOMPurify\b|\bsanitize(?:Html)?\(|\bescapeHtml\(|html\.EscapeString\(|template\.HTMLEscapeString\(|bleach\.clean\(|markupsafe\.escape\(`),
	p(DeserializationSink, 0.7, `\bpickle\.loads?\(|\byaml\.load\(|\byaml\.unsafe_load\(|\bObjectInputStream\b|\breadObject\(|\bunserialize\(|\bMarshal\.load\(|node-serialize|\bgob\.NewDecoder\(`),
	p(WeakCrypto, 0.7, `"crypto/(?:md5|sha1|des|rc4)"|\bhashlib\.(?:md5|sha1)\(|createHash\(\s*['"](?:md5|sha1)['"]|MessageDigest\.getInstance\(\s*"(?:MD5|SHA-?1)"|Cipher\.getInstance\(\s*"[^"]*ECB|\bMath\.random\(\)`),
	p(FrontendBundle, 0.6, `^\s*['"]use client['"]|\bNEXT_PUBLIC_\w+|\bimport\.meta\.env\.VITE_\w+|\bREACT_APP_\w+`),
	p(WebhookHandler, 0.6, `(?i)webhook|stripe-signature|x-hub-signature|svix-signature`),
	p(SignatureVerified, 0.65, `\bconstructEvent\(|\bverifySignature\(|\btimingSafeEqual\(|\bhmac\.Equal\(|\bcompare_digest\(|\bcreateHmac\(|\bwebhooks\.verify\(`),
	p(CookieSession, 0.55, `\bcookies\(\)|\bres\.cookie\(|(?i:set-cookie)|\bhttp\.SetCookie\(|\breq\.session\b|express-session|cookie-session`),
	p(CSRFProtectionPresent, 0.6, `(?i)\bcsrf|\bxsrf|sameSite\s*:\s*['"]?(?:strict|lax)`),
	p(TimeoutConfigured, 0.55, `(?i)\btimeout\b|AbortSignal\.timeout\(|context\.WithTimeout\(|context\.WithDeadline\(|\bdeadline\b`),
	p(ExpensiveOperation, 0.5, `\bbcrypt\b|\bscrypt\b|\bargon2\b|\bpbkdf2\b|\bsendMail\(|\bsendEmail\(|chat\.completions|\bcreateCompletion\(|\bmessages\.create\(|\bpuppeteer\b|\bffmpeg\b|\bsharp\(`),
	p(RateLimitPresent, 0.6, `(?i)rate.?limit|\bthrottle|\blimiter\b`),
	p(LogsSensitiveData, 0.6, `(?i)(?:console\.(?:log|info|debug)|log\.Print\w*|logger\.\w+|slog\.\w+|print)\([^)\n]*(?:password|passwd|token|secret|api_?key|authorization|ssn|credit_?card)`),
}

var frontendDirs = []string{"components/", "src/components/", "public/", "app/(", "pages/"}

// Detector extracts vocabulary signals line by line.
type Detector struct {
	patterns []pattern
}

func NewDetector() *Detector {
	return &Detector{patterns: builtinPatterns}
}

// Detect returns at most one hit per signal per line, ordered by line then ID.
func (d *Detector) Detect(filePath string, content []byte) []Hit {
	if len(content) == 0 {
		return nil
	}
	var hits []Hit
	for i, line := range strings.Split(string(content), "\n") {
		if len(line) > 4000 {
			line = line[:4000]
		}
		for _, pat := range d.patterns {
			loc := pat.re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			hits = append(hits, Hit{
				Signal: Signal{ID: pat.id, Evidence: strings.TrimSpace(line[loc[0]:loc[1]]), Confidence: pat.confidence},
				Line:   i + 1,
			})
		}
	}
	if isFrontendPath(filePath) {
		hits = append(hits, Hit{Signal: Signal{ID: FrontendBundle, Evidence: filePath, Confidence: 0.5}, Line: 1})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Line != hits[j].Line {
			return hits[i].Line < hits[j].Line
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

func isFrontendPath(path string) bool {
	slashed := filepath.ToSlash(path)
	ext := strings.ToLower(filepath.Ext(slashed))
	if ext != ".tsx" && ext != ".jsx" && ext != ".vue" && ext != ".svelte" {
		return false
	}
	if strings.Contains(slashed, "/api/") || strings.HasPrefix(slashed, "api/") {
		return false
	}
	for _, dir := range frontendDirs {
		if strings.HasPrefix(slashed, dir) || strings.Contains(slashed, "/"+dir) {
			return true
		}
	}
	return false
}

// InRange collapses hits on lines [start, end] into a signal list, keeping the
// first hit per ID.
func InRange(hits []Hit, start, end int) []Signal {
	out := []Signal{}
	for _, h := range hits {
		if h.Line < start || h.Line > end {
			continue
		}
		out = Append(out, h.Signal)
	}
	return out
}

// Infer adds the absence-style signals that regexes cannot match directly:
// a public entry point without an authentication check, an API handler
// without an authorization check, and an outbound call without a timeout.
func Infer(list []Signal) []Signal {
	set := NewSet(list)
	out := append([]Signal(nil), list...)
	if set.Has(PublicEntrypoint) && !set.Has(AuthnPresent) {
		out = Append(out, Signal{ID: AuthnMissingOrUnknown, Evidence: "no authentication check near entry point", Confidence: 0.5})
	}
	if set.Has(APIHandler) && !set.Has(AuthzPresent) {
		out = Append(out, Signal{ID: AuthzMissingOrUnknown, Evidence: "no authorization check in handler", Confidence: 0.4})
	}
	if set.Has(OutboundHTTPSink) && !set.Has(TimeoutConfigured) {
		out = Append(out, Signal{ID: OutboundCallNoTimeout, Evidence: "outbound request without timeout", Confidence: 0.45})
	}
	return out
}
