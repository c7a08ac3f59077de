package version

// Version is overridden at build time with
// -ldflags "-X repoaudit/internal/shared/version.Version=v1.2.3".
var Version = "dev"

// InformationURI is advertised as the tool homepage in SARIF reports.
const InformationURI = "https://github.com/repoaudit/repoaudit"
