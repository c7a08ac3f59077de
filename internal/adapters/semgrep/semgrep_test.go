package semgrep

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "repoaudit/internal/core/errors"
)

const sampleSARIF = `{
  "version": "2.1.0",
  "$schema": "https://json.schemastore.org/sarif-2.1.0.json",
  "runs": [{
    "tool": {"driver": {"name": "Semgrep OSS", "rules": [
      {"id": "javascript.express.security.injection.tainted-sql-string", "defaultConfiguration": {"level": "error"}},
      {"id": "python.lang.security.audit.md5-used", "defaultConfiguration": {"level": "warning"}}
    ]}},
    "results": [
      {
        "ruleId": "javascript.express.security.injection.tainted-sql-string",
        "message": {"text": "User input flows into a SQL string"},
        "locations": [{"physicalLocation": {
          "artifactLocation": {"uri": "/repo/api/users.js"},
          "region": {"startLine": 12, "endLine": 14}
        }}]
      },
      {
        "ruleId": "python.lang.security.audit.md5-used",
        "level": "note",
        "message": {"text": "md5 is weak"},
        "locations": [{"physicalLocation": {
          "artifactLocation": {"uri": "lib/hash.py"},
          "region": {"startLine": 3}
        }}]
      },
      {
        "ruleId": "no.location",
        "message": {"text": "dropped"}
      }
    ]
  }]
}`

func TestParseSARIF(t *testing.T) {
	got, err := ParseSARIF([]byte(sampleSARIF), "/repo")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "semgrep oss", got[0].Tool)
	assert.Equal(t, "api/users.js", got[0].FilePath)
	assert.Equal(t, 12, got[0].StartLine)
	assert.Equal(t, 14, got[0].EndLine)
	assert.Equal(t, "error", got[0].Severity)
	assert.Equal(t, "User input flows into a SQL string", got[0].Message)

	assert.Equal(t, "lib/hash.py", got[1].FilePath)
	assert.Equal(t, 3, got[1].EndLine)
	assert.Equal(t, "note", got[1].Severity)
}

func TestParseSARIF_Invalid(t *testing.T) {
	_, err := ParseSARIF([]byte("not json"), "/repo")
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeMalformedResponse))
}

func TestScan(t *testing.T) {
	s := New(Options{Config: "p/owasp-top-ten"})
	var gotArgs []string
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte(sampleSARIF), nil
	}

	got, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"semgrep", "scan", "--config", "p/owasp-top-ten", "--sarif", "--quiet", "--metrics=off", "/repo"}, gotArgs)
}

func TestScan_Failure(t *testing.T) {
	s := New(Options{})
	s.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 2: invalid config")
	}
	_, err := s.Scan(context.Background(), "/repo")
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeInternal))
}
