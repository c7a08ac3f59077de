package secrets

import (
	"testing"
)

func TestDetector_DetectsBuiltInPattern(t *testing.T) {
	d, err := NewDetector(Config{})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	content := []byte("package main\nconst key = \"AKIA1234567890ABCDEF\"\n")
	findings := d.Detect("main.go", content)
	if len(findings) == 0 {
		t.Fatal("expected at least one secret finding")
	}
	if findings[0].Kind != "aws-access-key-id" {
		t.Fatalf("expected aws-access-key-id finding, got %q", findings[0].Kind)
	}
	if findings[0].Line != 2 {
		t.Fatalf("expected line 2, got %d", findings[0].Line)
	}
}

func TestDetector_DetectsContextSensitiveAssignment(t *testing.T) {
	d, err := NewDetector(Config{EntropyThreshold: 3.5, MinTokenLength: 16})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	findings := d.Detect("app.py", []byte("password = \"P4s$w0rdVeryLongToken99\"\n"))
	found := false
	for _, finding := range findings {
		if finding.Kind == "sensitive-assignment" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected sensitive-assignment finding, got %#v", findings)
	}
}

func TestDetector_SkipsObviousPlaceholder(t *testing.T) {
	d, err := NewDetector(Config{EntropyThreshold: 3.0, MinTokenLength: 10})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	findings := d.Detect("config.py", []byte("api_key = \"example_test_token_123456\"\n"))
	if len(findings) != 0 {
		t.Fatalf("expected no findings for placeholder token, got %#v", findings)
	}
}

func TestDetector_DetectInRanges(t *testing.T) {
	d, err := NewDetector(Config{})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	content := []byte("const ok = \"hello\"\nconst key = \"AKIA1234567890ABCDEF\"\n")
	if findings := d.DetectInRanges("main.go", content, []LineRange{{Start: 1, End: 1}}); len(findings) != 0 {
		t.Fatalf("expected no findings outside selected line range, got %#v", findings)
	}
	if findings := d.DetectInRanges("main.go", content, []LineRange{{Start: 2, End: 2}}); len(findings) == 0 {
		t.Fatal("expected finding in selected line range")
	}
}

func TestDetector_EntropyGatedByHighRiskExtensions(t *testing.T) {
	d, err := NewDetector(Config{EntropyThreshold: 4.0, MinTokenLength: 12})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	content := []byte("value = \"A1b2C3d4E5f6G7h8I9j0\"\n")
	if findings := d.Detect("main.go", content); len(findings) != 0 {
		t.Fatalf("expected entropy finding to be skipped for source files, got %#v", findings)
	}
	if findings := d.Detect(".env", content); len(findings) == 0 {
		t.Fatal("expected entropy finding for .env")
	}
}

func TestNewDetector_RejectsBadPattern(t *testing.T) {
	if _, err := NewDetector(Config{Patterns: []PatternConfig{{Name: "bad", Regex: "("}}}); err == nil {
		t.Fatal("expected compile error for invalid regex")
	}
	if _, err := NewDetector(Config{Patterns: []PatternConfig{{Regex: "x"}}}); err == nil {
		t.Fatal("expected error for unnamed pattern")
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("ABCDEFGH"); got != "********" {
		t.Fatalf("unexpected short mask result: %q", got)
	}
	if got := MaskValue("ABCDEFGHIJKLMNOP"); got != "ABCD...MNOP" {
		t.Fatalf("unexpected long mask result: %q", got)
	}
}

func TestDetector_InlineSuppression(t *testing.T) {
	d, err := NewDetector(Config{})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	cases := []struct {
		name    string
		content string
		want    int
	}{
		{name: "SameLine", content: "const key = \"AKIA1234567890ABCDEF\" // repoaudit:ignore-secret\n", want: 0},
		{name: "CommentAbove", content: "# repoaudit:ignore-secret\nKEY = \"AKIA1234567890ABCDEF\"\n", want: 0},
		{name: "CodeAboveDoesNotCount", content: "x := 1 + repoaudit:ignore-secret\nKEY = \"AKIA1234567890ABCDEF\"\n", want: 1},
		{name: "Unsuppressed", content: "KEY = \"AKIA1234567890ABCDEF\"\n", want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.Detect("main.py", []byte(tc.content)); len(got) != tc.want {
				t.Fatalf("expected %d findings, got %#v", tc.want, got)
			}
		})
	}
}

func TestLineIndex(t *testing.T) {
	src := "one\r\ntwo\nthree"
	idx := buildLineIndex([]byte(src))

	if line, col := idx.lineCol(6); line != 2 || col != 2 {
		t.Fatalf("expected 2:2, got %d:%d", line, col)
	}
	for n, want := range map[int]string{1: "one", 2: "two", 3: "three", 4: ""} {
		if got := idx.text(src, n); got != want {
			t.Fatalf("line %d: expected %q, got %q", n, want, got)
		}
	}
}
