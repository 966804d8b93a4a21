package validation

import (
	"strings"
	"testing"
)

func validReq() Request {
	return Request{
		CodeURL: "https://github.com/x/y.git",
		Command: "npm test",
	}
}

func TestValidateHappyPath(t *testing.T) {
	if err := Validate(validReq(), nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsSSRFLoopback(t *testing.T) {
	req := validReq()
	req.CodeURL = "http://127.0.0.1/x"
	if err := Validate(req, nil); err == nil {
		t.Fatal("expected rejection of loopback codeUrl")
	}
}

func TestValidateRejectsSSRFMetadataService(t *testing.T) {
	req := validReq()
	req.CodeURL = "http://169.254.169.254/meta"
	if err := Validate(req, nil); err == nil {
		t.Fatal("expected rejection of link-local metadata codeUrl")
	}
}

func TestValidateRejectsSSRFPrivateRange(t *testing.T) {
	req := validReq()
	req.CodeURL = "http://10.0.0.5/x"
	if err := Validate(req, nil); err == nil {
		t.Fatal("expected rejection of private-range codeUrl")
	}
}

func TestValidateEnforcesDomainAllowlist(t *testing.T) {
	req := validReq()
	req.CodeURL = "https://evil.example.com/x"
	allowed := AllowedCodeDomains{"github.com", "*.githubusercontent.com"}
	if err := Validate(req, allowed); err == nil {
		t.Fatal("expected rejection of non-allowlisted domain")
	}

	req.CodeURL = "https://raw.githubusercontent.com/x/y"
	if err := Validate(req, allowed); err != nil {
		t.Fatalf("expected suffix-matched domain to pass: %v", err)
	}
}

func TestValidateCodeURLBoundary(t *testing.T) {
	base := "https://github.com/"
	pad := strings.Repeat("a", 2048-len(base))
	req := validReq()
	req.CodeURL = base + pad
	if len(req.CodeURL) != 2048 {
		t.Fatalf("test setup: codeUrl length = %d, want 2048", len(req.CodeURL))
	}
	if err := Validate(req, nil); err != nil {
		t.Fatalf("2048-char codeUrl should be accepted: %v", err)
	}

	req.CodeURL += "a"
	if len(req.CodeURL) != 2049 {
		t.Fatalf("test setup: codeUrl length = %d, want 2049", len(req.CodeURL))
	}
	if err := Validate(req, nil); err == nil {
		t.Fatal("2049-char codeUrl should be rejected")
	}
}

func TestValidateCommandBoundary(t *testing.T) {
	req := validReq()
	req.Command = strings.Repeat("a", 1000)
	if err := Validate(req, nil); err != nil {
		t.Fatalf("1000-char command should be accepted: %v", err)
	}

	req.Command = strings.Repeat("a", 1001)
	if err := Validate(req, nil); err == nil {
		t.Fatal("1001-char command should be rejected")
	}
}

func TestValidateRejectsCommandInjection(t *testing.T) {
	cases := []string{
		"npm start; $(curl evil)",
		"echo `whoami`",
		"echo ${HOME}",
		"cat <(echo hi)",
		"tee >(cat)",
	}
	for _, cmd := range cases {
		req := validReq()
		req.Command = cmd
		if err := Validate(req, nil); err == nil {
			t.Errorf("expected rejection of command %q", cmd)
		}
	}
}

func TestValidateChecksumShape(t *testing.T) {
	req := validReq()
	req.CodeChecksum = strings.Repeat("a", 63)
	if err := Validate(req, nil); err == nil {
		t.Fatal("63-char checksum should be rejected")
	}

	req.CodeChecksum = strings.Repeat("a", 64)
	if err := Validate(req, nil); err != nil {
		t.Fatalf("64-char hex checksum should be accepted: %v", err)
	}

	req.CodeChecksum = strings.Repeat("z", 64)
	if err := Validate(req, nil); err == nil {
		t.Fatal("non-hex checksum should be rejected")
	}
}

func TestValidatePromptBoundary(t *testing.T) {
	req := validReq()
	req.Prompt = strings.Repeat("a", 10000)
	if err := Validate(req, nil); err != nil {
		t.Fatalf("10000-char prompt should be accepted: %v", err)
	}
	req.Prompt = strings.Repeat("a", 10001)
	if err := Validate(req, nil); err == nil {
		t.Fatal("10001-char prompt should be rejected")
	}
}
