package imageref

import "testing"

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		ns        string
		image     string
		defaultNS string
		wantNS    string
		wantImage string
	}{
		{
			name:      "docker.io prefixed image with no ns",
			image:     "docker.io/library/busybox",
			defaultNS: "",
			wantNS:    "docker.io",
			wantImage: "library/busybox",
		},
		{
			name:      "two-segment image falls back to default",
			image:     "envoyproxy/envoy",
			defaultNS: "docker.io",
			wantNS:    "docker.io",
			wantImage: "envoyproxy/envoy",
		},
		{
			name:      "explicit ns wins",
			ns:        "gcr.io",
			image:     "distroless/static",
			wantNS:    "gcr.io",
			wantImage: "distroless/static",
		},
		{
			name:      "single segment image falls back to default",
			image:     "library",
			defaultNS: "docker.io",
			wantNS:    "docker.io",
			wantImage: "library",
		},
		{
			name:      "deeply nested image still splits once",
			image:     "gcr.io/project/team/service",
			defaultNS: "",
			wantNS:    "gcr.io",
			wantImage: "project/team/service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotNS, gotImage := Split(tt.ns, tt.image, tt.defaultNS)
			if gotNS != tt.wantNS || gotImage != tt.wantImage {
				t.Fatalf("Split(%q, %q, %q) = (%q, %q), want (%q, %q)",
					tt.ns, tt.image, tt.defaultNS, gotNS, gotImage, tt.wantNS, tt.wantImage)
			}
		})
	}
}

func TestParseName(t *testing.T) {
	valid := []string{"busybox", "library/busybox", "my-org.thing/sub_repo", "a/b/c"}
	for _, s := range valid {
		if _, err := ParseName(s); err != nil {
			t.Errorf("ParseName(%q) unexpectedly failed: %v", s, err)
		}
	}

	invalid := []string{"", "UPPER", "/leading", "trailing/", "a//b", "bad_char!"}
	for _, s := range invalid {
		if _, err := ParseName(s); err == nil {
			t.Errorf("ParseName(%q) unexpectedly succeeded", s)
		}
	}
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("latest")
	if err != nil || ref.IsDigest() || ref.String() != "latest" {
		t.Fatalf("ParseReference(latest) = %+v, %v", ref, err)
	}

	digest := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	ref, err = ParseReference("sha256:" + digest)
	if err != nil || !ref.IsDigest() || ref.String() != "sha256:"+digest {
		t.Fatalf("ParseReference(sha256:...) = %+v, %v", ref, err)
	}

	if _, err := ParseReference("sha256:tooshort"); err == nil {
		t.Fatal("expected error for short digest")
	}
	if _, err := ParseReference(""); err == nil {
		t.Fatal("expected error for empty tag")
	}
}

func TestValidateDigestString(t *testing.T) {
	digest := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if _, err := ValidateDigestString("sha256:" + digest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ValidateDigestString("sha512:" + digest); err == nil {
		t.Fatal("expected error for non-sha256 algo")
	}
	if _, err := ValidateDigestString("sha256:DEADBEEF"); err == nil {
		t.Fatal("expected error for uppercase/short hex")
	}
}
