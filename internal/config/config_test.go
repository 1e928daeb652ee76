package config

import "testing"

func TestLoadBytes_ValidDocument(t *testing.T) {
	doc := []byte(`
locationId: "191"
partySize: 2
consulateName: "Konsulat RP w Londynie"
`)
	p, err := LoadBytes(doc)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if p.LocationID != "191" || p.PartySize != 2 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if p.BaseURL == "" {
		t.Fatal("expected default BaseURL to be filled in")
	}
}

func TestValidate_RejectsMissingLocation(t *testing.T) {
	p := Default()
	p.PartySize = 1
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for missing locationId")
	}
}

func TestValidate_RejectsNonPositivePartySize(t *testing.T) {
	cases := []int{0, -1}
	for _, n := range cases {
		p := Default()
		p.LocationID = "191"
		p.PartySize = n
		if err := p.Validate(); err == nil {
			t.Fatalf("expected error for partySize=%d", n)
		}
	}
}

func TestBackoffConstants_OverlaysOnlyNonZeroFields(t *testing.T) {
	p := Default()
	p.Backoff.CaptchaMax = 9999
	c := p.BackoffConstants()
	if c.CaptchaMax != 9999 {
		t.Fatalf("CaptchaMax = %v, want 9999", c.CaptchaMax)
	}
	if c.SoftBase == 0 {
		t.Fatal("expected untouched SoftBase to keep its default, not zero")
	}
}

func TestBuilder_BuildValidates(t *testing.T) {
	_, err := NewBuilder().WithPartySize(1).Build()
	if err == nil {
		t.Fatal("expected validation error without a locationId")
	}

	p, err := NewBuilder().WithLocation("191").WithPartySize(1).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.LocationID != "191" {
		t.Fatalf("LocationID = %q, want 191", p.LocationID)
	}
}

func TestGenerateTemplate_ProducesValidParams(t *testing.T) {
	out, err := GenerateTemplate()
	if err != nil {
		t.Fatalf("GenerateTemplate: %v", err)
	}
	p, err := LoadBytes(out)
	if err != nil {
		t.Fatalf("template did not round-trip through LoadBytes: %v", err)
	}
	if p.LocationID == "" {
		t.Fatal("template should carry a non-empty example locationId")
	}
}
