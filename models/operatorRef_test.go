package models

import "testing"

func TestDecodeOperatorRef(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	cases := []struct {
		name     string
		raw      *int
		expected OperatorRefKind
	}{
		{"nil is none", nil, OperatorRefNone},
		{"zero is none", intPtr(0), OperatorRefNone},
		{"999 is self", intPtr(999), OperatorRefSelf},
		{"999999 is admin manual", intPtr(999999), OperatorRefAdminManual},
		{"plain id is named", intPtr(5), OperatorRefNamed},
	}
	for _, tc := range cases {
		ref := DecodeOperatorRef(tc.raw)
		if ref.Kind != tc.expected {
			t.Fatalf("%s: got kind %s", tc.name, ref.Kind)
		}
	}

	named := DecodeOperatorRef(intPtr(5))
	if named.OperatorID != 5 {
		t.Fatalf("named ref lost its id: %d", named.OperatorID)
	}
}

func TestOperatorRefEncodeRoundTrip(t *testing.T) {
	refs := []OperatorRef{
		{Kind: OperatorRefNone},
		{Kind: OperatorRefSelf},
		{Kind: OperatorRefAdminManual},
		{Kind: OperatorRefNamed, OperatorID: 42},
	}
	for _, ref := range refs {
		raw := ref.Encode()
		if ref.Kind == OperatorRefNone {
			if raw != nil {
				t.Fatalf("none should encode as nil, got %d", *raw)
			}
			continue
		}
		decoded := DecodeOperatorRef(raw)
		if decoded.Kind != ref.Kind || decoded.OperatorID != ref.OperatorID {
			t.Fatalf("round trip changed %+v into %+v", ref, decoded)
		}
	}
}
