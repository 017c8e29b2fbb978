package postgres

import "testing"

func TestParseServerVersion(t *testing.T) {
	cases := []struct {
		name     string
		reported string
		want     string
		wantErr  bool
	}{
		{name: "plain", reported: "16.4", want: "16.4.0"},
		{name: "two segment legacy", reported: "9.5", want: "9.5.0"},
		{name: "platform suffix", reported: "16.4 (Debian 16.4-1.pgdg120+1)", want: "16.4.0"},
		{name: "patch release", reported: "9.6.24", want: "9.6.24"},
		{name: "garbage", reported: "not-a-version", wantErr: true},
		{name: "empty", reported: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := parseServerVersion(tc.reported)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.reported)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %s", tc.reported, err)
			}
			if v.String() != tc.want {
				t.Errorf("parse %q: got %s, want %s", tc.reported, v, tc.want)
			}
		})
	}
}

func TestMinServerVersionGate(t *testing.T) {
	tooOld, err := parseServerVersion("9.4.26")
	if err != nil {
		t.Fatal(err)
	}
	if !tooOld.LessThan(minServerVersion) {
		t.Error("9.4 must be below the supported minimum")
	}

	supported, err := parseServerVersion("9.5")
	if err != nil {
		t.Fatal(err)
	}
	if supported.LessThan(minServerVersion) {
		t.Error("9.5 must satisfy the supported minimum")
	}
}
