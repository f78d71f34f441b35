package email

import "testing"

func TestEnvelopeFrom(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GlobalPulse <noreply@globalpulse.live>", "noreply@globalpulse.live"},
		{"noreply@globalpulse.live", "noreply@globalpulse.live"},
		{"<noreply@globalpulse.live>", "noreply@globalpulse.live"},
		// unparsable input passes through, the SMTP server rejects it with context
		{"not an address", "not an address"},
	}
	for _, tt := range tests {
		if got := envelopeFrom(tt.in); got != tt.want {
			t.Errorf("envelopeFrom(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
