//go:build !integration

package logging

import "testing"

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		dev  bool
		want string
	}{
		{in: "5157F09EFDC096DE15EBE81A47057A72", want: "5157...72"},
		{in: "short", want: "***"},
		{in: "5157F09EFDC096DE15EBE81A47057A72", dev: true, want: "5157F09EFDC096DE15EBE81A47057A72"},
	}
	for _, tc := range tests {
		t.Run("should redact "+tc.in, func(t *testing.T) {
			if got := Redact(tc.in, tc.dev); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
