package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlID_SpacingVariants(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"AC-2(1)", "AC-2(1)"},
		{"AC-2 (1)", "AC-2(1)"},
		{"AC-2( 1)", "AC-2(1)"},
		{"AC-2(1 )", "AC-2(1)"},
		{"AC-2 ( 1 )", "AC-2(1)"},
		{"AC-2  (  1  )", "AC-2(1)"},
		{"AC-2\t(1)", "AC-2(1)"},
		{"SC-7 (11) (b)", "SC-7(11)(b)"},
		{"AU-3(1)", "AU-3(1)"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ControlID(tc.in), "input %q", tc.in)
	}
}

func TestControlID_LeavesOtherWhitespaceAlone(t *testing.T) {
	// Only whitespace adjacent to parentheses is removed.
	assert.Equal(t, "AC 2", ControlID("AC 2"))
	assert.Equal(t, "Account Management(1)", ControlID("Account Management (1)"))
}

func TestControlID_PreservesCase(t *testing.T) {
	assert.Equal(t, "ac-2(1)", ControlID("ac-2 (1)"))
}

func TestControlID_Idempotent(t *testing.T) {
	inputs := []string{
		"AC-2 (1)",
		"AC-2(1)",
		"SC-7 ( 11 ) ( b )",
		"plain text with spaces",
		"(leading)",
		"trailing )",
	}
	for _, in := range inputs {
		once := ControlID(in)
		assert.Equal(t, once, ControlID(once), "input %q", in)
	}
}

func TestControlID_CollapsesToSameKey(t *testing.T) {
	assert.Equal(t, ControlID("AC-2 (1)"), ControlID("AC-2(1)"))
	assert.Equal(t, "AC-2(1)", ControlID("AC-2 (1)"))
}
