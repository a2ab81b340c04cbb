package scan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanAssemblyReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []asmCall
	}{
		{
			name: "local_call",
			input: `#include "textflag.h"

// func stub()
TEXT ·stub(SB), NOSPLIT, $0-0
    CALL ·Mark(SB)
    RET`,
			want: []asmCall{
				{Caller: "stub", Target: "example.com/marker.Mark", File: "a.s", Line: 5},
			},
		},
		{
			name: "qualified_call",
			input: `TEXT ·stub(SB), $8-0
    CALL github∕com∕715d∕paranoia∕pkg∕marker·Mark(SB)
    RET

TEXT ·other(SB), $0
    JMP runtime·memmove(SB)`,
			want: []asmCall{
				{Caller: "stub", Target: "github.com/715d/paranoia/pkg/marker.Mark", File: "a.s", Line: 2},
				{Caller: "other", Target: "runtime.memmove", File: "a.s", Line: 6},
			},
		},
		{
			name: "abi_suffix",
			input: `TEXT ·stub<ABIInternal>(SB), $0
    CALL ·Mark<ABIInternal>(SB)`,
			want: []asmCall{
				{Caller: "stub", Target: "example.com/marker.Mark", File: "a.s", Line: 2},
			},
		},
		{
			name: "ignore_comments",
			input: `// CALL ·notReally(SB)
TEXT ·stub(SB), $0
    MOVQ $1, AX // CALL ·alsoNot(SB)
    RET`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scanAssemblyReader(strings.NewReader(tt.input), "a.s", "example.com/marker")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestScanAssembly_NilPackage(t *testing.T) {
	calls, err := scanAssembly(nil)
	require.NoError(t, err)
	require.Empty(t, calls)
}
