package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bravozero/bravozero-go/pkg/transport"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "/"},
		{in: "/", want: "/"},
		{in: "src", want: "/src"},
		{in: "/src/", want: "/src"},
		{in: "//src///pkg", want: "/src/pkg"},
		{in: "./src/./pkg", want: "/src/pkg"},
		{in: "src/pkg/..", want: "/src"},
		{in: `src\windows\path`, want: "/src/windows/path"},
		{in: "..", wantErr: true},
		{in: "/../etc", wantErr: true},
		{in: "a/../../b", wantErr: true},
		{in: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, transport.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompilePattern(t *testing.T) {
	g, err := CompilePattern("*.go")
	require.NoError(t, err)
	assert.True(t, g.Match("main.go"))
	assert.False(t, g.Match("pkg/main.go"), "single star stays within a segment")

	g, err = CompilePattern("**/*.go")
	require.NoError(t, err)
	assert.True(t, g.Match("pkg/sub/main.go"))

	_, err = CompilePattern("[oops")
	assert.True(t, errors.Is(err, transport.ErrValidation))
}

func TestPathPolicyMatching(t *testing.T) {
	pp, err := compilePolicy(Policy{
		Allowed: []string{"/docs/**", "/*.md"},
		Denied:  []string{"/docs/private/**"},
	})
	require.NoError(t, err)

	allowed := func(pp *pathPolicy, path string) bool {
		ok, _ := pp.isAllowed(path)
		return ok
	}

	assert.True(t, allowed(pp, "/docs/guide/intro.md"))
	assert.True(t, allowed(pp, "/README.md"))
	assert.False(t, allowed(pp, "/src/main.go"))

	ok, denied := pp.isAllowed("/docs/private/keys.md")
	assert.False(t, ok)
	assert.Equal(t, "/docs/private/**", denied)

	open, err := compilePolicy(Policy{Denied: []string{"**.env"}})
	require.NoError(t, err)
	assert.True(t, allowed(open, "/src/main.go"))
	assert.False(t, allowed(open, "/config/.env"))

	var none *pathPolicy
	assert.NoError(t, none.checkModify("write file", "/anything"))
}
