package samples

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllSamplesBuild(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	for k, s := range all {
		if k > 0 {
			assert.Less(t, all[k-1].Name, s.Name)
		}
		t.Run(s.Name, func(t *testing.T) {
			p, err := s.Program()
			require.NoError(t, err)
			assert.NotEmpty(t, s.Doc)
			if s.Native {
				addr, ok := p.Symbol(s.Entry)
				require.True(t, ok, s.Entry)
				assert.GreaterOrEqual(t, addr, uint64(LibBase))
				return
			}
			m, ok := p.Method(s.Entry)
			require.True(t, ok, s.Entry)
			assert.False(t, m.Native)
		})
	}
}

func TestProgramsAreIndependent(t *testing.T) {
	s, ok := Lookup("reverse")
	require.True(t, ok)
	a, err := s.Program()
	require.NoError(t, err)
	b, err := s.Program()
	require.NoError(t, err)
	ma, _ := a.Method(s.Entry)
	mb, _ := b.Method(s.Entry)
	assert.NotSame(t, ma, mb)
}

func TestLookupMissing(t *testing.T) {
	_, ok := Lookup("nope")
	assert.False(t, ok)
}
