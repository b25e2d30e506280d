package queries

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/espejodata/espejo/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderReadsPerDomainFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "cobranzas.sql"),
		[]byte("  exec sp_gestiones_cobranza @all = 1  \n"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "cartera.sql"), []byte("   \n"), 0644))

	l := NewLoader(logrus.New(), dir)
	sqlText, err := l.SqlFor(domain.DomainCobranzas)
	require.NoError(t, err)
	assert.Equal(t, "exec sp_gestiones_cobranza @all = 1", sqlText) // content is opaque, only trimmed.

	_, err = l.SqlFor(domain.DomainGestores)
	assert.Error(t, err, "missing query file should fail the run")
	_, err = l.SqlFor(domain.DomainCartera)
	assert.Error(t, err, "empty query file should fail the run")
}
