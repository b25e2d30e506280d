package queries

import (
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/pkg/errors"
)

// Loader resolves the extraction SQL for a domain from a directory of
// per-domain files named <domain>.sql. The file contents are opaque: they are
// handed to the source connection unmodified, so legacy stored-procedure calls
// and vendor-specific SQL pass through untouched.
type Loader struct {
	log logger.Logger
	dir string
}

func NewLoader(log logger.Logger, dir string) *Loader {
	return &Loader{log: log, dir: dir}
}

// SqlFor reads the extraction SQL for the domain. Files are read per call so
// query changes take effect without a restart.
func (l *Loader) SqlFor(d domain.Domain) (string, error) {
	path := filepath.Join(l.dir, d.String()+".sql")
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to read extraction query for domain %v", d)
	}
	sqlText := strings.TrimSpace(string(b))
	if sqlText == "" {
		return "", errors.Errorf("extraction query file %v is empty", path)
	}
	l.log.Debug("loaded extraction query for domain ", d, " from ", path)
	return sqlText, nil
}
