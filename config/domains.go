package config

import (
	"io/ioutil"
	"os"
	"path"

	"github.com/espejodata/espejo/domain"
	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// DomainSettings is the operator-editable domains.yaml: where extraction query
// files live and which domains accept runs. A missing file means defaults.
type DomainSettings struct {
	QueriesDir string                    `json:"queriesDir"`
	Domains    map[string]DomainOptions `json:"domains"`
}

type DomainOptions struct {
	Enabled *bool `json:"enabled"` // nil means enabled.
}

// LoadDomainSettings reads domains.yaml from the config home directory.
func LoadDomainSettings() (*DomainSettings, error) {
	return LoadDomainSettingsFromFile(path.Join(mustGetConfigHomeDir(), DomainsFileFullName))
}

func LoadDomainSettingsFromFile(filePath string) (*DomainSettings, error) {
	s := &DomainSettings{}
	b, err := ioutil.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) { // no file means defaults for everything.
			s.applyDefaults()
			return s, nil
		}
		return nil, errors.Wrapf(err, "unable to read %v", filePath)
	}
	if err = yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrapf(err, "unable to parse %v", filePath)
	}
	for name := range s.Domains {
		if _, err = domain.ParseDomain(name); err != nil {
			return nil, errors.Wrapf(err, "bad domain in %v", filePath)
		}
	}
	s.applyDefaults()
	return s, nil
}

func (s *DomainSettings) applyDefaults() {
	if s.QueriesDir == "" {
		s.QueriesDir = path.Join(mustGetConfigHomeDir(), "queries")
	}
	if s.Domains == nil {
		s.Domains = make(map[string]DomainOptions)
	}
}

// IsEnabled reports whether runs are accepted for the domain.
func (s *DomainSettings) IsEnabled(d domain.Domain) bool {
	opts, ok := s.Domains[d.String()]
	if !ok || opts.Enabled == nil {
		return true
	}
	return *opts.Enabled
}

// DisabledDomains lists the domain names the operator has switched off.
func (s *DomainSettings) DisabledDomains() []string {
	var names []string
	for name, opts := range s.Domains {
		if opts.Enabled != nil && !*opts.Enabled {
			names = append(names, name)
		}
	}
	return names
}
