// Package opendata ingests government and municipal open-data company
// lists described by a YAML source map.
package opendata

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Format of a source's payload.
const (
	FormatCSV    = "csv"
	FormatZipCSV = "zip_csv"
)

// Mappings binds entry fields to source column headers. Empty entries mean
// the source does not carry that field.
type Mappings struct {
	CorporateNumber string `yaml:"corporate_number"`
	Name            string `yaml:"name"`
	Address         string `yaml:"address"`
	Prefecture      string `yaml:"prefecture"`
	City            string `yaml:"city"`
	CapitalStock    string `yaml:"capital_stock"`
	EmployeeSize    string `yaml:"employee_size"`
	Industry        string `yaml:"industry"`
	PhoneNumber     string `yaml:"phone_number"`
	WebsiteURL      string `yaml:"website_url"`
}

// Source describes one downloadable company list.
type Source struct {
	Key       string   `yaml:"-"`
	Name      string   `yaml:"name"`
	URL       string   `yaml:"url"`
	Format    string   `yaml:"format"`
	Encoding  string   `yaml:"encoding"`
	Delimiter string   `yaml:"delimiter"`
	Enabled   *bool    `yaml:"enabled"`
	Mappings  Mappings `yaml:"mappings"`
}

// IsEnabled defaults to true when the flag is omitted.
func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (s Source) validate() error {
	if s.URL == "" {
		return eris.Errorf("opendata: source %s has no url", s.Key)
	}
	switch s.Format {
	case FormatCSV, FormatZipCSV:
	default:
		return eris.Errorf("opendata: source %s has unknown format %q", s.Key, s.Format)
	}
	if s.Mappings.Name == "" && s.Mappings.CorporateNumber == "" {
		return eris.Errorf("opendata: source %s maps neither name nor corporate_number", s.Key)
	}
	return nil
}

type sourceFile struct {
	Sources map[string]Source `yaml:"sources"`
}

// LoadSources reads the source map from a YAML file.
func LoadSources(path string) (map[string]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "opendata: read config %s", path)
	}
	return ParseSources(data)
}

// ParseSources parses the YAML source map and validates every entry.
func ParseSources(data []byte) (map[string]Source, error) {
	var file sourceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "opendata: parse config")
	}
	if len(file.Sources) == 0 {
		return nil, eris.New("opendata: config has no sources")
	}
	for key, src := range file.Sources {
		src.Key = key
		if err := src.validate(); err != nil {
			return nil, err
		}
		file.Sources[key] = src
	}
	return file.Sources, nil
}
