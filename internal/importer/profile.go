package importer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ColumnProfile adds header aliases on top of the built-in synonym table.
//
//	aliases:
//	  text: [soal, pertanyaan]
//	  option_a: [pilihan_a]
type ColumnProfile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

func LoadColumnProfile(path string) (*ColumnProfile, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read column profile: %w", err)
	}
	return ParseColumnProfile(raw)
}

func ParseColumnProfile(raw []byte) (*ColumnProfile, error) {
	var p ColumnProfile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse column profile: %w", err)
	}
	for field := range p.Aliases {
		if !knownField(field) {
			return nil, fmt.Errorf("parse column profile: unknown field %q", field)
		}
	}
	return &p, nil
}

func knownField(field string) bool {
	if _, ok := headerSynonyms[field]; ok {
		return true
	}
	for _, l := range optionLetters {
		if field == optionField(l) || field == optionImageField(l) {
			return true
		}
	}
	return false
}
