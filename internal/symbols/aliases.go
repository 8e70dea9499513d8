package symbols

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed default_aliases.yaml
var defaultAliasesYAML []byte

// aliasDoc mirrors the shape of default_aliases.yaml.
type aliasDoc struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// loadAliases parses raw into a symbol -> ordered fallback chain map. A nil
// or empty raw falls back to the embedded default document.
func loadAliases(raw []byte) (map[string][]string, error) {
	if len(raw) == 0 {
		raw = defaultAliasesYAML
	}
	var doc aliasDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Aliases, nil
}
