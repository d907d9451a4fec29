package expect

import (
	"io/ioutil"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// RuleFile is the on-disk shape of a declarative rule set for one layer
// transition.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) ([]Rule, error) {
	var rf RuleFile
	if err := yaml.UnmarshalStrict(data, &rf); err != nil {
		return nil, errors.Wrap(err, "unmarshaling rules")
	}
	for _, r := range rf.Rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return rf.Rules, nil
}

// LoadRules reads a YAML rule set from a file.
func LoadRules(path string) ([]Rule, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading rule file %q", path)
	}
	rules, err := ParseRules(data)
	return rules, errors.Wrapf(err, "parsing rule file %q", path)
}
