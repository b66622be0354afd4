package phenopacket

import (
	"fmt"
	"strings"

	"github.com/Jeffail/gabs"
)

var requiredMetaFields = []string{"created", "created_by", "resources", "phenopacket_schema_version"}

var requiredResourceFields = []string{"id", "name", "namespace_prefix", "url", "version", "iri_prefix"}

// Validate checks a Family document and returns human readable warnings. It
// never fails: every check skips silently when the section it looks at is
// absent, and each missing required section yields exactly one warning.
func Validate(raw []byte) []string {
	normalized, err := Normalize(raw)
	if err != nil {
		return []string{fmt.Sprintf("payload is not valid JSON: %v", err)}
	}
	doc, err := gabs.ParseJSON(normalized)
	if err != nil {
		return []string{fmt.Sprintf("payload is not valid JSON: %v", err)}
	}

	var warnings []string
	warnings = append(warnings, validateMetaData(doc)...)
	warnings = append(warnings, validateProband(doc)...)
	warnings = append(warnings, validatePedigree(doc)...)
	return warnings
}

func validateMetaData(doc *gabs.Container) []string {
	if !doc.Exists("meta_data") {
		return []string{"missing required section: metadata"}
	}
	meta := doc.Path("meta_data")

	var warnings []string
	for _, field := range requiredMetaFields {
		if !meta.Exists(field) {
			warnings = append(warnings, fmt.Sprintf("missing required field: metadata.%s", field))
		}
	}

	if version, ok := meta.Path("phenopacket_schema_version").Data().(string); ok {
		if major, _, _ := strings.Cut(version, "."); major != "2" {
			warnings = append(warnings, fmt.Sprintf("unsupported phenopacket schema version %q, expected 2.*", version))
		}
	}

	resources, err := meta.Path("resources").Children()
	if err != nil {
		return warnings
	}
	for i, resource := range resources {
		for _, field := range requiredResourceFields {
			if !resource.Exists(field) {
				warnings = append(warnings, fmt.Sprintf("missing required field: metadata.resources[%d].%s", i, field))
			}
		}
	}
	return warnings
}

func validateProband(doc *gabs.Container) []string {
	if !doc.Exists("proband") {
		return []string{"missing required section: proband"}
	}
	if !doc.Exists("proband", "subject", "id") {
		return []string{"proband has no subject id"}
	}
	return nil
}

// validatePedigree checks that parents referenced in the pedigree are members of it.
func validatePedigree(doc *gabs.Container) []string {
	persons, err := doc.Path("pedigree.persons").Children()
	if err != nil {
		return nil
	}

	members := make(map[string]bool, len(persons))
	for _, person := range persons {
		if id, ok := person.Path("individual_id").Data().(string); ok {
			members[id] = true
		}
	}

	var warnings []string
	for _, person := range persons {
		id, _ := person.Path("individual_id").Data().(string)
		for _, key := range []string{"paternal_id", "maternal_id"} {
			parent, _ := person.Path(key).Data().(string)
			if parent != "" && parent != "0" && !members[parent] {
				warnings = append(warnings, fmt.Sprintf("pedigree member %q references unknown parent %q", id, parent))
			}
		}
	}
	return warnings
}
