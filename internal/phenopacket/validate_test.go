package phenopacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Complete(t *testing.T) {
	assert.Empty(t, Validate([]byte(trioJSON)))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		warnings []string
	}{
		{
			name:    "empty document",
			payload: `{}`,
			warnings: []string{
				"missing required section: metadata",
				"missing required section: proband",
			},
		},
		{
			name:    "metadata without fields",
			payload: `{"proband": {"subject": {"id": "Zaphod"}}, "meta_data": {}}`,
			warnings: []string{
				"missing required field: metadata.created",
				"missing required field: metadata.created_by",
				"missing required field: metadata.resources",
				"missing required field: metadata.phenopacket_schema_version",
			},
		},
		{
			name: "incomplete resource and old schema",
			payload: `{"proband": {"subject": {"id": "Zaphod"}}, "metaData": {
				"created": "now", "createdBy": "me", "phenopacketSchemaVersion": "1.0.0",
				"resources": [{"id": "hp", "name": "HPO", "url": "u", "version": "v"}]}}`,
			warnings: []string{
				`unsupported phenopacket schema version "1.0.0", expected 2.*`,
				"missing required field: metadata.resources[0].namespace_prefix",
				"missing required field: metadata.resources[0].iri_prefix",
			},
		},
		{
			name:     "proband without subject",
			payload:  `{"proband": {}, "meta_data": {"created": "x", "created_by": "y", "resources": [], "phenopacket_schema_version": "2.0"}}`,
			warnings: []string{"proband has no subject id"},
		},
		{
			name: "unknown parent",
			payload: `{"proband": {"subject": {"id": "Zaphod"}}, "meta_data": {"created": "x", "created_by": "y", "resources": [], "phenopacket_schema_version": "2.0"},
				"pedigree": {"persons": [{"individual_id": "Zaphod", "paternal_id": "Arthur", "maternal_id": "0"}]}}`,
			warnings: []string{`pedigree member "Zaphod" references unknown parent "Arthur"`},
		},
		{
			name:     "invalid json",
			payload:  `[`,
			warnings: []string{"payload is not valid JSON: unexpected end of JSON input"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.warnings, Validate([]byte(tt.payload)))
		})
	}
}
