// Package phenopacket decodes and checks the phenopacket "Family" documents
// that describe a case import.
package phenopacket

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/varfish-case-importer/internal/domain"
)

// Family is a proband with relatives, pedigree and file manifest.
type Family struct {
	ID        string        `json:"id"`
	Proband   *Phenopacket  `json:"proband"`
	Relatives []Phenopacket `json:"relatives"`
	Pedigree  *Pedigree     `json:"pedigree"`
	Files     []File        `json:"files"`
	MetaData  *MetaData     `json:"meta_data"`
}

// Phenopacket describes one individual.
type Phenopacket struct {
	ID                 string              `json:"id"`
	Subject            *Individual         `json:"subject"`
	PhenotypicFeatures []PhenotypicFeature `json:"phenotypic_features"`
	Diseases           []Disease           `json:"diseases"`
	Files              []File              `json:"files"`
	MetaData           *MetaData           `json:"meta_data"`
}

// Individual is the subject of a phenopacket.
type Individual struct {
	ID            string `json:"id"`
	Sex           string `json:"sex"`
	KaryotypicSex string `json:"karyotypic_sex"`
}

// OntologyClass is an ontology term.
type OntologyClass struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PhenotypicFeature is an observed (or explicitly excluded) phenotype.
type PhenotypicFeature struct {
	Type     OntologyClass `json:"type"`
	Excluded bool          `json:"excluded"`
}

// Disease is a diagnosed (or explicitly excluded) disease.
type Disease struct {
	Term     OntologyClass `json:"term"`
	Excluded bool          `json:"excluded"`
}

// File references a data file together with its attributes.
type File struct {
	URI                         string            `json:"uri"`
	IndividualToFileIdentifiers map[string]string `json:"individual_to_file_identifiers"`
	FileAttributes              map[string]string `json:"file_attributes"`
}

// Pedigree lists the family members in PED form.
type Pedigree struct {
	Persons []Person `json:"persons"`
}

// Person is one PED row.
type Person struct {
	FamilyID       string `json:"family_id"`
	IndividualID   string `json:"individual_id"`
	PaternalID     string `json:"paternal_id"`
	MaternalID     string `json:"maternal_id"`
	Sex            string `json:"sex"`
	AffectedStatus string `json:"affected_status"`
}

// MetaData describes how the document was produced.
type MetaData struct {
	Created                  string     `json:"created"`
	CreatedBy                string     `json:"created_by"`
	Resources                []Resource `json:"resources"`
	PhenopacketSchemaVersion string     `json:"phenopacket_schema_version"`
}

// Resource is an ontology or database the document refers to.
type Resource struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	NamespacePrefix string `json:"namespace_prefix"`
	URL             string `json:"url"`
	Version         string `json:"version"`
	IRIPrefix       string `json:"iri_prefix"`
}

// Decode parses a Family document. Both the snake_case field names of the
// protobuf definition and the camelCase names of its JSON mapping are accepted.
func Decode(raw []byte) (*Family, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPayloadDecode, err)
	}

	var family Family
	if err := json.Unmarshal(normalized, &family); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPayloadDecode, err)
	}

	if family.ID == "" {
		return nil, fmt.Errorf("%w: family id is missing", domain.ErrPayloadDecode)
	}
	if family.Proband == nil || family.Proband.Subject == nil || family.Proband.Subject.ID == "" {
		return nil, fmt.Errorf("%w: proband subject is missing", domain.ErrPayloadDecode)
	}
	for i, rel := range family.Relatives {
		if rel.Subject == nil || rel.Subject.ID == "" {
			return nil, fmt.Errorf("%w: relative %d has no subject", domain.ErrPayloadDecode, i)
		}
	}
	return &family, nil
}

// Members returns the proband followed by the relatives.
func (f *Family) Members() []*Phenopacket {
	members := make([]*Phenopacket, 0, 1+len(f.Relatives))
	if f.Proband != nil {
		members = append(members, f.Proband)
	}
	for i := range f.Relatives {
		members = append(members, &f.Relatives[i])
	}
	return members
}

// Phenopacket returns the phenopacket whose subject has the given id.
func (f *Family) Phenopacket(subjectID string) *Phenopacket {
	for _, p := range f.Members() {
		if p.Subject != nil && p.Subject.ID == subjectID {
			return p
		}
	}
	return nil
}

// Persons returns the pedigree rows, or a single row for the proband if the
// document has no pedigree.
func (f *Family) Persons() []Person {
	if f.Pedigree != nil && len(f.Pedigree.Persons) > 0 {
		return f.Pedigree.Persons
	}
	if f.Proband == nil || f.Proband.Subject == nil {
		return nil
	}
	return []Person{{
		FamilyID:       f.ID,
		IndividualID:   f.Proband.Subject.ID,
		Sex:            f.Proband.Subject.Sex,
		AffectedStatus: string(domain.AffectedAffected),
	}}
}

// Normalize rewrites camelCase object keys to snake_case. Keys of the
// identifier and attribute maps are user data and stay untouched.
func Normalize(raw []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeKeys(doc))
}

var verbatimMaps = map[string]bool{
	"individual_to_file_identifiers": true,
	"file_attributes":                true,
}

func normalizeKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			key := snakeCase(k)
			if verbatimMaps[key] {
				out[key] = child
			} else {
				out[key] = normalizeKeys(child)
			}
		}
		return out
	case []any:
		for i := range x {
			x[i] = normalizeKeys(x[i])
		}
		return x
	default:
		return v
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
