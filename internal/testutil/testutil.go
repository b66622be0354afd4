// Package testutil holds helpers shared by package tests: a migrated sqlite
// database, a quiet logger and phenopacket family payloads.
package testutil

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/varfish-case-importer/internal/database"
)

// Logger returns a logger that only prints warnings and errors.
func Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// OpenSQLite creates a migrated sqlite database in a temporary directory. The
// connection is closed when the test ends.
func OpenSQLite(t *testing.T) *database.DB {
	t.Helper()
	return OpenSQLiteConns(t, 4)
}

// OpenSQLiteConns is OpenSQLite with a pool of at most maxConns connections.
func OpenSQLiteConns(t *testing.T, maxConns int32) *database.DB {
	t.Helper()
	ctx := context.Background()
	config := database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "varfish.db"),
		MaxConns:   maxConns,
	}
	logger := Logger()

	require.NoError(t, database.Migrate(ctx, config, logger))
	db, err := database.NewConnection(ctx, config, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

// Term is an ontology term of a family member.
type Term struct {
	ID       string
	Label    string
	Excluded bool
}

// Member describes one individual of a family payload.
type Member struct {
	Name     string
	Father   string
	Mother   string
	Sex      string
	Affected string
	// Files are attached to the member's phenopacket in order. By convention
	// the first one names the target BED file.
	Files      []File
	Phenotypes []Term
	Diseases   []Term
}

// File is a file manifest entry.
type File struct {
	URI         string
	Identifiers map[string]string
	Attributes  map[string]string
}

// Family builds a phenopacket family payload.
type Family struct {
	ID      string
	Members []Member // the first member is the proband
	Files   []File
}

func (f File) toJSON() map[string]any {
	out := map[string]any{"uri": f.URI}
	if f.Identifiers != nil {
		out["individual_to_file_identifiers"] = f.Identifiers
	}
	if f.Attributes != nil {
		out["file_attributes"] = f.Attributes
	}
	return out
}

func terms(ts []Term, key string) []map[string]any {
	out := make([]map[string]any, 0, len(ts))
	for _, t := range ts {
		entry := map[string]any{key: map[string]string{"id": t.ID, "label": t.Label}}
		if t.Excluded {
			entry["excluded"] = true
		}
		out = append(out, entry)
	}
	return out
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func (m Member) phenopacket(familyID string) map[string]any {
	files := make([]map[string]any, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, f.toJSON())
	}
	return map[string]any{
		"id":                  familyID + "-" + m.Name,
		"subject":             map[string]string{"id": m.Name, "sex": m.Sex},
		"phenotypic_features": terms(m.Phenotypes, "type"),
		"diseases":            terms(m.Diseases, "term"),
		"files":               files,
	}
}

// JSON renders the family as a payload document.
func (f Family) JSON() []byte {
	var (
		relatives []map[string]any
		persons   []map[string]any
	)
	for i, m := range f.Members {
		if i > 0 {
			relatives = append(relatives, m.phenopacket(f.ID))
		}
		affected := m.Affected
		if affected == "" {
			affected = "UNAFFECTED"
		}
		persons = append(persons, map[string]any{
			"family_id":       f.ID,
			"individual_id":   m.Name,
			"paternal_id":     orZero(m.Father),
			"maternal_id":     orZero(m.Mother),
			"sex":             m.Sex,
			"affected_status": affected,
		})
	}
	files := make([]map[string]any, 0, len(f.Files))
	for _, file := range f.Files {
		files = append(files, file.toJSON())
	}

	doc := map[string]any{
		"id":        f.ID,
		"proband":   f.Members[0].phenopacket(f.ID),
		"relatives": relatives,
		"pedigree":  map[string]any{"persons": persons},
		"files":     files,
		"meta_data": map[string]any{
			"created":                    "2024-01-01T00:00:00Z",
			"created_by":                 "testutil",
			"phenopacket_schema_version": "2.0",
			"resources": []map[string]string{{
				"id":               "hp",
				"name":             "Human Phenotype Ontology",
				"namespace_prefix": "HP",
				"url":              "http://purl.obolibrary.org/obo/hp.owl",
				"version":          "2024-01-01",
				"iri_prefix":       "http://purl.obolibrary.org/obo/HP_",
			}},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return b
}

// Singleton returns a one-member family around the given proband.
func Singleton(name string, phenotypes ...Term) Family {
	return Family{
		ID: "FAM_" + name,
		Members: []Member{{
			Name:       name,
			Sex:        "MALE",
			Affected:   "AFFECTED",
			Phenotypes: phenotypes,
		}},
	}
}
