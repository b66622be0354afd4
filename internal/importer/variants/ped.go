package variants

import (
	"fmt"
	"strings"

	"github.com/varfish-case-importer/internal/domain"
)

// FormatPED renders individuals as a tab separated PLINK pedigree. Names are
// translated with ids so that they match the sample names of the VCF.
func FormatPED(family string, individuals []*domain.Individual, ids domain.IdentifierMap) string {
	parent := func(name string) string {
		if name == "" || name == "0" {
			return "0"
		}
		return ids.Lookup(name)
	}

	var b strings.Builder
	for _, ind := range individuals {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%d\n",
			family,
			ids.Lookup(ind.Name),
			parent(ind.Father),
			parent(ind.Mother),
			ind.Sex.PlinkCode(),
			ind.Affected.PlinkCode(),
		)
	}
	return b.String()
}
