package report

import (
	"log"
	"strings"

	"github.com/gxplab/reportengine/internal/domain"
)

// submissionJoinKey is the shared foreign key of the one join shape the
// engine attempts automatically: a submissions-family parent joined to an
// observations-family child.
const submissionJoinKey = "submission_id"

type tableFamily int

const (
	familyOther tableFamily = iota
	familySubmission
	familyPetri
	familyGasifier
	familyObservation
)

func classifyTable(table string) tableFamily {
	name := strings.ToLower(table)
	switch {
	case name == "submissions" || strings.HasSuffix(name, "_submissions"):
		return familySubmission
	case strings.HasSuffix(name, "petri_observations"):
		return familyPetri
	case strings.HasSuffix(name, "gasifier_observations"):
		return familyGasifier
	case name == "observations" || strings.HasSuffix(name, "_observations") || strings.HasSuffix(name, "observations"):
		return familyObservation
	default:
		return familyOther
	}
}

// joinPlan is the join strategy resolver's verdict for a report config.
type joinPlan struct {
	NeedsJoin bool
	Main      domain.DataSource
	Related   *domain.DataSource
	JoinKey   string
}

// resolveJoin inspects the report's dimensions and measures and decides
// whether all requested fields can be satisfied from the main source or a
// cross-source join is required. Only the parent/child submission →
// observation shape is attempted automatically; any other multi-source
// combination degrades to single-source querying, omitting fields from
// unsupported secondary sources rather than failing opaquely.
func resolveJoin(config domain.ReportConfig) (joinPlan, error) {
	main, err := config.PrimarySource()
	if err != nil {
		return joinPlan{}, err
	}

	foreign := make(map[string]struct{})
	for _, dim := range config.Dimensions {
		if dim.Source != "" && dim.Source != main.ID {
			foreign[dim.Source] = struct{}{}
		}
	}
	for _, measure := range config.Measures {
		if measure.DataSource != "" && measure.DataSource != main.ID {
			foreign[measure.DataSource] = struct{}{}
		}
	}

	if len(foreign) == 0 {
		return joinPlan{Main: main}, nil
	}
	if len(foreign) > 1 {
		log.Printf("[engine] %d secondary sources requested, only one join supported; degrading to single-source query", len(foreign))
		return joinPlan{Main: main}, nil
	}

	var relatedID string
	for id := range foreign {
		relatedID = id
	}
	related, ok := config.SourceByID(relatedID)
	if !ok {
		log.Printf("[engine] secondary source %s not declared in config; degrading to single-source query", relatedID)
		return joinPlan{Main: main}, nil
	}

	if classifyTable(main.Table) == familySubmission && isObservationFamily(classifyTable(related.Table)) {
		return joinPlan{NeedsJoin: true, Main: main, Related: &related, JoinKey: submissionJoinKey}, nil
	}

	log.Printf("[engine] join %s -> %s is not a supported shape; degrading to single-source query", main.Table, related.Table)
	return joinPlan{Main: main}, nil
}

func isObservationFamily(family tableFamily) bool {
	switch family {
	case familyPetri, familyGasifier, familyObservation:
		return true
	default:
		return false
	}
}
