package annotate

import "slices"

// Section names a top-level subtree of a submission.
type Section string

// Submission sections, in fetch order.
const (
	SectionCommon           Section = "Common"
	SectionAdvancedProperty Section = "Advanced Property"
	SectionLossRun          Section = "Loss Run"
	SectionGeneralLiability Section = "General Liability"
	SectionProperty         Section = "Property"
	SectionAuto             Section = "Auto"
	SectionWorkersComp      Section = "Workers Compensation"
)

// SectionInfo pairs a section with the upstream data package that carries it.
type SectionInfo struct {
	Section   Section
	PackageID string
}

var sections = []SectionInfo{
	{SectionCommon, "elevate-us-common-c0001"},
	{SectionAdvancedProperty, "default-us-admitted-advanced-property-l0001"},
	{SectionLossRun, "default-us-loss-run-c0001"},
	{SectionGeneralLiability, "elevate-us-gl-c0001"},
	{SectionProperty, "elevate-us-property-l0001"},
	{SectionAuto, "elevate-us-admitted-auto-c0001"},
	{SectionWorkersComp, "elevate-us-admitted-workers-comp-c0001"},
}

// Sections returns every known section with its data package id.
func Sections() []SectionInfo {
	return slices.Clone(sections)
}

// Lookup finds a section by its display name.
func Lookup(name string) (SectionInfo, bool) {
	for _, s := range sections {
		if string(s.Section) == name {
			return s, true
		}
	}
	return SectionInfo{}, false
}

// Known fact and option key sets.
var (
	brokerKeys = []string{
		"broker_name",
		"broker_address",
		"broker_city",
		"broker_state",
		"broker_postal_code",
		"broker_contact_points",
		"broker_email",
		"broker_contact_phone",
		"submission_received_date",
	}

	productScalarKeys = []string{
		"policy_inception_date",
		"end_date",
		"submission_received_date",
		"target_premium",
		"underwriter",
		"underwriter_email",
		"workers_comp_estimated_annual_payroll",
		"document_date",
		"expiring_premium",
		"lob",
	}

	standardFactKeys = map[string]bool{
		"building_number":                true,
		"location_address":               true,
		"location_city":                  true,
		"location_state":                 true,
		"location_postal_code":           true,
		"location_country":               true,
		"location_occupancy_description": true,
		"year_built":                     true,
	}

	// optionGroups buckets advanced-property options. rms and atc hold the
	// structural keys, protection_details the protective ones.
	optionGroups = []struct {
		name string
		keys []string
	}{
		{"rms_details", []string{"rms_construction_code", "rms_construction_description"}},
		{"atc_details", []string{"atc_construction_code", "atc_construction_description"}},
		{"protection_details", []string{"burglar_alarm_type"}},
	}

	// codeLists maps classification-code list keys to their projected prefix.
	codeLists = map[string]string{
		"primary_naics_2017": "naics",
		"primary_sic":        "sic",
	}
)
