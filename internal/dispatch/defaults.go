package dispatch

import "github.com/sells-group/intake-cli/internal/annotate"

// DefaultRoutes is the production agent set, used when no routes file is
// configured. Each agent has its own host. A non-empty endpoint sends every
// agent to that one shared agent service instead, and each query then
// carries the agent's crafted agent_config so the service knows which agent
// to run.
func DefaultRoutes(endpoint string) []Route {
	routes := []Route{
		{
			Name:         "InsuranceVerify",
			ID:           "62bdca88-828e-48a2-ac10-357264372043",
			Endpoint:     "https://insuranceverify.enowclear360.com/query",
			Shaping:      ShapeReference,
			PromptSuffix: "Please verify insurance details in the data.",
		},
		{
			Name:         "LossInsights",
			ID:           "10645287-854e-4270-bb7d-fcbb31d3aefa",
			Endpoint:     "https://lossinsights.enowclear360.com/query",
			Shaping:      ShapeReference,
			PromptSuffix: "Please provide loss insights for the data.",
		},
		{
			Name:         "PropEval",
			ID:           "8c72ba1d-9403-4782-8f8c-12564ab73f9c",
			Endpoint:     "https://propeval.enowclear360.com/query",
			Shaping:      ShapeReference,
			PromptSuffix: "Please provide Property evaluation insights for the data.",
		},
		{
			Name:         "ExposureInsights",
			ID:           "5cbb17d3-5fe5-4b59-9d4b-b33d471e4220",
			Endpoint:     "https://exposureinsights.enowclear360.com/query",
			Shaping:      ShapeReference,
			PromptSuffix: "Please provide exposure insights for the data.",
		},
		{
			Name:         "EligibilityCheck",
			ID:           "48e0fde3-2c69-44f0-98d6-b6a5b031c2bb",
			Endpoint:     "https://eligibility.enowclear360.com/query",
			Shaping:      ShapeWithoutSection,
			Section:      string(annotate.SectionLossRun),
			PromptSuffix: "Please check eligibility based on the data.",
		},
		{
			Name:         "BusinessProfileSearch",
			ID:           "383daaad-4b46-491b-b987-9dd17d430ca3",
			Endpoint:     "https://businessprofile.enowclear360.com/query",
			Shaping:      ShapeSection,
			Section:      string(annotate.SectionCommon),
			PromptSuffix: "Please search the business profile based on the data.",
		},
	}
	if endpoint != "" {
		for i := range routes {
			routes[i].Endpoint = endpoint
			routes[i].SendConfig = true
		}
	}
	return routes
}

// DefaultRoutingTable builds the table from DefaultRoutes.
func DefaultRoutingTable(endpoint string) *RoutingTable {
	t, err := NewRoutingTable(DefaultRoutes(endpoint))
	if err != nil {
		panic(err)
	}
	return t
}
