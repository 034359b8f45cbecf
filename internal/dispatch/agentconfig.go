package dispatch

import "encoding/json"

const (
	embeddingModel = "BAAI/bge-small-en-v1.5"
	kbChunks       = 5
)

// CraftAgentConfig builds the agent_config blob from an agent registry
// document. A nil document yields nil.
func CraftAgentConfig(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	cfg := objectAt(doc, "Configuration")
	kb := objectAt(doc, "selectedKnowledgeBase")

	var kbBlock map[string]any
	selected := map[string]any{}
	if len(kb) > 0 {
		kbBlock = map[string]any{
			"id":               stringAt(kb, "id"),
			"name":             stringAt(kb, "name"),
			"enabled":          "yes",
			"collection_name":  stringAt(kb, "collection_name"),
			"embedding_model":  embeddingModel,
			"description":      stringAt(kb, "description"),
			"number_of_chunks": kbChunks,
		}
		selected = kb
	}
	kbOrEmpty := func() map[string]any {
		if kbBlock == nil {
			return map[string]any{}
		}
		out := make(map[string]any, len(kbBlock))
		for k, v := range kbBlock {
			out[k] = v
		}
		return out
	}

	return map[string]any{
		"AgentID":   stringAt(doc, "AgentID"),
		"AgentName": stringAt(doc, "AgentName"),
		"AgentDesc": stringAt(doc, "AgentDesc"),
		"CreatedOn": valueOr(doc, "CreatedOn", ""),
		"Configuration": map[string]any{
			"name":                 stringAt(cfg, "name"),
			"function_description": stringAt(cfg, "function_description"),
			"system_message":       stringAt(cfg, "system_message"),
			"tools":                valueOr(cfg, "tools", []any{}),
			"category":             stringAt(cfg, "category"),
			"structured_output":    structuredOutput(cfg),
			"knowledge_base":       kbOrEmpty(),
		},
		"isManagerAgent":        valueOr(doc, "isManagerAgent", false),
		"selectedManagerAgents": valueOr(doc, "selectedManagerAgents", []any{}),
		"managerAgentIntention": stringAt(doc, "managerAgentIntention"),
		"selectedKnowledgeBase": selected,
		"knowledge_base":        kbOrEmpty(),
		"coreFeatures":          valueOr(doc, "coreFeatures", map[string]any{}),
		"llmProvider":           stringAt(doc, "llmProvider"),
		"llmModel":              stringAt(doc, "llmModel"),
	}
}

// structuredOutput resolves the structured output schema. Disabled output is
// an empty object; an explicit false is null; a JSON string is decoded; a
// wrapping "structured_output" key is unwrapped.
func structuredOutput(cfg map[string]any) any {
	if on, _ := cfg["structured_output_toggle"].(bool); !on {
		return map[string]any{}
	}
	raw, ok := cfg["structured_output"]
	if !ok {
		raw = "{}"
	}
	switch x := raw.(type) {
	case bool:
		if !x {
			return nil
		}
		return x
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(x), &decoded); err != nil {
			return map[string]any{}
		}
		if m, ok := decoded.(map[string]any); ok {
			return valueOr(m, "structured_output", m)
		}
		return decoded
	case map[string]any:
		return valueOr(x, "structured_output", x)
	default:
		return x
	}
}

func objectAt(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func valueOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}
