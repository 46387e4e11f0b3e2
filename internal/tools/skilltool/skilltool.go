// Package skilltool exposes the skill library as list_skills, load_skill and search_skills.
package skilltool

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/skills"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// Tools returns the skill tools over lib.
func Tools(lib *skills.Library) engine.ToolSet {
	return engine.ToolSet{}.Add(listTool(lib), loadTool(lib), searchTool(lib))
}

func listTool(lib *skills.Library) engine.Tool {
	return engine.Tool{
		Name:        "list_skills",
		Description: "Lists the available skill documents (source-specific extraction guides and procedures) with a one-line summary each.",
		SchemaJSON:  `{"type":"object","properties":{}}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			list := lib.List()
			if len(list) == 0 {
				return engine.TextOutput("No skills are installed."), nil
			}
			loaded := engine.NewSkillSet()
			if st, ok := engine.StateFromContext(ctx); ok {
				loaded = st.Skills
			}
			var b strings.Builder
			for _, s := range list {
				mark := ""
				if loaded.Has(s.ID) {
					mark = " [loaded]"
				}
				fmt.Fprintf(&b, "- %s: %s%s\n", s.ID, s.Title, mark)
				if s.Summary != "" {
					fmt.Fprintf(&b, "  %s\n", s.Summary)
				}
			}
			return engine.TextOutput(b.String()), nil
		},
		Metadata: engine.ToolMetadata{Category: "skills", ReadOnly: true},
	}
}

func loadTool(lib *skills.Library) engine.Tool {
	return engine.Tool{
		Name:        "load_skill",
		Description: "Loads a skill document into the conversation by id. Load the guide for a results source before extracting from it.",
		SchemaJSON:  `{"type":"object","properties":{"id":{"type":"string","description":"Skill id as shown by list_skills"}},"required":["id"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			id, err := toolkit.String(args, "id")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			s, ok := lib.Get(id)
			if !ok {
				return engine.ErrorOutput("no skill %q; call list_skills or search_skills to find the id", id), nil
			}
			if st, ok := engine.StateFromContext(ctx); ok {
				st.LoadSkill(s.ID)
			}
			return engine.TextOutput(fmt.Sprintf("Skill %s loaded.\n\n%s", s.ID, s.Body)), nil
		},
		Metadata: engine.ToolMetadata{Category: "skills", ReadOnly: true},
	}
}

func searchTool(lib *skills.Library) engine.Tool {
	return engine.Tool{
		Name:        "search_skills",
		Description: "Full-text search over skill titles and bodies. Returns matching skill ids ranked by relevance.",
		SchemaJSON:  `{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			query, err := toolkit.String(args, "query")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			hits, err := lib.Search(query, toolkit.OptInt(args, "limit", 5))
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			if len(hits) == 0 {
				return engine.TextOutput(fmt.Sprintf("No skills match %q.", query)), nil
			}
			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "- %s (%.2f): %s\n", h.Skill.ID, h.Score, h.Skill.Title)
			}
			return engine.TextOutput(b.String()), nil
		},
		Metadata: engine.ToolMetadata{Category: "skills", ReadOnly: true},
	}
}
