// internal/gemini/types.go
package gemini

// Result shapes for the four analysis operations. Each has a fallback
// constructor that merges a partially parsed response over defaults, so a
// malformed model reply still yields a structurally valid object.

// DiffAnalysis is the structured result of analyzing one commit diff.
type DiffAnalysis struct {
	Summary              string   `json:"summary"`
	WorkCategory         string   `json:"work_category"`
	TechnologiesDetected []string `json:"technologies_detected"`
	ComplexityScore      float64  `json:"complexity_score"`
	QualityNotes         []string `json:"quality_notes"`
}

// diffAnalysisFromMap builds a DiffAnalysis from a possibly partial parsed
// response. raw may be nil.
func diffAnalysisFromMap(raw map[string]any) DiffAnalysis {
	return DiffAnalysis{
		Summary:              getString(raw, "summary", "Analysis result could not be parsed"),
		WorkCategory:         getString(raw, "work_category", "other"),
		TechnologiesDetected: getStringList(raw, "technologies_detected"),
		ComplexityScore:      getFloat(raw, "complexity_score", 1.0),
		QualityNotes:         getStringList(raw, "quality_notes"),
	}
}

// WeeklySummary is the structured result of a weekly activity summary.
type WeeklySummary struct {
	Highlight        string   `json:"highlight"`
	KeyAchievements  []string `json:"key_achievements"`
	TechnologiesUsed []string `json:"technologies_used"`
	Suggestions      []string `json:"suggestions"`
	FocusAreas       []string `json:"focus_areas"`
}

func weeklySummaryFromMap(raw map[string]any) WeeklySummary {
	return WeeklySummary{
		Highlight:        getString(raw, "highlight", "Weekly summary could not be generated"),
		KeyAchievements:  getStringList(raw, "key_achievements"),
		TechnologiesUsed: getStringList(raw, "technologies_used"),
		Suggestions:      getStringList(raw, "suggestions"),
		FocusAreas:       getStringList(raw, "focus_areas"),
	}
}

// MonthlySummary is the structured result of a monthly retrospective.
type MonthlySummary struct {
	Narrative         string   `json:"narrative"`
	GrowthAreas       []string `json:"growth_areas"`
	MonthlyHighlights []string `json:"monthly_highlights"`
}

func monthlySummaryFromMap(raw map[string]any) MonthlySummary {
	return MonthlySummary{
		Narrative:         getString(raw, "narrative", "Monthly summary could not be generated"),
		GrowthAreas:       getStringList(raw, "growth_areas"),
		MonthlyHighlights: getStringList(raw, "monthly_highlights"),
	}
}

// TechStack is the structured result of a repository tech-stack analysis.
type TechStack struct {
	Domain         string   `json:"domain"`
	DomainDetail   string   `json:"domain_detail"`
	Frameworks     []string `json:"frameworks"`
	Tools          []string `json:"tools"`
	Infrastructure []string `json:"infrastructure"`
	ProjectType    string   `json:"project_type"`
}

func techStackFromMap(raw map[string]any) TechStack {
	return TechStack{
		Domain:         getString(raw, "domain", "general"),
		DomainDetail:   getString(raw, "domain_detail", ""),
		Frameworks:     getStringList(raw, "frameworks"),
		Tools:          getStringList(raw, "tools"),
		Infrastructure: getStringList(raw, "infrastructure"),
		ProjectType:    getString(raw, "project_type", ""),
	}
}

// Activity input shapes embedded into summary prompts. Callers assemble
// them from stored records; the prompt builders apply the size caps.

type ActivityCommit struct {
	Message   string `json:"message"`
	Repo      string `json:"repo"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type ActivityPullRequest struct {
	Title string `json:"title"`
	Repo  string `json:"repo"`
	State string `json:"state"`
}

type ActivityAnalysis struct {
	Summary      string   `json:"summary"`
	WorkCategory string   `json:"work_category"`
	Technologies []string `json:"technologies"`
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func getFloat(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func getStringList(m map[string]any, key string) []string {
	out := []string{}
	list, ok := m[key].([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
