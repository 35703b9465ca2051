package models

// Explanation is the generated content payload for a single concept.
// The engine treats it as opaque apart from ConceptName and SimpleExplanation.
type Explanation struct {
	ConceptName       string   `json:"conceptName" validate:"required"`
	Category          string   `json:"category,omitempty"`
	ElevatorPitch     string   `json:"elevatorPitch,omitempty"`
	SimpleExplanation string   `json:"simpleExplanation" validate:"required"`
	ProblemSolved     string   `json:"problemSolved,omitempty"`
	Complexity        string   `json:"complexity,omitempty"`
	Prerequisites     []string `json:"prerequisites,omitempty"`

	Analogy             string       `json:"analogy,omitempty"`
	ImaginationScenario string       `json:"imaginationScenario,omitempty"`
	Diagram             *Diagram     `json:"diagram,omitempty"`
	WhyExists           *WhyExists   `json:"whyExists,omitempty"`
	CodeExample         *CodeExample `json:"codeExample,omitempty"`
	CheckUnderstanding  []string     `json:"checkUnderstanding"`

	References       References `json:"references"`
	ResourceWarnings []string   `json:"resourceWarnings,omitempty"`
}

// Diagram is a mermaid diagram attached to an explanation.
type Diagram struct {
	Type        string `json:"type"`
	MermaidCode string `json:"mermaidCode"`
	Caption     string `json:"caption"`
}

// WhyExists describes the problem a concept solves.
type WhyExists struct {
	Before string `json:"before"`
	Pain   string `json:"pain"`
	After  string `json:"after"`
}

// CodeExample is a short illustrative snippet.
type CodeExample struct {
	Language    string `json:"language"`
	Code        string `json:"code"`
	WhatHappens string `json:"whatHappens"`
}

// Reference is an external resource recommended for a concept.
type Reference struct {
	URL          string  `json:"url"`
	Name         string  `json:"name"`
	QualityScore float64 `json:"qualityScore"`
	Description  string  `json:"description,omitempty"`
}

// References groups the recommended resources for a concept.
type References struct {
	Official       *Reference  `json:"official,omitempty"`
	BestTutorial   *Reference  `json:"bestTutorial,omitempty"`
	QuickReference *Reference  `json:"quickReference,omitempty"`
	DeepDive       *Reference  `json:"deepDive,omitempty"`
	Others         []Reference `json:"others,omitempty"`
}

// Empty reports whether no reference is set.
func (r References) Empty() bool {
	return r.Official == nil && r.BestTutorial == nil && r.QuickReference == nil &&
		r.DeepDive == nil && len(r.Others) == 0
}
