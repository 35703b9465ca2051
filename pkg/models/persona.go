package models

import (
	"fmt"
	"strings"
)

// Persona is the audience an explanation is critiqued for.
type Persona string

const (
	// PersonaLayman is a non-technical reader with no prior knowledge.
	PersonaLayman Persona = "Layman"
	// PersonaNovice is a beginner with basic vocabulary.
	PersonaNovice Persona = "Novice"
	// PersonaProfessional is a practitioner who wants practical value.
	PersonaProfessional Persona = "Professional"
	// PersonaExpert is a skeptical domain expert.
	PersonaExpert Persona = "Expert"
	// PersonaResearcher values formal rigour and coverage.
	PersonaResearcher Persona = "Researcher"
)

// DefaultPersona is used when none is requested.
const DefaultPersona = PersonaNovice

var personaDefinitions = map[Persona]string{
	PersonaLayman:       "You are a non-technical reader with zero prior knowledge. You get confused by jargon and abstract concepts easily. You need simple analogies and plain language. You should be VERY critical of any terms that aren't common knowledge.",
	PersonaNovice:       "You are a beginner who wants to learn but has limited experience. You know basic terms but need clear step-by-step explanations. You appreciate good examples.",
	PersonaProfessional: "You are a working professional. You care about practical application, best practices, and efficiency. You don't need basic definitions but expect competence and immediate value.",
	PersonaExpert:       "You are a domain expert. You are skeptical, detail-oriented, and look for technical accuracy, edge cases, and deep insights. You hate oversimplification.",
	PersonaResearcher:   "You are an academic researcher. You value formal definitions, theoretical correctness, citations, and comprehensive coverage. You check for rigour.",
}

// AllPersonas returns the personas in increasing order of expertise.
func AllPersonas() []Persona {
	return []Persona{PersonaLayman, PersonaNovice, PersonaProfessional, PersonaExpert, PersonaResearcher}
}

// Valid returns true if the persona is a known value.
func (p Persona) Valid() bool {
	_, ok := personaDefinitions[p]
	return ok
}

// Definition returns the reader description used in critique prompts.
func (p Persona) Definition() string {
	if def, ok := personaDefinitions[p]; ok {
		return def
	}
	return personaDefinitions[DefaultPersona]
}

// ParsePersona resolves a persona name case-insensitively.
// An empty string yields DefaultPersona.
func ParsePersona(s string) (Persona, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPersona, nil
	}
	for _, p := range AllPersonas() {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown persona %q", s)
}
