// Package prompts renders the phase prompts of the reading practice
// pipeline. Every builder is a pure function: nil or partially filled inputs
// fall back to stated defaults and never cause an error.
package prompts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/TobiSchelling/zhongwen/internal/database"
)

// Phase names, in pipeline order.
const (
	PhaseAnalysis  = "analysis"
	PhaseStory     = "story"
	PhaseQuestions = "questions"
	PhaseFormat    = "format"
)

const (
	defaultName       = "Student"
	defaultLevel      = "beginner"
	notSpecified      = "not specified"
	noFocus           = "None specified"
	defaultUnitTitle  = "Chinese Practice"
	noVocabulary      = "No vocabulary available for this unit."
	noDialogues       = "No dialogues available for this unit."
	noModuleResponses = "None provided"
	noAnalysis        = "No separate analysis was prepared."
)

// learner is a profile with every field defaulted.
type learner struct {
	name, level, goals                    string
	occupation, location, hobbies, reason string
	currentResponses, otherResponses      string
}

// unitInfo is a unit with every field defaulted and its lists pre-rendered.
type unitInfo struct {
	id, title, description string
	moduleID, moduleTitle  string
	vocabulary, dialogues  string
}

func or(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func describeUnit(u *database.UnitContent) unitInfo {
	info := unitInfo{
		title:      defaultUnitTitle,
		vocabulary: noVocabulary,
		dialogues:  noDialogues,
	}
	if u == nil {
		return info
	}

	info.id = strconv.FormatInt(u.Unit.ID, 10)
	info.title = or(u.Unit.Title, defaultUnitTitle)
	if u.Unit.Description != nil {
		info.description = strings.TrimSpace(*u.Unit.Description)
	}
	info.moduleID = strconv.FormatInt(u.Unit.ModuleID, 10)
	info.moduleTitle = u.Module.Title

	if len(u.Vocabulary) > 0 {
		lines := make([]string, 0, len(u.Vocabulary))
		for _, v := range u.Vocabulary {
			lines = append(lines, formatEntry(v.Simplified, v.Pinyin, v.English))
		}
		info.vocabulary = strings.Join(lines, "\n")
	}
	if len(u.Dialogues) > 0 {
		lines := make([]string, 0, len(u.Dialogues))
		for _, d := range u.Dialogues {
			lines = append(lines, formatEntry(d.Simplified, d.Pinyin, d.English))
		}
		info.dialogues = strings.Join(lines, "\n")
	}
	return info
}

func formatEntry(simplified, pinyin, english string) string {
	// Multi-line dialogue turns are flattened so each entry stays one bullet.
	simplified = strings.ReplaceAll(simplified, "\n", " ")
	english = strings.ReplaceAll(english, "\n", " ")
	if pinyin != "" {
		return fmt.Sprintf("- %s (%s): %s", simplified, strings.ReplaceAll(pinyin, "\n", " "), english)
	}
	return fmt.Sprintf("- %s: %s", simplified, english)
}

func describeLearner(p *database.LearnerProfile, moduleID string) learner {
	l := learner{
		name:       defaultName,
		level:      defaultLevel,
		goals:      notSpecified,
		occupation: notSpecified,
		location:   notSpecified,
		hobbies:    notSpecified,
		reason:     notSpecified,
	}
	if p == nil {
		l.currentResponses = noModuleResponses
		return l
	}

	l.name = or(p.FullName, defaultName)
	l.level = strings.ToLower(or(p.LearningLevel, defaultLevel))
	l.goals = or(p.LearningGoals, notSpecified)
	l.occupation = or(p.PersonalContext.Occupation, notSpecified)
	l.location = or(p.PersonalContext.Location, notSpecified)
	l.hobbies = or(p.PersonalContext.Hobbies, notSpecified)
	l.reason = or(p.PersonalContext.ReasonLearning, notSpecified)
	l.currentResponses, l.otherResponses = moduleResponses(p.ModuleResponses, moduleID)
	return l
}

// moduleResponses splits the learner's answers into the current module's
// and everyone else's. Module and question ids are sorted so the same
// profile always renders the same prompt.
func moduleResponses(all map[string]map[string]string, moduleID string) (current, other string) {
	current = noModuleResponses
	if len(all) == 0 {
		return current, ""
	}

	if answers := formatAnswers(all[moduleID]); answers != "" {
		current = answers
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		if id != moduleID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		answers := formatAnswers(all[id])
		if answers == "" {
			continue
		}
		fmt.Fprintf(&b, "## Module %s Responses\n%s\n", id, answers)
	}
	return current, strings.TrimRight(b.String(), "\n")
}

func formatAnswers(answers map[string]string) string {
	if len(answers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(answers[k]) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %q", k, answers[k]))
	}
	return strings.Join(lines, "\n")
}

// learnerSection renders the profile block shared by the first three phases.
func learnerSection(l learner) string {
	s := fmt.Sprintf(`## LEARNER PROFILE
Name: %s
Level: %s
Learning Goals: %s
Occupation: %s
Location: %s
Hobbies: %s
Reason for Learning: %s

## CURRENT MODULE RESPONSES (PRIORITIZE THESE)
%s`, l.name, l.level, l.goals, l.occupation, l.location, l.hobbies, l.reason, l.currentResponses)
	if l.otherResponses != "" {
		s += "\n\n## OTHER MODULE RESPONSES (SECONDARY CONTEXT)\n" + l.otherResponses
	}
	return s
}

func unitSection(u unitInfo) string {
	return fmt.Sprintf(`## UNIT INFORMATION
Unit Title: %s
Description: %s
Module: %s`, u.title, or(u.description, notSpecified), or(u.moduleTitle, notSpecified))
}

func focusText(focus string) string {
	return or(focus, noFocus)
}

// StoryLength returns the requested story length and sentence complexity
// for a learning level.
func StoryLength(level string) (length, complexity string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "beginner":
		return "2-3 short paragraphs (6-10 sentences total)",
			"Use simple sentence structures with basic grammar patterns"
	case "intermediate":
		return "3-4 paragraphs (10-15 sentences total)",
			"Use a mix of simple and compound sentences"
	case "advanced":
		return "4-5 paragraphs (15-20 sentences total)",
			"Use more varied sentence structures while maintaining conversational tone"
	default:
		return "2-3 paragraphs (8-12 sentences total)",
			"Use straightforward conversational structures"
	}
}

// QuestionComplexity returns the question difficulty guideline for a level.
func QuestionComplexity(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "beginner":
		return "Use basic sentence structures and vocabulary. Questions should be direct and straightforward. Focus on essential vocabulary recognition and basic understanding."
	case "intermediate":
		return "Use a mix of simple and complex sentences. Include some inference questions and more nuanced vocabulary usage. Test application of grammar patterns."
	case "advanced":
		return "Use more sophisticated language and complex grammar patterns. Include challenging inferential questions and test deeper understanding of language nuances."
	default:
		return "Adapt questions to an average difficulty level with clear, straightforward language."
	}
}

// SystemPrompt returns the system message for a phase.
func SystemPrompt(phase string) string {
	switch phase {
	case PhaseAnalysis:
		return "You are a Chinese language education expert specializing in analyzing and planning personalized learning materials."
	case PhaseStory:
		return "You are a Chinese language education expert specializing in writing personalized, comprehensible first-person stories for learners."
	case PhaseQuestions:
		return "You are a Chinese language education expert specializing in creating reading comprehension assessments."
	case PhaseFormat:
		return "You are a Chinese language expert who converts learning materials into strictly valid JSON with simplified, traditional, pinyin and English text. You output JSON only."
	default:
		return "You are a Chinese language education expert."
	}
}
