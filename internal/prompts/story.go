package prompts

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/zhongwen/internal/database"
)

const storyPrompt = `## OBJECTIVE
Write a first-person narrative Chinese language practice story that:
1. Uses vocabulary and grammar patterns from the current unit
2. Authentically connects to the learner's personal context and interests
3. Presents language in natural, practical situations
4. Feels personally relevant and engaging to the learner
5. Is comprehensible: use the simplest language you can, and harder vocabulary only for words related to the learner's interests

%s

%s

## CONTENT REQUIREMENTS
### Vocabulary to Include
%s

### Key Grammatical Patterns to Practice
%s

## PLANNING NOTES
%s

## STORY PARAMETERS
Length: %s
Complexity: %s
Format: First-person narrative (single speaker, the learner %s)
Specific Focus: %s

## STORY GUIDELINES
1. Begin in the learner's own life: their location (%s) and occupation (%s).
2. Use the unit's language patterns in modern, contextually appropriate ways.
3. Weave the learner's hobbies (%s) and reason for learning (%s) in as background elements. Do not force them into the plot.
4. Match sentence structure to the learner's level.

## OUTPUT FORMAT
# STORY (SIMPLIFIED CHINESE)
[the story]

# ENGLISH TRANSLATION
[a faithful English translation of the story]`

// StoryPrompt asks for the personalized story. The requested length depends
// on the learner's level; an empty analysis is allowed when the pipeline
// runs without an analysis phase.
func StoryPrompt(analysis string, unit *database.UnitContent, profile *database.LearnerProfile, focus string) string {
	u := describeUnit(unit)
	l := describeLearner(profile, u.moduleID)
	length, complexity := StoryLength(l.level)

	notes := strings.TrimSpace(analysis)
	if notes == "" {
		notes = noAnalysis + " Plan the story yourself from the unit content and learner profile."
	}

	return fmt.Sprintf(storyPrompt,
		unitSection(u),
		learnerSection(l),
		u.vocabulary, u.dialogues,
		notes,
		length, complexity, l.name, focusText(focus),
		l.location, l.occupation, l.hobbies, l.reason,
	)
}
