package prompts

import (
	"fmt"

	"github.com/TobiSchelling/zhongwen/internal/database"
)

const analysisPrompt = `## ANALYSIS OBJECTIVE
Analyze the unit content and learner profile to plan a first-person narrative Chinese language practice story that:
- Uses vocabulary and grammar patterns from the current unit
- Authentically connects to the learner's personal context and interests
- Presents language in relevant situations
- Is comprehensible: simple language, with harder vocabulary only for words related to the learner's interests

%s
Unit ID: %s

%s

## UNIT CONTENT
### Key Vocabulary (include at least 5)
%s

### Dialogue Patterns (analyze the key grammatical patterns to practice)
%s

## SPECIFIC FOCUS
%s

## ANALYSIS TASKS
Address each of the following:

1. **Grammar Pattern Identification**
   - Identify 3-4 key grammatical structures from the dialogues
   - Explain how these patterns could be applied in contexts relevant to the learner

2. **Vocabulary Selection**
   - Select 5-8 vocabulary items most relevant to the learner's context
   - The course material is decades old. Suggest how to modernize situations while keeping the language easy

3. **Learner Context Integration**
   - How can the unit's grammar and vocabulary connect to this learner?
   - What tone and style would resonate with this learner?
   - Given the learner's level (%s), suggest concrete ways to improve comprehensibility (repetition, simplified structures)

4. **Interest Integration Opportunities**
   - A natural way to use the learner's interests as background elements
   - Possible connections between the unit topic and the learner's life

Format your analysis in clear sections with the headings above. Be specific and concrete, but do NOT write the story itself.`

// AnalysisPrompt asks the provider to analyze the unit and learner and plan
// the story. It expects free-text analysis back.
func AnalysisPrompt(unit *database.UnitContent, profile *database.LearnerProfile, focus string) string {
	u := describeUnit(unit)
	l := describeLearner(profile, u.moduleID)
	return fmt.Sprintf(analysisPrompt,
		unitSection(u), or(u.id, notSpecified),
		learnerSection(l),
		u.vocabulary, u.dialogues,
		focusText(focus),
		l.level,
	)
}
