package prompts

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/zhongwen/internal/database"
)

// Fixed question mix of every exercise.
const (
	MultipleChoiceCount = 3
	ShortAnswerCount    = 2
	ReflectionCount     = 1
)

const questionsPrompt = `Create a set of assessment questions for the following Chinese reading passage. The questions should test different levels of comprehension and language skills.

# READING PASSAGE
%s

# STORY ANALYSIS
%s

# REFERENCE MATERIALS
## Unit Vocabulary
%s

## Dialogue Patterns and Grammar Structures
%s

%s

# SPECIFIC FOCUS
%s

# QUESTION COMPLEXITY GUIDELINE
%s

# ASSESSMENT DESIGN
## Multiple Choice Questions (%d questions)
- Each question must have exactly 4 options (A, B, C, D) with exactly one correct answer
- Mix the question types:
  * Literal comprehension (basic facts from the passage)
  * Grammar application (how a grammar structure from the unit is used)
  * Inferential (drawing conclusions or making connections)
- At least one question should connect to the learner's personal context or interests
- For each question give the question in Chinese and English, the 4 options in Chinese and English, the correct letter, and a brief explanation

## Short Answer Questions (%d questions)
- Each requires a 1-2 sentence response applying unit vocabulary or grammar
- At least one should relate to the learner's personal context
- For each give the question in Chinese and English, an example answer in Chinese and English (one acceptable answer, not the only one), and a note on what a good answer contains

## Reflection Question (exactly %d question)
- Connect the content to the learner's life and stated interests or goals
- Invite the learner to use unit vocabulary AND specific grammar patterns
- Give the question in Chinese and English and a brief guidance note on what it practices

# OUTPUT FORMAT
# MULTIPLE CHOICE QUESTIONS
1. [question in Chinese / English]
   A. [option]
   B. [option]
   C. [option]
   D. [option]
   Answer: [letter]
   Explanation: [why]

# SHORT ANSWER QUESTIONS
1. [question in Chinese / English]
   Example answer: [Chinese / English]
   Assessment guide: [what to look for]

# REFLECTION QUESTION
[question in Chinese / English]
Guidance: [what this practices]`

// QuestionsPrompt asks for the fixed question mix about the story.
func QuestionsPrompt(story, analysis string, unit *database.UnitContent, profile *database.LearnerProfile, focus string) string {
	u := describeUnit(unit)
	l := describeLearner(profile, u.moduleID)

	a := strings.TrimSpace(analysis)
	if a == "" {
		a = noAnalysis
	}

	return fmt.Sprintf(questionsPrompt,
		strings.TrimSpace(story),
		a,
		u.vocabulary, u.dialogues,
		learnerSection(l),
		focusText(focus),
		QuestionComplexity(l.level),
		MultipleChoiceCount, ShortAnswerCount, ReflectionCount,
	)
}
