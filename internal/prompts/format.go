package prompts

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/zhongwen/internal/database"
)

const formatPrompt = `You are converting a finished Chinese reading practice exercise into one strict JSON document.

# UNIT
Unit: %s
Module: %s

# STORY
%s

# QUESTIONS
%s

# TASK
Produce a single JSON object with exactly this structure:

{
  "exercise_type": "reading_comprehension",
  "meta": {
    "title": "Chinese title (simplified)",
    "title_traditional": "",
    "title_pinyin": "",
    "title_english": "",
    "introduction": "One or two English sentences introducing the exercise",
    "unit": %q,
    "module": %q
  },
  "story": {
    "text": "full story in simplified Chinese",
    "text_traditional": "",
    "text_pinyin": "",
    "text_english": ""
  },
  "questions": {
    "multiple_choice": [
      {
        "id": 1,
        "question": "", "question_traditional": "", "question_pinyin": "", "question_english": "",
        "options": [
          {"id": "A", "text": "", "text_traditional": "", "pinyin": "", "english": ""},
          {"id": "B", "text": "", "text_traditional": "", "pinyin": "", "english": ""},
          {"id": "C", "text": "", "text_traditional": "", "pinyin": "", "english": ""},
          {"id": "D", "text": "", "text_traditional": "", "pinyin": "", "english": ""}
        ],
        "answer": "A",
        "explanation": "English explanation"
      }
    ],
    "short_answer": [
      {
        "id": 1,
        "question": "", "question_traditional": "", "question_pinyin": "", "question_english": "",
        "sample_answer": "", "sample_answer_traditional": "", "sample_answer_pinyin": "", "sample_answer_english": "",
        "assessment_guide": "English note on what a good answer contains"
      }
    ],
    "reflection": {
      "question": "", "question_traditional": "", "question_pinyin": "", "question_english": "",
      "guidance": "English guidance note"
    }
  },
  "vocabulary": [
    {"word": "", "word_traditional": "", "pinyin": "", "english": ""}
  ]
}

# REQUIREMENTS
1. Every Chinese-bearing field carries all four representations: simplified, traditional, pinyin with tone marks, and English. Convert or translate wherever the source lacks one.
2. Include every multiple choice question (%d), every short answer question (%d) and the single reflection question.
3. Every multiple choice question has exactly 4 options with ids "A", "B", "C", "D" in that order, and "answer" is one of those ids.
4. List 8-12 key vocabulary items that appear in the story.
5. Return ONLY the JSON object. No explanations, no Markdown, no code fences.`

// FormatPrompt asks for the final exercise as strict JSON. Compliance is not
// assumed; the output still goes through the extractor.
func FormatPrompt(story, questions string, unit *database.UnitContent) string {
	u := describeUnit(unit)
	return fmt.Sprintf(formatPrompt,
		u.title, u.moduleTitle,
		strings.TrimSpace(story),
		strings.TrimSpace(questions),
		u.title, u.moduleTitle,
		MultipleChoiceCount, ShortAnswerCount,
	)
}
