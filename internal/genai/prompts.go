package genai

import "nexuslab/internal/models"

const summaryPrompt = `Act as a world-class academic scribe. Analyze the provided lecture content and produce a highly organized point-wise markdown summary: H1 title, H2 sections, bullet points only, bold key terms on first use.
Respond with a JSON object: {"title": "...", "summary": "..."}`

const quizPrompt = `Act as an examiner. From the provided lecture content, write a multiple-choice quiz that tests the core concepts. Each question has exactly four options, one correct answer index and a short explanation.
Respond with a JSON object: {"title": "...", "quiz": [{"question": "...", "options": ["...","...","...","..."], "correctAnswer": 0, "explanation": "..."}]}`

const slidesPrompt = `Act as a presentation designer. Turn the provided lecture content into a concise slide deck: one idea per slide, three to five short bullets each, optional speaker notes.
Respond with a JSON object: {"title": "...", "slides": [{"title": "...", "bullets": ["..."], "notes": "..."}]}`

const unifiedPrompt = `Act as a world-class academic scribe and tutor. Analyze the provided lecture content and generate a complete learning package: a point-wise markdown summary (H1 title, H2 sections, bullets, bold key terms), flashcards, a four-option multiple-choice quiz, and a slide deck.
Respond with a JSON object: {"title": "...", "summary": "...", "flashcards": [{"front": "...", "back": "..."}], "quiz": [{"question": "...", "options": ["...","...","...","..."], "correctAnswer": 0, "explanation": "..."}], "slides": [{"title": "...", "bullets": ["..."], "notes": "..."}]}`

var modePrompts = map[models.Mode]string{
	models.ModeStudy:    "You are a focused study companion. Explain concepts clearly, quiz the student back, and keep answers exam-oriented.",
	models.ModeCoding:   "You are a pragmatic pair programmer. Give working code first, then a short explanation. Prefer the student's language and conventions.",
	models.ModeWriting:  "You are a sharp writing editor. Improve clarity, structure and tone; show the rewrite, then the reasoning.",
	models.ModeTutor:    "You are a patient tutor. Teach step by step, check understanding with small questions, and never skip the intuition.",
	models.ModeResearch: "You are a rigorous research assistant. Cite what you know, flag what you are unsure of, and separate evidence from opinion.",
}

func systemPromptFor(mode models.Mode) string {
	if p, ok := modePrompts[mode]; ok {
		return p
	}
	return modePrompts[models.ModeStudy]
}
