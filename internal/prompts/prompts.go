// Package prompts holds the instructional text sent to the completion model.
package prompts

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// DefaultSystem is the instructional system message that seeds every transcript.
const DefaultSystem = `You are StudyMate, an AI tutor that teaches programming through the Questioning method.

**YOUR CORE PHILOSOPHY:**
- NEVER give direct answers. Guide students to discover understanding themselves
- Ask questions that build on their current knowledge
- Break complex concepts into digestible steps
- Adapt to the student's responses and confusion
- Celebrate small wins and correct misconceptions gently

**YOUR TEACHING PROCESS:**

1. **Assess Current Understanding**
   - When a student asks about a topic, first gauge what they already know
   - Ask: "What do you already understand about X?"

2. **Ask Questioning Questions**
   - Use generate_question to create thoughtful questions
   - Build on their previous responses
   - Connect new concepts to what they already know

3. **Respond to Student Answers**
   - Use assess_understanding after they respond
   - Based on assessment:
     * understanding_level = "poor" → Use provide_hint (level 1)
     * understanding_level = "partial" → Rephrase question or give subtle hint
     * understanding_level = "good" → Celebrate and go deeper
     * understanding_level = "excellent" → Advance to next concept

4. **Show Code Strategically**
   - Only after student has thought about the concept
   - Show 5-10 lines maximum at a time
   - Always follow with questions about the code

5. **Track Progress**
   - After student demonstrates understanding, use track_progress

**DIALOGUE EXAMPLES:**

BAD (Lecturing):
"This code implements multi-agent training using reinforcement learning. The reward function
calculates the score based on task completion."

GOOD (Questioning):
"I see you're interested in this training code. Before we look at it, what do you think
determines whether an AI agent has learned something correctly?"

**REMEMBER:**
Your goal is DEEP UNDERSTANDING, not quick completion. A student who learns slowly
but deeply is infinitely better than one who copies code quickly without understanding.`

const defaultGreeting = `Hello! I'm StudyMate. The student's name is {{.StudentName}} and they have {{.KnowledgeLevel}} level knowledge. They want to explore: {{.GithubURL}}

Generate a warm, personalized greeting and ask them what specific aspect interests them most. Keep it conversational and encouraging.`

const defaultInitialGreeting = `Hello {{.StudentName}}!

I'm StudyMate, your AI learning companion. I'm here to help you understand the repository
you shared deeply, not through lectures but through guided discovery.

Before we dive in, tell me: **What interests you most about this project?**
What specific aspect would you like to understand?`

const defaultQuestion = `Generate ONE Socratic question to teach this programming concept.

Concept: {{.Concept}}
Student level: {{.Level}}

The question should:
1. Guide discovery (don't give the answer)
2. Build on their knowledge level
3. Be specific and focused
4. Encourage critical thinking

Return ONLY the question, no explanation.`

const defaultAssessment = `Analyze this student's response about {{.Concept}}.

Student said: "{{.Response}}"

Respond in this EXACT JSON format:
{
    "understanding_level": "poor/partial/good/excellent",
    "correct_points": ["point1", "point2"],
    "misconceptions": ["misconception1"],
    "next_action": "hint/rephrase_question/advance/show_code",
    "reasoning": "brief explanation"
}`

const defaultHint = `Provide a hint about {{.Concept}}.

Hint level: {{.Level}}/3 ({{.Style}})

Return ONLY the hint, no extra text.`

// HintStyles maps a clamped struggle count to the explicitness wording.
var HintStyles = map[int]string{
	1: "very subtle - just nudge their thinking",
	2: "moderate - point toward the right direction",
	3: "explicit - nearly give the answer but make them take final step",
}

// Templates is the set of prompt texts. Every field except System is a
// text/template body.
type Templates struct {
	System          string `yaml:"system"`
	Greeting        string `yaml:"greeting"`
	InitialGreeting string `yaml:"initial_greeting"`
	Question        string `yaml:"question"`
	Assessment      string `yaml:"assessment"`
	Hint            string `yaml:"hint"`
}

// Set is a parsed, ready-to-render prompt collection.
type Set struct {
	system          string
	greeting        *template.Template
	initialGreeting *template.Template
	question        *template.Template
	assessment      *template.Template
	hint            *template.Template
}

// GreetingData fills the greeting templates.
type GreetingData struct {
	StudentName    string
	KnowledgeLevel string
	GithubURL      string
}

// Defaults returns the built-in templates.
func Defaults() Templates {
	return Templates{
		System:          DefaultSystem,
		Greeting:        defaultGreeting,
		InitialGreeting: defaultInitialGreeting,
		Question:        defaultQuestion,
		Assessment:      defaultAssessment,
		Hint:            defaultHint,
	}
}

// Default returns the built-in prompt set.
func Default() *Set {
	s, err := New(Defaults())
	if err != nil {
		panic(fmt.Sprintf("built-in prompts do not parse: %v", err))
	}
	return s
}

// New parses t. Empty fields fall back to the built-in text.
func New(t Templates) (*Set, error) {
	d := Defaults()
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}

	s := &Set{system: pick(t.System, d.System)}
	parsers := []struct {
		name string
		text string
		dst  **template.Template
	}{
		{"greeting", pick(t.Greeting, d.Greeting), &s.greeting},
		{"initial_greeting", pick(t.InitialGreeting, d.InitialGreeting), &s.initialGreeting},
		{"question", pick(t.Question, d.Question), &s.question},
		{"assessment", pick(t.Assessment, d.Assessment), &s.assessment},
		{"hint", pick(t.Hint, d.Hint), &s.hint},
	}
	for _, p := range parsers {
		tmpl, err := template.New(p.name).Option("missingkey=error").Parse(p.text)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", p.name, err)
		}
		*p.dst = tmpl
	}
	return s, nil
}

// LoadFile reads a YAML override file. An empty path yields the defaults.
func LoadFile(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode prompts file %s: %w", path, err)
	}
	return New(t)
}

// System returns the system message text.
func (s *Set) System() string {
	return s.system
}

// Greeting renders the prompt asking the model for a personalized greeting.
func (s *Set) Greeting(d GreetingData) (string, error) {
	return render(s.greeting, d)
}

// InitialGreeting renders the static greeting used when no model is reachable.
func (s *Set) InitialGreeting(d GreetingData) (string, error) {
	return render(s.initialGreeting, d)
}

// Question renders the question-generator prompt.
func (s *Set) Question(concept, level string) (string, error) {
	return render(s.question, map[string]string{"Concept": concept, "Level": level})
}

// Assessment renders the response-assessor prompt.
func (s *Set) Assessment(response, concept string) (string, error) {
	return render(s.assessment, map[string]string{"Response": response, "Concept": concept})
}

// Hint renders the hint prompt for a level already clamped to 1..3.
func (s *Set) Hint(concept string, level int) (string, error) {
	return render(s.hint, map[string]any{"Concept": concept, "Level": level, "Style": HintStyles[level]})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
