package agentpool

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentloop/agentloop/pkg/llm"
	"github.com/agentloop/agentloop/pkg/models"
)

// minRecentTurns is always kept regardless of context budget, so an
// agent never loses the immediate back-and-forth that gives it context
// for the new prompt.
const minRecentTurns = 6

// charsPerToken is a rough, provider-agnostic token estimate used only
// for trimming decisions; the LLM Gateway's own usage accounting is the
// source of truth for billed tokens.
const charsPerToken = 4

// mindPromptLoader resolves an agent's mind files into a single system
// prompt, caching the concatenated text per agent id. The cache lives as
// long as the loader; a config reload does not clear it.
type mindPromptLoader struct {
	baseDir string
	mu      sync.Mutex
	cache   map[string]string
}

func newMindPromptLoader(baseDir string) *mindPromptLoader {
	return &mindPromptLoader{baseDir: baseDir, cache: make(map[string]string)}
}

func (l *mindPromptLoader) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]string)
}

func (l *mindPromptLoader) load(agent *models.Agent) (string, error) {
	l.mu.Lock()
	if cached, ok := l.cache[agent.ID]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	var parts []string
	for _, rel := range agent.MindFiles {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.baseDir, rel)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	prompt := strings.Join(parts, "\n\n")

	l.mu.Lock()
	l.cache[agent.ID] = prompt
	l.mu.Unlock()
	return prompt, nil
}

// composeMessages builds the request message list: system prompt (if
// any) + persisted history + the new user turn, trimmed from the oldest
// non-system message when contextBudget (in tokens, estimated at
// charsPerToken characters each) is exceeded.
// The last minRecentTurns messages and the system prompt are never
// trimmed.
func composeMessages(systemPrompt string, history []models.Message, newUserMsg string, contextBudget int) []llm.ChatMessage {
	var out []llm.ChatMessage
	if systemPrompt != "" {
		out = append(out, llm.ChatMessage{Role: "system", Content: systemPrompt})
	}

	turns := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		turns = append(turns, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	turns = append(turns, llm.ChatMessage{Role: "user", Content: newUserMsg})

	if contextBudget <= 0 {
		return append(out, turns...)
	}

	budget := contextBudget * charsPerToken
	protectedFrom := len(turns) - minRecentTurns
	if protectedFrom < 0 {
		protectedFrom = 0
	}

	total := 0
	for _, t := range turns {
		total += len(t.Content)
	}

	start := 0
	for total > budget && start < protectedFrom {
		total -= len(turns[start].Content)
		start++
	}

	return append(out, turns[start:]...)
}
