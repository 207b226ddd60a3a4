package tui

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"synthia/internal/domain"
)

// FragmentPort is the TUI-facing subset of the fragment service.
type FragmentPort interface {
	Query(ctx context.Context, prompt string, topK int) ([]domain.Match, error)
	Score(ctx context.Context, paper string, fragmentIDs []string) (domain.Contribution, error)
}

type mode int

const (
	modeQuery mode = iota
	modeScore
)

func (m mode) String() string {
	if m == modeScore {
		return "score"
	}
	return "query"
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service   FragmentPort
	input     textinput.Model
	viewport  viewport.Model
	mode      mode
	topK      int
	timeout   time.Duration
	results   []domain.Match
	fragments []string
	texts     map[string]string
	summary   string
	status    string
	cursor    int
	ready     bool
	lastInput string
}

// New creates a TUI model. fragmentIDs seeds the list scored in score mode;
// when empty, the ids of the latest query results are scored instead.
func New(service FragmentPort, summary string, fragmentIDs []string, topK int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a prompt and press Enter (tab: score mode)"
	ti.Focus()
	ti.CharLimit = 0
	if topK <= 0 {
		topK = 10
	}
	return Model{
		service:   service,
		input:     ti,
		viewport:  viewport.New(0, 0),
		topK:      topK,
		timeout:   time.Minute,
		fragments: fragmentIDs,
		texts:     map[string]string{},
		summary:   summary,
		status:    "Ready. Type to search.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 3 + qh + 1 // header, summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "tab":
			if m.mode == modeQuery {
				m.mode = modeScore
				m.input.Placeholder = "Paste a paper and press Enter (tab: query mode)"
			} else {
				m.mode = modeQuery
				m.input.Placeholder = "Type a prompt and press Enter (tab: score mode)"
			}
			m.status = "Mode: " + m.mode.String()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if m.mode == modeQuery {
				m.runQuery(text)
			} else {
				m.runScore(text)
			}
			m.viewport.SetContent(m.renderCurrentResult())
			return m, nil
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) runQuery(prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	res, err := m.service.Query(ctx, prompt, m.topK)
	if err != nil {
		m.status = "Error: " + err.Error()
		m.results = nil
		return
	}
	for _, r := range res {
		m.texts[r.ID] = r.Text
	}
	m.status = fmt.Sprintf("%d results for %q", len(res), prompt)
	m.results = res
	m.cursor = 0
	m.lastInput = prompt
}

func (m *Model) runScore(paper string) {
	ids := m.fragments
	if len(ids) == 0 {
		for _, r := range m.results {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		m.status = "No fragments to score. Run a query first."
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	scores, err := m.service.Score(ctx, paper, ids)
	if err != nil {
		m.status = "Error: " + err.Error()
		m.results = nil
		return
	}
	res := make([]domain.Match, 0, len(scores))
	for id, s := range scores {
		res = append(res, domain.Match{ID: id, Score: s, Text: m.texts[id]})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Score != res[j].Score {
			return res[i].Score > res[j].Score
		}
		return res[i].ID < res[j].ID
	})
	m.status = fmt.Sprintf("Contribution of %d fragments", len(res))
	m.results = res
	m.cursor = 0
	m.lastInput = paper
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Synthia fragments [" + m.mode.String() + "]")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Fragment %d/%d  id=%s  score=%.3f", m.cursor+1, len(m.results), r.ID, r.Score)
	if r.Source != "" {
		title += "  source=" + r.Source
	}
	body := r.Text
	if body == "" {
		body = "(text not loaded; query for it to see it here)"
	} else {
		body = highlightBestSentence(body, m.lastInput)
	}
	return title + "\n\n" + body
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	wordRe         = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

// highlightBestSentence emphasises the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		return text
	}
	q := tokenSet(query)
	best, bestScore := -1, 0
	for i, s := range sentences {
		if score := overlap(q, s); score > bestScore {
			best, bestScore = i, score
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == best {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func overlap(query map[string]struct{}, sentence string) int {
	n := 0
	for t := range tokenSet(sentence) {
		if _, ok := query[t]; ok {
			n++
		}
	}
	return n
}
