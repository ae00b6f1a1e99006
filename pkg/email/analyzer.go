package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/harrisonrobin/aide/pkg/llm"
	"go.uber.org/zap"
)

// summaryUnavailable replaces a body whose combined summary could not be produced.
const summaryUnavailable = "Summary unavailable."

// Analysis is the model's reading of one email.
type Analysis struct {
	Sender     string
	Subject    string
	Body       string
	Resume     string
	Importance int // 1..5, 0 when the model gave none
	Action     string
}

// Budget bounds the analysis prompt. Prompts longer than ContextTokens -
// SafetyMargin tokens have their body summarized in ChunkTokens pieces.
type Budget struct {
	ContextTokens int
	SafetyMargin  int
	ChunkTokens   int
}

// Analyzer asks the model for a JSON analysis of a message.
type Analyzer struct {
	gen    llm.Generator
	tok    llm.Tokenizer
	budget Budget
	logger *zap.Logger
}

func NewAnalyzer(gen llm.Generator, tok llm.Tokenizer, budget Budget, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		tok = llm.RuneTokenizer{}
	}
	return &Analyzer{gen: gen, tok: tok, budget: budget, logger: logger}
}

func analysisPrompt(msg Message, body string) string {
	return fmt.Sprintf(`You are an expert AI assistant that analyses emails. Read an email (sender, subject and body) and return an analysis as JSON. The sender is a crucial hint for judging importance.

### PERFECT EXAMPLE ###
Sender: notifications@github.com
Subject: [CodeReader] New issue: "Bug in UI"
Body: A new issue has been created in your repository...

Expected answer:
`+"```json"+`
{
  "resume": "A new ticket (UI bug) was opened on the CodeReader GitHub repository.",
  "importance": 4,
  "action_requise": "Review"
}
`+"```"+`

### EMAIL TO ANALYSE ###
Sender: %s
Subject: %s
Body: %s

Expected answer:
`, msg.Sender, msg.Subject, body)
}

// Analyze returns the analysis of msg, or false when the model gave no
// usable JSON.
func (a *Analyzer) Analyze(ctx context.Context, msg Message) (Analysis, bool) {
	body := msg.Body
	prompt := analysisPrompt(msg, body)
	if limit := a.budget.ContextTokens - a.budget.SafetyMargin; llm.CountTokens(a.tok, prompt) > limit {
		body = a.SummarizeLong(ctx, body)
		prompt = analysisPrompt(msg, body)
	}

	raw := llm.Complete(ctx, a.gen, prompt, a.logger)
	var out struct {
		Resume     string          `json:"resume"`
		Importance json.RawMessage `json:"importance"`
		Action     string          `json:"action_requise"`
	}
	if !llm.DecodeJSON(raw, &out) {
		a.logger.Warn("no valid JSON analysis", zap.String("subject", msg.Subject))
		return Analysis{}, false
	}
	return Analysis{
		Sender:     msg.Sender,
		Subject:    msg.Subject,
		Body:       body,
		Resume:     out.Resume,
		Importance: parseImportance(out.Importance),
		Action:     out.Action,
	}, true
}

// SummarizeLong shrinks body with one summary call per token chunk followed
// by a single combine call. Chunks are processed in order; a chunk whose
// summary fails is left out of the combine step.
func (a *Analyzer) SummarizeLong(ctx context.Context, body string) string {
	chunks := llm.Chunk(a.tok, body, a.budget.ChunkTokens)
	a.logger.Info("email body too long, summarizing in chunks", zap.Int("chunks", len(chunks)))

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		a.logger.Debug("summarizing chunk", zap.Int("chunk", i+1), zap.Int("of", len(chunks)))
		prompt := "Summarize the following piece of text concisely:\n\n" + chunk
		if s := llm.Complete(ctx, a.gen, prompt, a.logger); s != "" {
			summaries = append(summaries, s)
		}
	}

	prompt := "Combine the following partial summaries into a single, coherent overall summary:\n\n" +
		strings.Join(summaries, "\n\n")
	if s := llm.Complete(ctx, a.gen, prompt, a.logger); s != "" {
		return s
	}
	return summaryUnavailable
}

func parseImportance(m json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(m)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 5 {
		return 0
	}
	return n
}
