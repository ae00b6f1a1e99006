package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/aide/pkg/llm"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Classifier wraps the single model call that classifies a query.
type Classifier struct {
	gen    llm.Generator
	logger *zap.Logger
}

func NewClassifier(gen llm.Generator, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{gen: gen, logger: logger}
}

// Classify asks the model for the intent of query. Relative dates resolve
// against ref. It never fails: any model, extraction or schema error yields
// Unrecognized. No retry is attempted.
func (c *Classifier) Classify(ctx context.Context, query string, ref time.Time) Result {
	raw := llm.Complete(ctx, c.gen, BuildPrompt(query, ref), c.logger)
	if raw == "" {
		c.logger.Debug("classifier got an empty answer")
		return Unrecognized()
	}
	span, ok := llm.ExtractJSON(raw)
	if !ok {
		c.logger.Debug("no JSON object in classifier answer", zap.String("raw", raw))
		return Unrecognized()
	}
	res := decode(span)
	c.logger.Debug("query classified",
		zap.String("intent", string(res.Kind())), zap.String("json", span))
	return res
}

// BuildPrompt renders the classification prompt. Examples use dates derived
// from ref so the model sees the expected resolution of "tomorrow" and of a
// bare day-month.
func BuildPrompt(query string, ref time.Time) string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = fmt.Sprintf("%q", string(k))
	}
	christmas := fmt.Sprintf("%d-12-25", ref.Year())
	tomorrow := ref.AddDate(0, 0, 1).Format(dateLayout)

	var b strings.Builder
	b.WriteString(`You are a language-processing expert. Break the user's request down into one intent and precise entities.
Answer ONLY with a JSON object.

### Possible intents
`)
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(`.

### Entities to extract
- "summary": the title or description.
- "date": the date of an event or the due date of a task (format YYYY-MM-DD).
- "priority": the priority of a task (1 for 'urgent', 2 for 'medium', 3 for 'normal'). Default 3.
- "status": the status of a task ('à faire', 'en cours', 'terminé').

### EXAMPLES ###
Request: "analyse my emails" -> {"intent": "get_emails"}
Request: "show me my agenda" -> {"intent": "get_agenda"}
`)
	fmt.Fprintf(&b, "Request: \"add 'Doctor appointment' on December 25\" -> {\"intent\": \"add_event\", \"summary\": \"Doctor appointment\", \"date\": %q}\n", christmas)
	b.WriteString(`Request: "delete the event 'project meeting'" -> {"intent": "delete_event", "summary": "project meeting"}
`)
	fmt.Fprintf(&b, "Request: \"add the urgent task 'Finish the report' for tomorrow\" -> {\"intent\": \"add_task\", \"summary\": \"Finish the report\", \"priority\": 1, \"date\": %q}\n", tomorrow)
	b.WriteString(`Request: "show me the finished tasks" -> {"intent": "get_tasks", "status": "terminé"}
Request: "move the task 'answer the email' to in progress" -> {"intent": "update_task_status", "summary": "answer the email", "status": "en cours"}
Request: "delete the task 'buy milk'" -> {"intent": "delete_task", "summary": "buy milk"}
Request: "give me a recommendation" -> {"intent": "get_general_recommendation"}
Request: "what is urgent for me today" -> {"intent": "get_urgent_recommendation"}

### REQUEST TO ANALYSE ###
`)
	fmt.Fprintf(&b, "Current date: %s\n", ref.Format(dateLayout))
	fmt.Fprintf(&b, "Request: %q\n", query)
	b.WriteString("JSON answer:\n")
	return b.String()
}
