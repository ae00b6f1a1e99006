package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/harrisonrobin/aide/pkg/assistant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pickDispatcher offers two candidates for any query containing "delete".
type pickDispatcher struct {
	queries []string
	choices []int
}

func (p *pickDispatcher) Handle(_ context.Context, _ *assistant.Session, q string) assistant.Reply {
	p.queries = append(p.queries, q)
	if !strings.Contains(q, "delete") {
		return assistant.Reply{Text: "echo " + q}
	}
	return assistant.Reply{
		Text: "Several items match.",
		Selection: &assistant.Selection{
			Token:      "tok",
			Candidates: []assistant.Candidate{{ID: "1", Label: "a"}, {ID: "2", Label: "b"}},
		},
	}
}

func (p *pickDispatcher) Resolve(_ context.Context, _ *assistant.Session, token string, choice int) (assistant.Reply, error) {
	p.choices = append(p.choices, choice)
	if choice < 1 || choice > 2 {
		return assistant.Reply{}, assistant.ErrChoiceOutOfRange
	}
	return assistant.Reply{Text: "picked " + token}, nil
}

func TestREPLRepromptsUntilValidChoice(t *testing.T) {
	d := &pickDispatcher{}
	in := strings.NewReader("hello\ndelete x\nabc\n7\n2\nquitter\nnever read\n")
	var out bytes.Buffer

	require.NoError(t, runREPL(context.Background(), d, in, &out))
	assert.Equal(t, []string{"hello", "delete x"}, d.queries)
	assert.Equal(t, []int{7, 2}, d.choices)

	text := out.String()
	assert.Contains(t, text, "Assistant: echo hello")
	assert.Contains(t, text, "Please enter a number.")
	assert.Contains(t, text, "Invalid choice, pick a number between 1 and 2.")
	assert.Contains(t, text, "Assistant: picked tok")
	assert.Contains(t, text, "Goodbye!")
}

func TestREPLStopsAtEOFDuringSelection(t *testing.T) {
	d := &pickDispatcher{}
	var out bytes.Buffer
	require.NoError(t, runREPL(context.Background(), d, strings.NewReader("delete x\n"), &out))
	assert.Empty(t, d.choices)
}

func TestAskOnce(t *testing.T) {
	d := &pickDispatcher{}
	var out bytes.Buffer
	require.NoError(t, askOnce(context.Background(), d, "delete y", strings.NewReader("1\n"), &out))
	assert.Equal(t, []int{1}, d.choices)
	assert.Contains(t, out.String(), "picked tok")
}
