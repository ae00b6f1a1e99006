package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/harrisonrobin/aide/pkg/assistant"
)

// Dispatcher is what the console front-end drives.
type Dispatcher interface {
	Handle(ctx context.Context, s *assistant.Session, query string) assistant.Reply
	Resolve(ctx context.Context, s *assistant.Session, token string, choice int) (assistant.Reply, error)
}

var errQuit = errors.New("quit")

func runREPL(ctx context.Context, d Dispatcher, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out, "Assistant ready. Type 'quit' to stop.")
	fmt.Fprintln(out, strings.Repeat("=", 50))

	sc := bufio.NewScanner(in)
	sess := assistant.NewSession(uuid.NewString())
	for {
		fmt.Fprint(out, "\n> ")
		if !sc.Scan() {
			return sc.Err()
		}
		query := strings.TrimSpace(sc.Text())
		if query == "" {
			continue
		}
		switch strings.ToLower(query) {
		case "quit", "quitter", "exit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		if err := converse(ctx, d, sess, query, sc, out); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// askOnce answers one query, prompting for a choice if one is needed.
func askOnce(ctx context.Context, d Dispatcher, query string, in io.Reader, out io.Writer) error {
	err := converse(ctx, d, assistant.NewSession(uuid.NewString()), query, bufio.NewScanner(in), out)
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// converse prints the reply to query and, when it carries a selection, keeps
// asking for a number until a valid one is given or input ends.
func converse(ctx context.Context, d Dispatcher, sess *assistant.Session, query string, sc *bufio.Scanner, out io.Writer) error {
	reply := d.Handle(ctx, sess, query)
	fmt.Fprintf(out, "\nAssistant: %s\n", reply.Text)
	if reply.Selection == nil {
		return nil
	}

	n := len(reply.Selection.Candidates)
	for {
		fmt.Fprintf(out, "Enter a number (1-%d): ", n)
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return err
			}
			return errQuit
		}
		choice, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			fmt.Fprintln(out, "Please enter a number.")
			continue
		}
		resolved, err := d.Resolve(ctx, sess, reply.Selection.Token, choice)
		if errors.Is(err, assistant.ErrChoiceOutOfRange) {
			fmt.Fprintf(out, "Invalid choice, pick a number between 1 and %d.\n", n)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nAssistant: %s\n", resolved.Text)
		return nil
	}
}
