package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/agent"
)

func newChatCommand(opts *globalOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive local session",
		Long: strings.TrimSpace(`Run an interactive session with the runtime.

Lines starting with "/" are commands (/set key value, /get_profile, /noop).
:history shows short-term memory, :facts the stored personal facts and
:clear drops short-term memory. exit or Ctrl+D quits.`),
		Example: strings.Join([]string{
			"  mira chat",
			"  mira chat --user eva",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			s := &chatSession{rt: rt, userID: user, out: cmd.OutOrStdout()}
			fmt.Fprintf(s.out, "%s interactive mode as %s (Ctrl+C to exit)\n\n", appName, user)

			in := cmd.InOrStdin()
			if f, ok := in.(*os.File); ok && f == os.Stdin && readline.DefaultIsTerminal() {
				err := s.readlineLoop(cmd.Context())
				if err == nil {
					return nil
				}
				fmt.Fprintf(s.out, "Error initializing readline: %v\nFalling back to simple input mode...\n", err)
			}
			return s.simpleLoop(cmd.Context(), in)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser, "User id")
	return cmd
}

type chatSession struct {
	rt     *agent.Runtime
	userID string
	out    io.Writer
}

// readlineLoop returns an error only when readline cannot start.
func (s *chatSession) readlineLoop(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".mira_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nNashledanou!")
				return nil
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}
		if s.handle(ctx, line) {
			return nil
		}
	}
}

func (s *chatSession) simpleLoop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out, "\nNashledanou!")
			return scanner.Err()
		}
		if s.handle(ctx, scanner.Text()) {
			return nil
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	switch input {
	case "":
		return false
	case "exit", "quit":
		fmt.Fprintln(s.out, "Nashledanou!")
		return true
	case ":history":
		s.printHistory(ctx)
		return false
	case ":facts":
		s.printFacts(ctx)
		return false
	case ":clear":
		if err := s.rt.ClearShortTerm(ctx, s.userID); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		} else {
			fmt.Fprintln(s.out, "(short-term memory cleared)")
		}
		return false
	}

	res, err := s.rt.ProcessTurn(ctx, s.userID, input, action.RequestContext{Channel: "cli"})
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return false
	}
	if res.Reply == "" {
		fmt.Fprintln(s.out, "mira> …")
		return false
	}
	fmt.Fprintf(s.out, "mira> %s\n", res.Reply)
	return false
}

func (s *chatSession) printHistory(ctx context.Context) {
	entries, err := s.rt.History(ctx, s.userID)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(s.out, "(no history)")
		return
	}
	for i, e := range entries {
		fmt.Fprintf(s.out, "%2d. %s %s", i+1, e.Pipeline, e.Intent)
		if e.Emotion != "" {
			fmt.Fprintf(s.out, " emotion=%s", e.Emotion)
		}
		fmt.Fprintf(s.out, " confidence=%.2f\n", e.Confidence)
	}
}

func (s *chatSession) printFacts(ctx context.Context) {
	facts, err := s.rt.Facts(ctx, s.userID)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if len(facts) == 0 {
		fmt.Fprintln(s.out, "(no facts)")
		return
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(s.out, "%s = %s (%s)\n", k, facts[k].Value, facts[k].Source)
	}
}
