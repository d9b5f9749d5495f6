package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/intakeflow/internal/config"
	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/export"
	"github.com/dshills/intakeflow/internal/intake"
	"github.com/dshills/intakeflow/internal/validator"
)

var (
	runStore  string
	runExport string
)

var runCmd = &cobra.Command{
	Use:   "run <intake-type>",
	Short: "Answer an intake in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), config.StoreKind(runStore))
		if err != nil {
			return err
		}
		defer a.Close()

		t := &terminal{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
		sessionID, err := runIntake(cmd.Context(), a.proc, t, args[0])
		if err != nil {
			return err
		}
		if runExport == "" {
			return nil
		}

		state, err := a.proc.Current(cmd.Context(), args[0], sessionID)
		if err != nil {
			return err
		}
		def, err := a.registry.Intake(args[0])
		if err != nil {
			return err
		}
		md := export.RenderMarkdown(export.Input{
			Intake:     def,
			Session:    state.Session,
			Entries:    state.Entries,
			Completion: state.Completion,
		})
		if err := os.WriteFile(runExport, md, 0o600); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(t.out, "\nTranscript written to %s\n", runExport)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runStore, "store", string(config.StoreMemory), "store backend for this run (sqlite, redis, mongo, memory)")
	runCmd.Flags().StringVarP(&runExport, "export", "o", "", "write the Markdown transcript to this file")
}

type terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func (t *terminal) readLine(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// runIntake walks one session from the first question to its completion output.
func runIntake(ctx context.Context, proc *intake.Processor, t *terminal, intakeType string) (string, error) {
	session, err := proc.Start(ctx, intakeType)
	if err != nil {
		return "", err
	}

	state, err := proc.Current(ctx, intakeType, session.ID)
	if err != nil {
		return "", err
	}
	for state.Next != nil {
		index := len(state.Entries)
		q := state.Next
		fmt.Fprintf(t.out, "\n[%d/%d] %s\n", index+1, state.TotalSteps, q.Prompt)
		for i, o := range q.Options {
			fmt.Fprintf(t.out, "  %d) %s\n", i+1, o.Label)
		}

		answer, err := askAnswer(t, q)
		if err != nil {
			return "", err
		}

		result, err := proc.Submit(ctx, intake.StepRequest{
			IntakeType:    intakeType,
			SessionID:     session.ID,
			QuestionIndex: index,
			Answer:        answer,
		})
		if errors.Is(err, domain.ErrValidation) {
			fmt.Fprintf(t.out, "  %v\n", err)
			continue
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(t.out, "\n  %s\n", result.Reflection)

		if state, err = proc.Current(ctx, intakeType, session.ID); err != nil {
			return "", err
		}
	}

	fmt.Fprintln(t.out, "\nPreparing your summary...")
	out, err := proc.Complete(ctx, intakeType, session.ID)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(t.out, "\n== Your brief ==\n%s\n\n== Your first session ==\n%s\n\n== Things you could try ==\n",
		out.PersonalizedBrief, out.FirstSessionGuide)
	for _, ex := range out.Experiments {
		fmt.Fprintf(t.out, "- %s\n", ex)
	}
	return session.ID, nil
}

func askAnswer(t *terminal, q *domain.QuestionDefinition) (domain.Answer, error) {
	if !q.Type.IsSelect() {
		line, err := t.readLine("> ")
		return domain.TextAnswer(line), err
	}

	hint := "> "
	if q.Type == domain.QuestionTypeMultiSelect {
		hint = "(comma separated) > "
	}
	line, err := t.readLine(hint)
	if err != nil {
		return domain.Answer{}, err
	}
	answer := parseSelection(q, line)
	if validator.DetectEscape(q, answer.Values) {
		if answer.Other, err = t.readLine("Please describe: "); err != nil {
			return domain.Answer{}, err
		}
	}
	return answer, nil
}

// parseSelection maps a line of option numbers or values to option values.
// Unknown tokens are passed through so validation can report them.
func parseSelection(q *domain.QuestionDefinition, line string) domain.Answer {
	values := []string{}
	for _, tok := range strings.Split(line, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil && n >= 1 && n <= len(q.Options) {
			values = append(values, q.Options[n-1].Value)
			continue
		}
		values = append(values, strings.ToLower(tok))
	}
	return domain.ListAnswer(values...)
}
