package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/entra-auth-go/internal/entra"
)

// terminalPrompter asks re-auth consent questions on the controlling
// terminal. Without a terminal every prompt answers Cancel, so scripted
// runs never hang waiting for input.
type terminalPrompter struct {
	in  *os.File
	out *os.File
}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{in: os.Stdin, out: os.Stderr}
}

func (p *terminalPrompter) PromptReauth(ctx context.Context, account entra.Account, tenant entra.Tenant) (entra.ConsentDecision, error) {
	if !isatty.IsTerminal(p.in.Fd()) {
		return entra.ConsentCancel, nil
	}

	fmt.Fprintf(p.out, "Directory %q needs you to sign in again for account %s.\n",
		tenant.DisplayName, account.DisplayName)
	fmt.Fprintf(p.out, "[y] sign in  [n] not now  [i] never ask for this directory again: ")

	answerCh := make(chan string, 1)

	go func() {
		reader := bufio.NewReader(p.in)

		line, err := reader.ReadString('\n')
		if err != nil {
			answerCh <- ""

			return
		}

		answerCh <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return entra.ConsentCancel, ctx.Err()
	case answer := <-answerCh:
		switch answer {
		case "y", "yes":
			return entra.ConsentApprove, nil
		case "i", "ignore", "never":
			return entra.ConsentIgnoreTenant, nil
		default:
			return entra.ConsentCancel, nil
		}
	}
}
