package auditctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/cryptox"
	"github.com/dmitrijs2005/recordguard/internal/server/auth"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitUsage    = 2
	ExitTampered = 3
)

// Verifier is the read side of the audit ledger used by the commands.
type Verifier interface {
	Verify(ctx context.Context, id string) (bool, error)
	VerifyAll(ctx context.Context) ([]string, error)
	VerifyBatch(ctx context.Context, from, to time.Time) (*models.IntegrityReport, error)
}

// Connector opens the ledger on demand. The returned func releases it.
type Connector func(ctx context.Context) (Verifier, func(), error)

type App struct {
	connect Connector
	policy  auth.PasswordPolicy
	encoder *auth.PasswordEncoder
	out     io.Writer
}

func NewApp(connect Connector, minPasswordLength int, out io.Writer) *App {
	return &App{
		connect: connect,
		policy:  auth.NewPasswordPolicy(minPasswordLength),
		encoder: auth.NewPasswordEncoder(),
		out:     out,
	}
}

const usage = `usage: auditctl <command> [args]

commands:
  verify-all                 verify every ledger entry
  verify <id>                verify one entry
  verify-window <from> <to>  verify entries between two RFC3339 instants
  hash-password              read a password and print its stored credential
  gen-key                    print fresh digest key, cipher key and cipher IV
`

// Run executes one command and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return ExitUsage
	}

	var err error
	code := ExitOK
	switch cmd, rest := args[0], args[1:]; cmd {
	case "verify-all":
		code, err = a.withLedger(ctx, func(v Verifier) (int, error) { return a.verifyAll(ctx, v) })
	case "verify":
		if len(rest) != 1 {
			fmt.Fprint(a.out, usage)
			return ExitUsage
		}
		code, err = a.withLedger(ctx, func(v Verifier) (int, error) { return a.verifyOne(ctx, v, rest[0]) })
	case "verify-window":
		if len(rest) != 2 {
			fmt.Fprint(a.out, usage)
			return ExitUsage
		}
		from, to, perr := parseWindow(rest[0], rest[1])
		if perr != nil {
			fmt.Fprintln(a.out, perr)
			return ExitUsage
		}
		code, err = a.withLedger(ctx, func(v Verifier) (int, error) { return a.verifyWindow(ctx, v, from, to) })
	case "hash-password":
		err = a.hashPassword()
	case "gen-key":
		err = a.genKey()
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
	default:
		fmt.Fprintf(a.out, "unknown command %q\n\n%s", cmd, usage)
		return ExitUsage
	}

	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return ExitError
	}
	return code
}

func (a *App) withLedger(ctx context.Context, fn func(Verifier) (int, error)) (int, error) {
	v, release, err := a.connect(ctx)
	if err != nil {
		return ExitError, err
	}
	defer release()
	return fn(v)
}

func (a *App) verifyAll(ctx context.Context, v Verifier) (int, error) {
	failed, err := v.VerifyAll(ctx)
	if err != nil {
		return ExitError, err
	}
	if len(failed) == 0 {
		fmt.Fprintln(a.out, "all entries verified")
		return ExitOK, nil
	}
	fmt.Fprintf(a.out, "%d tampered entries:\n", len(failed))
	for _, id := range failed {
		fmt.Fprintln(a.out, id)
	}
	return ExitTampered, nil
}

func (a *App) verifyOne(ctx context.Context, v Verifier, id string) (int, error) {
	ok, err := v.Verify(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return ExitError, fmt.Errorf("entry %s not found", id)
	}
	if err != nil {
		return ExitError, err
	}
	if !ok {
		fmt.Fprintf(a.out, "%s: TAMPERED\n", id)
		return ExitTampered, nil
	}
	fmt.Fprintf(a.out, "%s: ok\n", id)
	return ExitOK, nil
}

func (a *App) verifyWindow(ctx context.Context, v Verifier, from, to time.Time) (int, error) {
	r, err := v.VerifyBatch(ctx, from, to)
	if err != nil {
		return ExitError, err
	}
	fmt.Fprintf(a.out, "checked %d entries, %d failed\n", r.Checked, len(r.Failed))
	for _, id := range r.Failed {
		fmt.Fprintln(a.out, id)
	}
	if r.HasFailures() {
		return ExitTampered, nil
	}
	return ExitOK, nil
}

func parseWindow(fromS, toS string) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, fromS)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, toS)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("window end is before its start")
	}
	return from, to, nil
}

func (a *App) hashPassword() error {
	pw, err := GetPassword(a.out, "Enter password: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	again, err := GetPassword(a.out, "Repeat password: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(again)

	if string(pw) != string(again) {
		return errors.New("passwords do not match")
	}
	if err := a.policy.Check(string(pw)); err != nil {
		return err
	}

	credential, err := a.encoder.Encode(string(pw))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, credential)
	return nil
}

func (a *App) genKey() error {
	digest, err := common.MakeRandHexString(cryptox.DigestSize)
	if err != nil {
		return err
	}
	key, err := common.MakeRandHexString(cryptox.BlockSize)
	if err != nil {
		return err
	}
	iv, err := common.MakeRandHexString(cryptox.BlockSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "digest_key=%s\ncipher_key=%s\ncipher_iv=%s\n", digest, key, iv)
	return nil
}
