package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/holdings/internal/coordinator"
	"github.com/mtlprog/holdings/internal/domain"
	"github.com/mtlprog/holdings/internal/snapshot"
	"github.com/mtlprog/holdings/internal/store"
)

// Exit codes by error kind.
const (
	exitFailure     = 1
	exitValidation  = 2
	exitConsistency = 3
	exitNumerical   = 4
	exitAtomicity   = 5
	exitNotFound    = 6
)

// describe turns an error into the message shown to the user and the process exit code.
func describe(err error) (string, int) {
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return exit.Error(), exit.ExitCode()
	}

	var funds *coordinator.InsufficientFundsError
	if errors.As(err, &funds) {
		return fmt.Sprintf("insufficient funds in ledger %s: need %s, available %s, short %s; "+
			"retry with --resolution auto-top-up --top-up-rate <rate> or --resolution allow-overdraft",
			funds.LedgerID, funds.Required.Display(), funds.Available.Display(), funds.Shortfall.Display()), exitConsistency
	}

	switch domain.KindOf(err) {
	case domain.KindAtomicity:
		return fmt.Sprintf("nothing was saved: %v", err), exitAtomicity
	case domain.KindConsistency:
		if errors.Is(err, domain.ErrInsufficientShares) {
			return fmt.Sprintf("not enough shares to sell: %v", err), exitConsistency
		}
		return fmt.Sprintf("insufficient balance: %v", err), exitConsistency
	case domain.KindNumerical:
		return "insufficient data to compute return", exitNumerical
	case domain.KindValidation:
		if errors.Is(err, domain.ErrDegenerateInput) {
			return "insufficient data to compute return", exitNumerical
		}
		return fmt.Sprintf("invalid input: %v", err), exitValidation
	}

	if errors.Is(err, store.ErrNotFound) || errors.Is(err, snapshot.ErrNotFound) {
		return fmt.Sprintf("not found: %v", err), exitNotFound
	}
	return err.Error(), exitFailure
}
