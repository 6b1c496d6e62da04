package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/josh-code/enlight/core/billing"
	"github.com/josh-code/enlight/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db          *sql.DB
	usrRepo     user.Repository
	billingRepo billing.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-admin] - update or create a user; the password is prompted")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  setplan -monthly-price ID -monthly-amount N -yearly-price ID -yearly-amount N [-currency CUR] - replace the subscription plan")
	fmt.Println("  migrate COMMAND [ARGS] - run a database migration command (up, down, status, ...)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant all admin roles.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	setPlanCmd := flag.NewFlagSet("setplan", flag.ExitOnError)
	setPlanMonthlyPrice := setPlanCmd.String("monthly-price", "", "The provider price id of the monthly plan.")
	setPlanMonthlyAmount := setPlanCmd.Int64("monthly-amount", 0, "The monthly amount, in the currency's smallest unit.")
	setPlanYearlyPrice := setPlanCmd.String("yearly-price", "", "The provider price id of the yearly plan.")
	setPlanYearlyAmount := setPlanCmd.Int64("yearly-amount", 0, "The yearly amount, in the currency's smallest unit.")
	setPlanCurrency := setPlanCmd.String("currency", "usd", "The ISO currency code.")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserUname, *addUserEmail, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "setplan":
		if err := setPlanCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setPlanMonthlyPrice == "" || *setPlanYearlyPrice == "" || *setPlanMonthlyAmount <= 0 || *setPlanYearlyAmount <= 0 {
			setPlanCmd.Usage()
			return errHelp
		}
		return cli.setPlan(*setPlanMonthlyPrice, *setPlanMonthlyAmount, *setPlanYearlyPrice, *setPlanYearlyAmount, *setPlanCurrency)

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
