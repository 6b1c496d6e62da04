package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/josh-code/enlight/core"
	"github.com/josh-code/enlight/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr, err = cli.usrRepo.GetUserByEmail(ctx, email)
		if err != nil && errors.Cause(err) != user.ErrNotFound {
			return err
		}
	}

	if isAdmin {
		usr.Roles = user.AllRoles
	} else if usr.Roles == nil {
		usr.Roles = user.StudentRoles
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	now := time.Now().UTC()
	if usr.ID == "" {
		usr.Username = uname
		usr.Email = email
		usr.CreatedAt = now
		usr.UpdatedAt = now
		usr.SetActive(true)
		_, err = cli.usrRepo.CreateUser(ctx, usr)
		return err
	}
	usr.UpdatedAt = now
	active := true
	_, err = cli.usrRepo.UpdateUser(ctx, usr, &active)
	return err
}
