package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/idlink/pkg/identity"
)

func newAnonymousCommand() *Command {
	cmd := &Command{
		Name:        "anonymous",
		Description: "Start an anonymous session, or keep the current one",
		Flags:       flag.NewFlagSet("anonymous", flag.ExitOnError),
	}
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, err := openSession(cmd.Flags)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()
		snap, err := s.sync.SignInAnonymously(ctx)
		if err != nil {
			return fmt.Errorf("failed to start anonymous session: %w", err)
		}
		printSnapshot(snap)
		return nil
	}
	return cmd
}

func credentialFlags(fs *flag.FlagSet) (email, password *string) {
	email = fs.String("email", "", "Email address (required)")
	password = fs.String("password", "", "Password (required)")
	return email, password
}

func newSignUpCommand() *Command {
	cmd := &Command{
		Name:        "signup",
		Description: "Register with email and password, keeping anonymous data",
		Flags:       flag.NewFlagSet("signup", flag.ExitOnError),
	}
	email, password := credentialFlags(cmd.Flags)
	name := cmd.Flags.String("name", "", "Display name")
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" || *password == "" {
			return fmt.Errorf("--email and --password are required")
		}
		s, err := openSession(cmd.Flags)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()
		snap, err := s.sync.SignUp(ctx, identity.SignUpRequest{
			Credential:  identity.CredentialInput{Method: identity.MethodPassword, Email: *email, Password: *password},
			DisplayName: *name,
		})
		if err != nil {
			return fmt.Errorf("sign up failed: %w", describeError(err))
		}
		printSnapshot(snap)
		return nil
	}
	return cmd
}

func newSignInCommand() *Command {
	cmd := &Command{
		Name:        "signin",
		Description: "Sign in with email and password",
		Flags:       flag.NewFlagSet("signin", flag.ExitOnError),
	}
	email, password := credentialFlags(cmd.Flags)
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" || *password == "" {
			return fmt.Errorf("--email and --password are required")
		}
		s, err := openSession(cmd.Flags)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()
		snap, err := s.sync.SignIn(ctx, identity.SignInRequest{
			Credential: identity.CredentialInput{Method: identity.MethodPassword, Email: *email, Password: *password},
		})
		if err != nil {
			return fmt.Errorf("sign in failed: %w", describeError(err))
		}
		printSnapshot(snap)
		return nil
	}
	return cmd
}

func newSignOutCommand() *Command {
	cmd := &Command{
		Name:        "signout",
		Description: "End the current session",
		Flags:       flag.NewFlagSet("signout", flag.ExitOnError),
	}
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, err := openSession(cmd.Flags)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()
		if _, err := s.sync.SignOut(ctx); err != nil {
			return fmt.Errorf("sign out failed: %w", err)
		}
		fmt.Fprintln(stdout, "Signed out")
		return nil
	}
	return cmd
}

func newWhoAmICommand() *Command {
	cmd := &Command{
		Name:        "whoami",
		Description: "Show the identity behind the stored session",
		Flags:       flag.NewFlagSet("whoami", flag.ExitOnError),
	}
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, err := openSession(cmd.Flags)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()
		if err := s.sync.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		printSnapshot(s.sync.Current())
		return nil
	}
	return cmd
}

func newLinkCommand() *Command {
	cmd := &Command{
		Name:        "link",
		Description: "Graduate the anonymous session to an email and password",
		Flags:       flag.NewFlagSet("link", flag.ExitOnError),
	}
	email, password := credentialFlags(cmd.Flags)
	name := cmd.Flags.String("name", "", "Display name")
	key := cmd.Flags.String("idempotency-key", "", "Idempotency key (generated when empty)")
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" || *password == "" {
			return fmt.Errorf("--email and --password are required")
		}
		s, err := openSession(cmd.Flags)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()
		if err := s.sync.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		if !s.sync.Current().Anonymous() {
			return fmt.Errorf("link requires an anonymous session")
		}

		snap, err := s.sync.Link(ctx, identity.BeginLinkRequest{
			Credential:     identity.CredentialInput{Method: identity.MethodPassword, Email: *email, Password: *password},
			IdempotencyKey: *key,
			DisplayName:    *name,
		})
		if err != nil {
			return fmt.Errorf("link failed: %w", describeError(err))
		}
		fmt.Fprintln(stdout, "Linked")
		printSnapshot(snap)
		return nil
	}
	return cmd
}
