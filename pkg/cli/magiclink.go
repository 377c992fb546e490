package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/idlink/pkg/identity"
)

func newMagicLinkCommand() *Command {
	cmd := &Command{
		Name:        "magic-link",
		Description: "Request or redeem a passwordless sign-in link",
		Flags:       flag.NewFlagSet("magic-link", flag.ExitOnError),
	}
	email := cmd.Flags.String("email", "", "Send a sign-in link to this address")
	token := cmd.Flags.String("verify", "", "Redeem a sign-in link token")
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if (*email == "") == (*token == "") {
			return fmt.Errorf("exactly one of --email or --verify is required")
		}
		s, err := openSession(cmd.Flags)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if *email != "" {
			if err := s.client.RequestMagicLink(ctx, *email); err != nil {
				return fmt.Errorf("failed to request sign-in link: %w", err)
			}
			fmt.Fprintf(stdout, "If %s can sign in, a link is on its way\n", *email)
			return nil
		}

		current, err := s.tokens.Load()
		if err != nil {
			return err
		}
		res, err := s.client.VerifyMagicLink(ctx, identity.VerifyMagicLinkRequest{
			Token:               *token,
			CurrentSessionToken: current,
		})
		if err != nil {
			return fmt.Errorf("failed to redeem sign-in link: %w", describeError(err))
		}
		if err := s.tokens.Save(res.Session.Token); err != nil {
			return err
		}
		s.log.WithField("identity_id", res.Identity.ID).Debug("Stored magic link session")
		if err := s.sync.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		if res.Linked {
			fmt.Fprintln(stdout, "Linked")
		}
		printSnapshot(s.sync.Current())
		return nil
	}
	return cmd
}
