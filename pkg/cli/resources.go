package cli

import (
	"flag"
	"fmt"
	"text/tabwriter"
	"time"
)

func newResourcesCommand() *Command {
	cmd := &Command{
		Name:        "resources",
		Description: "List or add resources owned by the current identity",
		Flags:       flag.NewFlagSet("resources", flag.ExitOnError),
	}
	add := cmd.Flags.String("add", "", "Create a resource with this title")
	kind := cmd.Flags.String("kind", "note", "Kind of the created resource")
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

		token, err := s.token()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		if *add != "" {
			r, err := s.client.CreateResource(ctx, token, *kind, *add)
			if err != nil {
				return fmt.Errorf("failed to create resource: %w", err)
			}
			fmt.Fprintf(stdout, "Created %s %s\n", r.Kind, r.ID)
			return nil
		}

		list, err := s.client.ListResources(ctx, token)
		if err != nil {
			return fmt.Errorf("failed to list resources: %w", err)
		}
		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tTITLE\tCREATED")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Title, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}
	return cmd
}
