package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newUnifyCommand(load func(*cobra.Command) (*app, error)) *cobra.Command {
	var (
		projectID int64
		marker    string
		actor     string
	)
	cmd := &cobra.Command{
		Use:   "unify",
		Short: "Run or resume project unification",
		Long: `Without flags, resumes every pending unification left by an interrupted run:
staged document copies are removed and the merge is retried where it applies.
With --project, reruns unification for a convocatoria project in vinculacion.
With --marker, resumes a single pending unification.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if projectID != 0 && marker != "" {
				return errors.New("--project and --marker are mutually exclusive")
			}
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			ctx := cmd.Context()
			switch {
			case projectID != 0:
				if err := a.svc.UnifyOnEnterVinculacion(ctx, projectID, actor); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "project %d unified\n", projectID)
				return err
			case marker != "":
				if err := a.svc.ResumePendingMerge(ctx, marker); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "marker %s resumed\n", marker)
				return err
			default:
				return a.resumePendingMerges(ctx)
			}
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "convocatoria project id")
	cmd.Flags().StringVar(&marker, "marker", "", "pending unification marker id")
	cmd.Flags().StringVar(&actor, "actor", "sistema", "login recorded as the acting operator")
	return cmd
}
