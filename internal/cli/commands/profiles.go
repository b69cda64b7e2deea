package commands

import (
	"github.com/spf13/cobra"
)

// NewProfilesCommand creates the profiles command.
func NewProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List saved connection profiles",
		Long: `List the connection profiles of the config file, plus the "default"
profile taken from DATABASE_URL when it is set. Secrets are never shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := SessionFrom(cmd.Context())
			if err != nil {
				return err
			}
			profiles, err := s.Profiles.Profiles()
			if err != nil {
				return err
			}
			return s.Renderer.Profiles(profiles)
		},
	}
}
