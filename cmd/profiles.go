package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/registry"
)

var (
	profileOwner      string
	profileName       string
	profileClassifier string
	profileSchemaPath string
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage client extraction profiles",
}

var profilesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a client profile from a YAML schema file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := os.ReadFile(profileSchemaPath)
		if err != nil {
			return eris.Wrap(err, "read schema file")
		}
		var schema model.Schema
		if err := yaml.Unmarshal(data, &schema); err != nil {
			return eris.Wrap(err, "parse schema file")
		}

		reg := registry.New(st)
		profile, err := reg.Register(ctx, model.ClientProfile{
			OwnerID:    profileOwner,
			Name:       profileName,
			Classifier: profileClassifier,
			Schema:     schema,
		})
		if err != nil {
			return err
		}

		zap.L().Info("profile registered",
			zap.String("profile_id", profile.ID),
			zap.String("owner_id", profile.OwnerID),
			zap.String("name", profile.Name),
		)
		fmt.Printf("%s  %s\n", profile.ID, profile.Name)
		return nil
	},
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's client profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		profiles, err := registry.New(st).ListByOwner(ctx, profileOwner)
		if err != nil {
			return err
		}

		for _, p := range profiles {
			locked := ""
			if p.Locked {
				locked = " (locked)"
			}
			fmt.Printf("%s  %s  %d fields%s\n", p.ID, p.Name, len(p.Schema.Fields), locked)
		}
		return nil
	},
}

func init() {
	profilesAddCmd.Flags().StringVar(&profileOwner, "owner", "", "owner id (required)")
	profilesAddCmd.Flags().StringVar(&profileName, "name", "", "client name (required)")
	profilesAddCmd.Flags().StringVar(&profileClassifier, "classifier", "", "free-text description the classifier matches against (required)")
	profilesAddCmd.Flags().StringVar(&profileSchemaPath, "schema", "", "path to the YAML schema file (required)")
	profilesAddCmd.MarkFlagRequired("owner")
	profilesAddCmd.MarkFlagRequired("name")
	profilesAddCmd.MarkFlagRequired("classifier")
	profilesAddCmd.MarkFlagRequired("schema")

	profilesListCmd.Flags().StringVar(&profileOwner, "owner", "", "owner id (required)")
	profilesListCmd.MarkFlagRequired("owner")

	profilesCmd.AddCommand(profilesAddCmd, profilesListCmd)
	rootCmd.AddCommand(profilesCmd)
}
