package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	sdk "github.com/lexcoverzy/policy-upload/sdk/client"
	"github.com/spf13/cobra"
)

const defaultGateway = "http://localhost:3000"

type globalOptions struct {
	gateway   string
	uploadKey string
	adminKey  string
	jsonOut   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "policyctl",
		Short:         "policyctl - policy document upload CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.gateway, "gateway", envOr("POLICY_GATEWAY_URL", defaultGateway), "gateway base url (POLICY_GATEWAY_URL)")
	flags.StringVar(&opts.uploadKey, "upload-key", envOr("POLICY_UPLOAD_KEY", ""), "upload api key (POLICY_UPLOAD_KEY)")
	flags.StringVar(&opts.adminKey, "admin-key", envOr("POLICY_ADMIN_KEY", ""), "admin api key (POLICY_ADMIN_KEY)")
	flags.BoolVar(&opts.jsonOut, "json", false, "print raw JSON instead of tables")

	root.AddCommand(
		uploadCmd(opts),
		listCmd(opts),
		infoCmd(opts),
		downloadCmd(opts),
		deleteCmd(opts),
		statusCmd(opts),
	)
	return root
}

func (o *globalOptions) client() *sdk.Client {
	return sdk.New(strings.TrimRight(o.gateway, "/"), o.uploadKey, o.adminKey)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func printJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
