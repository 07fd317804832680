package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hypermusic-ai/dcn-go/pkg/client"
	"github.com/hypermusic-ai/dcn-go/pkg/identity"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile      string
	apiBase      string
	accessToken  string
	refreshToken string
	outputJSON   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dcn",
	Short: "Decentralised Creative Network CLI",
	Long: `dcn is the command-line interface for the Decentralised Creative Network.

It logs in with a wallet key, manages features and transformations, and
executes features against a DCN API server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.dcn")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("DCN")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if apiBase == "" {
			apiBase = viper.GetString("api_base")
		}
		if accessToken == "" {
			accessToken = viper.GetString("access_token")
		}
		if refreshToken == "" {
			refreshToken = viper.GetString("refresh_token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.dcn/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "", "DCN API base URL (default "+client.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&accessToken, "access-token", "", "access token (or DCN_ACCESS_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&refreshToken, "refresh-token", "", "refresh token (or DCN_REFRESH_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON output")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(featureCmd)
	rootCmd.AddCommand(transformationCmd)
	rootCmd.AddCommand(executeCmd)
}

// newClient builds an SDK client from the resolved flags and config.
func newClient() (*client.Client, error) {
	var opts []client.Option
	if accessToken != "" || refreshToken != "" {
		opts = append(opts, client.WithTokens(accessToken, refreshToken))
	}
	return client.New(apiBase, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginKey string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with a wallet key and print the token pair",
	Long: `login fetches a nonce, signs it with the wallet key, and exchanges the
signature for an access/refresh token pair.

The key comes from --key, the DCN_PRIVATE_KEY environment variable, or the
private_key entry in the config file. Export the printed tokens (or add them
to ~/.dcn/config.yaml) for subsequent commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := loginKey
		if key == "" {
			key = viper.GetString("private_key")
		}

		var acct *identity.Account
		var err error
		if key != "" {
			acct, err = identity.FromKey(key)
		} else {
			acct, err = identity.FromEnv()
		}
		if err != nil {
			return fmt.Errorf("load wallet key: %w", err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.Login(context.Background(), acct)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		if outputJSON {
			return printJSON(map[string]string{
				"address":       acct.Address(),
				"access_token":  resp.AccessToken,
				"refresh_token": resp.RefreshToken,
			})
		}
		fmt.Printf("✓ Logged in as %s\n\n", acct.Address())
		fmt.Printf("  DCN_ACCESS_TOKEN=%s\n", resp.AccessToken)
		if resp.RefreshToken != "" {
			fmt.Printf("  DCN_REFRESH_TOKEN=%s\n", resp.RefreshToken)
		}
		if exp := c.TokenExpiry(); !exp.IsZero() {
			fmt.Printf("\nAccess token expires: %s\n", exp.Local())
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginKey, "key", "", "hex-encoded wallet private key (default DCN_PRIVATE_KEY)")
}

// ── refresh ──────────────────────────────────────────────────────────────────

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.Refresh(context.Background())
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		if outputJSON {
			return printJSON(resp)
		}
		fmt.Printf("✓ Token refreshed\n\n  DCN_ACCESS_TOKEN=%s\n", resp.AccessToken)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version and the remote API version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("dcn %s (client %s)\n", version, client.SDKVersion)

		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.Version(context.Background())
		if err != nil {
			return fmt.Errorf("fetch API version: %w", err)
		}
		fmt.Printf("API %s (%s)\n", v.Version, c.BaseURL())
		return nil
	},
}

// ── account ──────────────────────────────────────────────────────────────────

var (
	accountLimit int
	accountPage  int
)

var accountCmd = &cobra.Command{
	Use:   "account <address>",
	Short: "Show the features and transformations owned by an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		info, err := c.AccountInfo(context.Background(), args[0], accountLimit, accountPage)
		if err != nil {
			return fmt.Errorf("account info: %w", err)
		}
		if outputJSON {
			return printJSON(info)
		}

		fmt.Printf("Account: %s\n\n", info.Address)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tNAME\tVERSION")
		for _, f := range info.Features {
			fmt.Fprintf(w, "feature\t%s\t%s\n", f.Name, f.Version)
		}
		for _, tr := range info.Transformations {
			fmt.Fprintf(w, "transformation\t%s\t%s\n", tr.Name, tr.Version)
		}
		return w.Flush()
	},
}

func init() {
	accountCmd.Flags().IntVar(&accountLimit, "limit", 10, "page size for resource listings")
	accountCmd.Flags().IntVar(&accountPage, "page", 0, "page number for resource listings")
}

// ── feature ──────────────────────────────────────────────────────────────────

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Get and create features",
}

var featureGetCmd = &cobra.Command{
	Use:   "get <name> [version]",
	Short: "Fetch a feature (latest version unless one is given)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var feat *client.FeatureResponse
		if len(args) == 2 {
			feat, err = c.GetFeatureVersion(context.Background(), args[0], args[1])
		} else {
			feat, err = c.GetFeature(context.Background(), args[0])
		}
		if err != nil {
			return fmt.Errorf("get feature: %w", err)
		}
		if outputJSON {
			return printJSON(feat)
		}

		fmt.Printf("Feature: %s (version %s)\n", feat.Name, feat.Version)
		if feat.Owner != "" {
			fmt.Printf("Owner:   %s\n", feat.Owner)
		}
		for _, d := range feat.Dimensions {
			fmt.Printf("  - %s", d.FeatureName)
			for _, tr := range d.Transformations {
				fmt.Printf(" | %s%v", tr.Name, tr.Args)
			}
			fmt.Println()
		}
		return nil
	},
}

var featureFile string

var featureCreateCmd = &cobra.Command{
	Use:   "create --file feature.json",
	Short: "Create a feature from a JSON definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(featureFile)
		if err != nil {
			return err
		}
		var req client.FeatureCreateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("parse feature definition: %w", err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		feat, err := c.CreateFeature(context.Background(), req)
		if err != nil {
			return fmt.Errorf("create feature: %w", err)
		}
		if outputJSON {
			return printJSON(feat)
		}
		fmt.Printf("✓ Feature created: %s (version %s)\n", feat.Name, feat.Version)
		return nil
	},
}

func init() {
	featureCreateCmd.Flags().StringVar(&featureFile, "file", "", "feature definition JSON file (- for stdin)")
	_ = featureCreateCmd.MarkFlagRequired("file")

	featureCmd.AddCommand(featureGetCmd)
	featureCmd.AddCommand(featureCreateCmd)
}

// ── transformation ───────────────────────────────────────────────────────────

var transformationCmd = &cobra.Command{
	Use:     "transformation",
	Aliases: []string{"transform"},
	Short:   "Get and create transformations",
}

var transformationGetCmd = &cobra.Command{
	Use:   "get <name> [version]",
	Short: "Fetch a transformation (latest version unless one is given)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var tr *client.TransformationResponse
		if len(args) == 2 {
			tr, err = c.GetTransformationVersion(context.Background(), args[0], args[1])
		} else {
			tr, err = c.GetTransformation(context.Background(), args[0])
		}
		if err != nil {
			return fmt.Errorf("get transformation: %w", err)
		}
		if outputJSON {
			return printJSON(tr)
		}

		fmt.Printf("Transformation: %s (version %s)\n", tr.Name, tr.Version)
		if tr.Owner != "" {
			fmt.Printf("Owner:          %s\n", tr.Owner)
		}
		if tr.SolSrc != "" {
			fmt.Printf("\n%s\n", tr.SolSrc)
		}
		return nil
	},
}

var (
	transformationName   string
	transformationSource string
)

var transformationCreateCmd = &cobra.Command{
	Use:   "create --name add --source add.sol",
	Short: "Create a transformation from a Solidity source file",
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := readInput(transformationSource)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		tr, err := c.CreateTransformation(context.Background(), client.TransformationCreateRequest{
			Name:   transformationName,
			SolSrc: string(src),
		})
		if err != nil {
			return fmt.Errorf("create transformation: %w", err)
		}
		if outputJSON {
			return printJSON(tr)
		}
		fmt.Printf("✓ Transformation created: %s (version %s)\n", tr.Name, tr.Version)
		return nil
	},
}

func init() {
	transformationCreateCmd.Flags().StringVar(&transformationName, "name", "", "transformation name")
	transformationCreateCmd.Flags().StringVar(&transformationSource, "source", "", "Solidity source file (- for stdin)")
	_ = transformationCreateCmd.MarkFlagRequired("name")
	_ = transformationCreateCmd.MarkFlagRequired("source")

	transformationCmd.AddCommand(transformationGetCmd)
	transformationCmd.AddCommand(transformationCreateCmd)
}

// ── execute ──────────────────────────────────────────────────────────────────

var executeCmd = &cobra.Command{
	Use:   "execute <feature> <num-samples> [start;shift ...]",
	Short: "Execute a feature and print the generated samples",
	Long: `execute runs a feature remotely and prints one sample sequence per
dimension. Optional running instances seed the generators, one "start;shift"
pair per dimension in order:

  dcn execute melody 16 "60;2" "0;1"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		numSamples, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("num-samples must be an integer: %w", err)
		}
		instances, err := parseInstanceArgs(args[2:])
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := c.Execute(context.Background(), args[0], numSamples, instances)
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		if outputJSON {
			return printJSON(out)
		}

		fmt.Printf("Feature: %s (%d samples)\n\n", out.FeatureName, out.NumSamples)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for dim, samples := range out.Samples {
			fmt.Fprintf(w, "%s\t%v\n", dim, samples)
		}
		return w.Flush()
	},
}

// parseInstanceArgs parses "start;shift" pairs, with or without parentheses.
func parseInstanceArgs(args []string) ([]client.RunningInstance, error) {
	out := make([]client.RunningInstance, 0, len(args))
	for _, arg := range args {
		trimmed := strings.TrimSuffix(strings.TrimPrefix(arg, "("), ")")
		start, shift, ok := strings.Cut(trimmed, ";")
		if !ok {
			return nil, fmt.Errorf("running instance %q: want start;shift", arg)
		}
		s, err := strconv.Atoi(start)
		if err != nil {
			return nil, fmt.Errorf("running instance %q: %w", arg, err)
		}
		sh, err := strconv.Atoi(shift)
		if err != nil {
			return nil, fmt.Errorf("running instance %q: %w", arg, err)
		}
		out = append(out, client.RunningInstance{Start: s, Shift: sh})
	}
	return out, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return data, nil
}
