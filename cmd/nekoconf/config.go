package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nya-foundation/nekoconf/internal/store"
	"github.com/nya-foundation/nekoconf/internal/value"
)

var fileFlags struct {
	config string
	schema string
	format string
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print a value, or the whole configuration",
	Long: `Print the effective value at a dotted key, environment overrides
included.  Without a key the whole configuration is printed.

Examples:
  nekoconf get --config config.yaml
  nekoconf get server.port --config config.yaml --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set key value",
	Short: "Set a value and save",
	Long: `Set the value at a dotted key and save the file.  The value is parsed
the same way environment overrides are: true/false, null, integers, floats,
JSON or YAML flow lists and mappings, otherwise a plain string.

With --schema the result is validated first and nothing is saved when it
does not match.`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete key",
	Short: "Delete a key and save",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var importCmd = &cobra.Command{
	Use:   "import file",
	Short: "Deep-merge another YAML or JSON file and save",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration against a JSON Schema",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

var initCmd = &cobra.Command{
	Use:   "init file",
	Short: "Write a starter configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

func init() {
	for _, c := range []*cobra.Command{getCmd, setCmd, deleteCmd, importCmd, validateCmd} {
		c.Flags().StringVarP(&fileFlags.config, "config", "c", "config.yaml", "configuration file")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(initCmd)

	getCmd.Flags().StringVarP(&fileFlags.format, "format", "f", "yaml", "output format: yaml, json")
	setCmd.Flags().StringVar(&fileFlags.schema, "schema", "", "JSON Schema to validate against before saving")
	validateCmd.Flags().StringVar(&fileFlags.schema, "schema", "", "JSON Schema file (required)")
	_ = validateCmd.MarkFlagRequired("schema")
}

/*──────────────────────────── commands ────────────────────────────────────*/

func runGet(cmd *cobra.Command, args []string) error {
	m, err := openManager(commandContext(cmd), fileFlags.config, "")
	if err != nil {
		return err
	}

	var out any = m.All()
	if len(args) == 1 {
		if !m.Has(args[0]) {
			return fmt.Errorf("key %q not found", args[0])
		}
		out = m.Get(args[0], nil)
	}
	return render(cmd.OutOrStdout(), out, fileFlags.format)
}

func runSet(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	m, err := openManager(ctx, fileFlags.config, fileFlags.schema)
	if err != nil {
		return err
	}

	v, perr := value.Parse(args[1])
	if perr != nil {
		zap.S().Warnw("value kept as plain string", "value", args[1], "err", perr)
	}
	if err := m.Set(ctx, args[0], v.Any()); err != nil {
		return err
	}

	if m.HasSchema() {
		if errs := m.Validate(); len(errs) > 0 {
			printErrors(cmd.ErrOrStderr(), errs)
			return errors.New("configuration does not match schema; nothing saved")
		}
	}
	if err := m.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "set %s\n", args[0])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	m, err := openManager(ctx, fileFlags.config, "")
	if err != nil {
		return err
	}

	found, err := m.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("key %q not found", args[0])
	}
	if err := m.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	data, err := store.Read(args[0])
	if err != nil {
		return err
	}
	m, err := openManager(ctx, fileFlags.config, "")
	if err != nil {
		return err
	}
	if err := m.Update(ctx, data); err != nil {
		return err
	}
	if err := m.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %s into %s\n", args[0], fileFlags.config)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if fileFlags.schema == "" {
		return errors.New("--schema is required")
	}
	m, err := openManager(commandContext(cmd), fileFlags.config, fileFlags.schema)
	if err != nil {
		return err
	}

	errs := m.Validate()
	if len(errs) > 0 {
		printErrors(cmd.ErrOrStderr(), errs)
		return fmt.Errorf("%d validation error(s)", len(errs))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	return nil
}

// starterConfig is what init writes.
func starterConfig() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":  "0.0.0.0",
			"port":  8000,
			"debug": false,
		},
		"logging": map[string]any{
			"level": "info",
		},
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := store.New(path).Save(starterConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
	return nil
}

/*──────────────────────────── output ──────────────────────────────────────*/

func render(w io.Writer, v any, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func printErrors(w io.Writer, errs []string) {
	for _, e := range errs {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
