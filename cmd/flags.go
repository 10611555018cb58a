package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/excerpt/internal/types"
)

// OutputFlags selects how a command prints its result.
type OutputFlags struct {
	Format string
}

// AddOutputFlags adds --output/-o accepting one of formats. The first
// format is the default.
func AddOutputFlags(cmd *cobra.Command, formats ...string) *OutputFlags {
	flags := &OutputFlags{}
	cmd.Flags().StringVarP(&flags.Format, "output", "o", formats[0],
		fmt.Sprintf("Output format (%s)", strings.Join(formats, "|")))
	AddFlagValidation(cmd, "output", func(format string) error {
		return ValidateFormat(format, formats)
	})
	return flags
}

// SettingsFlags are the Include settings given on the command line.
type SettingsFlags struct {
	Vars       map[string]string
	Toggles    map[string]string
	Insertions []string
}

// AddSettingsFlags adds --set, --toggle and --insert.
func AddSettingsFlags(cmd *cobra.Command) *SettingsFlags {
	flags := &SettingsFlags{}
	fs := cmd.Flags()
	fs.StringToStringVarP(&flags.Vars, "set", "s", nil, "Variable value (name=value, repeatable)")
	fs.StringToStringVarP(&flags.Toggles, "toggle", "t", nil, "Toggle state (name=true|false, repeatable)")
	fs.StringArrayVar(&flags.Insertions, "insert", nil, "Custom paragraph after a Source paragraph (position:text, repeatable)")
	return flags
}

// Empty reports whether no settings flag was given.
func (f *SettingsFlags) Empty() bool {
	return len(f.Vars) == 0 && len(f.Toggles) == 0 && len(f.Insertions) == 0
}

// Apply layers the flag values over base.
func (f *SettingsFlags) Apply(base types.Settings) (types.Settings, error) {
	out := base.Clone()
	if len(f.Vars) > 0 && out.VariableValues == nil {
		out.VariableValues = make(map[string]string, len(f.Vars))
	}
	for name, value := range f.Vars {
		out.VariableValues[name] = value
	}

	if len(f.Toggles) > 0 && out.ToggleStates == nil {
		out.ToggleStates = make(map[string]bool, len(f.Toggles))
	}
	for _, name := range sortedKeys(f.Toggles) {
		raw := f.Toggles[name]
		on, err := strconv.ParseBool(raw)
		if err != nil {
			return types.Settings{}, fmt.Errorf("toggle %s: %q is not a boolean", name, raw)
		}
		out.ToggleStates[name] = on
	}

	for _, raw := range f.Insertions {
		pos, text, ok := strings.Cut(raw, ":")
		if !ok {
			return types.Settings{}, fmt.Errorf("insertion %q: expected position:text", raw)
		}
		n, err := strconv.Atoi(strings.TrimSpace(pos))
		if err != nil || n < 0 {
			return types.Settings{}, fmt.Errorf("insertion %q: position must be a non-negative integer", raw)
		}
		out.CustomInsertions = append(out.CustomInsertions, types.CustomInsertion{Position: n, Text: text})
	}
	return out, nil
}

// ValidateFormat checks format against the supported list.
func ValidateFormat(format string, valid []string) error {
	for _, v := range valid {
		if format == v {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %s, must be one of: %s", format, strings.Join(valid, ", "))
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidateFileExists checks that every named file exists.
func ValidateFileExists(filenames ...string) error {
	for _, filename := range filenames {
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", filename)
		}
	}
	return nil
}

// writeOutput prints v as JSON or YAML. Any other format calls table
// with a tab-aligned writer.
func writeOutput(w io.Writer, format string, v interface{}, table func(tw *tabwriter.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
