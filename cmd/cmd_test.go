package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/excerpt/internal/server"
	"github.com/conneroisu/excerpt/internal/tracker"
	"github.com/conneroisu/excerpt/internal/types"
	"github.com/conneroisu/excerpt/internal/version"
)

const welcomeFile = `id: welcome
name: Welcome
content: "Hello {{name}}, {{toggle:vip}}you get VIP access{{/toggle:vip}}!"
includes:
  - localId: page-1
    variableValues: {name: Ana}
    toggleStates: {vip: true}
  - localId: page-2
    variableValues: {name: Bob}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// useConfig resets the global viper instance to values.
func useConfig(t *testing.T, values map[string]interface{}) {
	t.Helper()
	viper.Reset()
	for k, v := range values {
		viper.Set(k, v)
	}
	t.Cleanup(viper.Reset)
}

func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	c.SetErr(&errOut)
	c.SetContext(context.Background())
	return c, &out, &errOut
}

func resetRenderFlags() {
	renderOutput.Format = "text"
	renderInclude = ""
	renderSettings.Vars = map[string]string{}
	renderSettings.Toggles = map[string]string{}
	renderSettings.Insertions = nil
}

func TestRenderCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "welcome.yml", welcomeFile)

	t.Run("flags only", func(t *testing.T) {
		resetRenderFlags()
		renderSettings.Vars = map[string]string{"name": "Ana"}

		c, out, errOut := newTestCommand()
		require.NoError(t, runRender(c, []string{path}))
		assert.Equal(t, "Hello Ana, !\n", out.String())
		assert.Empty(t, errOut.String())
	})

	t.Run("include settings", func(t *testing.T) {
		resetRenderFlags()
		renderInclude = "page-1"

		c, out, _ := newTestCommand()
		require.NoError(t, runRender(c, []string{path}))
		assert.Equal(t, "Hello Ana, you get VIP access!\n", out.String())
	})

	t.Run("flags override include", func(t *testing.T) {
		resetRenderFlags()
		renderInclude = "page-1"
		renderSettings.Toggles = map[string]string{"vip": "false"}
		renderOutput.Format = "html"

		c, out, _ := newTestCommand()
		require.NoError(t, runRender(c, []string{path}))
		assert.Equal(t, "<p>Hello Ana, !</p>\n", out.String())
	})

	t.Run("unresolved variable warns", func(t *testing.T) {
		resetRenderFlags()

		c, out, errOut := newTestCommand()
		require.NoError(t, runRender(c, []string{path}))
		assert.Equal(t, "Hello {{name}}, !\n", out.String())
		assert.Contains(t, errOut.String(), `no value for variable "name"`)
	})

	t.Run("unknown include", func(t *testing.T) {
		resetRenderFlags()
		renderInclude = "nope"

		c, _, _ := newTestCommand()
		err := runRender(c, []string{path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `include "nope"`)
	})

	t.Run("missing file", func(t *testing.T) {
		resetRenderFlags()
		c, _, _ := newTestCommand()
		assert.Error(t, runRender(c, []string{filepath.Join(t.TempDir(), "absent.yml")}))
	})
}

func TestDetectCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "welcome.yml", welcomeFile)
	broken := writeFile(t, dir, "broken.yml", `content: "{{toggle:open}}never closed {{title}}"`)

	detectOutput.Format = "json"
	c, out, _ := newTestCommand()
	require.NoError(t, runDetect(c, []string{good, broken}))

	var got []detection
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "welcome", got[0].SourceID)
	assert.Equal(t, []string{"name"}, got[0].Variables)
	assert.Equal(t, []string{"vip"}, got[0].Toggles)
	assert.Empty(t, got[0].Malformed)

	assert.Equal(t, "broken", got[1].SourceID)
	assert.Contains(t, got[1].Variables, "title")
	require.Len(t, got[1].Malformed, 1)
	assert.Contains(t, got[1].Malformed[0], "{{toggle:open}}")

	detectOutput.Format = "table"
	c, out, _ = newTestCommand()
	require.NoError(t, runDetect(c, []string{good}))
	assert.Contains(t, out.String(), "SOURCE")
	assert.Contains(t, out.String(), "welcome  variable  name")
}

func TestSettingsFlagsApply(t *testing.T) {
	base := types.Settings{
		VariableValues: map[string]string{"name": "Ana", "team": "Core"},
		ToggleStates:   map[string]bool{"vip": true},
	}

	f := &SettingsFlags{
		Vars:       map[string]string{"name": "Bob"},
		Toggles:    map[string]string{"vip": "false", "beta": "1"},
		Insertions: []string{"2: Thanks for joining"},
	}
	assert.False(t, f.Empty())

	got, err := f.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Bob", "team": "Core"}, got.VariableValues)
	assert.Equal(t, map[string]bool{"vip": false, "beta": true}, got.ToggleStates)
	assert.Equal(t, []types.CustomInsertion{{Position: 2, Text: " Thanks for joining"}}, got.CustomInsertions)
	assert.Equal(t, "Ana", base.VariableValues["name"], "base is not modified")

	tests := []struct {
		name  string
		flags SettingsFlags
		want  string
	}{
		{"bad toggle", SettingsFlags{Toggles: map[string]string{"vip": "maybe"}}, "not a boolean"},
		{"missing colon", SettingsFlags{Insertions: []string{"hello"}}, "expected position:text"},
		{"negative position", SettingsFlags{Insertions: []string{"-1:x"}}, "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.Apply(types.Settings{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.True(t, (&SettingsFlags{}).Empty())
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, ValidateFormat("json", []string{"table", "json"}))
	err := ValidateFormat("xml", []string{"table", "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table, json")

	c := &cobra.Command{}
	flags := AddOutputFlags(c, "table", "yaml")
	assert.Equal(t, "table", flags.Format)
	assert.Error(t, c.Flags().Set("output", "html"))
	require.NoError(t, c.Flags().Set("output", "yaml"))
	assert.Equal(t, "yaml", flags.Format)
}

func TestImportStatusUpdate(t *testing.T) {
	dir := t.TempDir()
	sources := filepath.Join(dir, "sources")
	require.NoError(t, os.MkdirAll(sources, 0o755))
	writeFile(t, sources, "welcome.yml", welcomeFile)

	useConfig(t, map[string]interface{}{
		"store.driver": "file",
		"store.dir":    filepath.Join(dir, "store"),
		"watch.dirs":   []string{sources},
		"log.level":    "error",
	})

	c, out, _ := newTestCommand()
	require.NoError(t, runImport(c, nil))
	assert.Contains(t, out.String(), "Imported 1 source file(s)")

	status := func(t *testing.T) map[string]tracker.Status {
		t.Helper()
		statusOutput.Format = "json"
		c, out, _ := newTestCommand()
		require.NoError(t, runStatus(c, nil))
		var list []tracker.Status
		require.NoError(t, json.Unmarshal(out.Bytes(), &list))
		byID := make(map[string]tracker.Status, len(list))
		for _, st := range list {
			byID[st.LocalID] = st
		}
		return byID
	}

	statusStaleOnly = false
	got := status(t)
	require.Len(t, got, 2)
	assert.Equal(t, tracker.StateStale, got["page-1"].State)
	assert.Equal(t, "welcome", got["page-1"].SourceID)

	updateAllStale = false
	c, out, _ = newTestCommand()
	require.NoError(t, runUpdate(c, []string{"page-1"}))
	assert.Contains(t, out.String(), "page-1 synced at")

	got = status(t)
	assert.Equal(t, tracker.StateInSync, got["page-1"].State)
	assert.Equal(t, tracker.StateStale, got["page-2"].State)

	statusStaleOnly = true
	got = status(t)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "page-2")
	statusStaleOnly = false

	updateAllStale = true
	c, _, _ = newTestCommand()
	require.NoError(t, runUpdate(c, nil))
	updateAllStale = false
	assert.Equal(t, tracker.StateInSync, status(t)["page-2"].State)

	c, _, _ = newTestCommand()
	assert.Error(t, runUpdate(c, nil), "update needs ids or --all-stale")
	c, _, _ = newTestCommand()
	assert.Error(t, runUpdate(c, []string{"missing"}))
}

func TestImportReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.yml", "content: [1, 2]\n")

	useConfig(t, map[string]interface{}{"store.driver": "memory", "log.level": "error"})

	c, out, _ := newTestCommand()
	err := runImport(c, []string{bad, filepath.Join(dir, "absent.yml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Contains(t, out.String(), "Imported 0 source file(s)")
}

func TestFetchCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "welcome.yml", welcomeFile)

	useConfig(t, map[string]interface{}{
		"store.driver":         "memory",
		"batch.initial_window": "5ms",
		"batch.rolling_window": "5ms",
		"log.level":            "error",
	})
	cfg, err := loadConfig()
	require.NoError(t, err)

	ctx := context.Background()
	a, err := openApp(ctx, cfg, &bytes.Buffer{})
	require.NoError(t, err)
	defer a.Close(ctx)
	_, err = a.repo.ImportFile(ctx, path)
	require.NoError(t, err)

	srv := server.New(cfg.Server, server.Deps{
		Repo:    a.repo,
		Cache:   a.cache,
		Writer:  a.writer,
		Tracker: a.tracker,
		Logger:  a.logger,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	fetchRemote = ts.URL
	defer func() { fetchRemote = "" }()

	fetchOutput.Format = "text"
	c, out, _ := newTestCommand()
	require.NoError(t, runFetch(c, []string{"page-1", "page-2"}))
	assert.Equal(t, "== page-1\nHello Ana, you get VIP access!\n== page-2\nHello Bob, !\n", out.String())

	fetchOutput.Format = "html"
	c, out, _ = newTestCommand()
	require.NoError(t, runFetch(c, []string{"page-1"}))
	assert.Equal(t, "<p>Hello Ana, you get VIP access!</p>\n", out.String())

	fetchOutput.Format = "text"
	c, _, _ = newTestCommand()
	err = runFetch(c, []string{"page-1", "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestVersionCommand(t *testing.T) {
	defer func() {
		versionFormat = "text"
		versionShort = false
		versionDetailed = false
	}()

	versionFormat = "text"
	c, out, _ := newTestCommand()
	require.NoError(t, runVersionCommand(c, nil))
	assert.True(t, strings.HasPrefix(out.String(), "excerpt "))

	versionShort = true
	c, out, _ = newTestCommand()
	require.NoError(t, runVersionCommand(c, nil))
	assert.Equal(t, version.Get().Version+"\n", out.String())
	versionShort = false

	versionDetailed = true
	c, out, _ = newTestCommand()
	require.NoError(t, runVersionCommand(c, nil))
	assert.Contains(t, out.String(), "Platform: ")
	versionDetailed = false

	versionFormat = "json"
	c, out, _ = newTestCommand()
	require.NoError(t, runVersionCommand(c, nil))
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)

	versionFormat = "xml"
	c, _, _ = newTestCommand()
	assert.Error(t, runVersionCommand(c, nil))
}
