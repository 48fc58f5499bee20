package bots

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"botserver/pkg/logger"
	"botserver/pkg/script"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeBot(t *testing.T, root, name, manifest string, dialogs map[string]string) {
	t.Helper()

	writeFile(t, filepath.Join(root, name, ManifestFile), manifest)
	require.NoError(t, os.MkdirAll(filepath.Join(root, name, DialogsDir), 0o755))
	for file, source := range dialogs {
		writeFile(t, filepath.Join(root, name, DialogsDir, file), source)
	}
}

func TestLoadCompilesDialogsAndIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	writeBot(t, root, "support", "name: Support\nmax_retries: 5\n", map[string]string{
		"start.bas":    "TALK \"Hi\"\nHEAR name",
		"Order.BAS":    "HEAR item AS [\"Pizza\", \"Salad\"]",
		"broken.bas":   "BEGIN TALK\nnever closed",
		"notes.txt":    "ignored",
		"bad name.bas": "TALK \"x\"",
	})

	guard, err := NewGuard(root)
	require.NoError(t, err)

	bot, err := Load(guard, "support", logger.Discard())
	require.NoError(t, err)
	require.Equal(t, "support", bot.Name())
	require.Equal(t, "Support", bot.Manifest().DisplayName)
	require.Equal(t, []string{"order", "start"}, bot.Dialogs())
	require.Equal(t, 5, bot.MaxRetries(3))

	broken := bot.Broken()
	require.Len(t, broken, 1)
	var compileErr *script.CompileError
	require.ErrorAs(t, broken["broken"], &compileErr)
	require.Equal(t, 1, compileErr.Line)
}

func TestLoadRejectsBadNamesAndMissingBots(t *testing.T) {
	guard, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	_, err = Load(guard, "../etc", logger.Discard())
	if CategoryFromError(err) != ErrorInvalidName {
		t.Fatalf("error category = %q, want %q", CategoryFromError(err), ErrorInvalidName)
	}

	_, err = Load(guard, "ghost", logger.Discard())
	if CategoryFromError(err) != ErrorBotNotFound {
		t.Fatalf("error category = %q, want %q", CategoryFromError(err), ErrorBotNotFound)
	}
}

func TestLoadRejectsInvalidManifest(t *testing.T) {
	root := t.TempDir()
	writeBot(t, root, "sales", "max_retries: [1\n", nil)

	guard, err := NewGuard(root)
	require.NoError(t, err)

	_, err = Load(guard, "sales", logger.Discard())
	if CategoryFromError(err) != ErrorInvalidManifest {
		t.Fatalf("error category = %q, want %q", CategoryFromError(err), ErrorInvalidManifest)
	}
}

func TestResolvePathRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, ManifestFile), "name: evil\n")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "evil")))

	guard, err := NewGuard(root)
	require.NoError(t, err)

	_, err = guard.ResolvePath("evil", ManifestFile)
	if CategoryFromError(err) != ErrorOutsideRoot {
		t.Fatalf("error category = %q, want %q", CategoryFromError(err), ErrorOutsideRoot)
	}

	_, err = guard.ResolvePath("..", "x")
	require.Error(t, err)
}

func TestSelectDialog(t *testing.T) {
	bot, err := FromSources("shop", Manifest{}, map[string]string{
		"start": `TALK "menu"`,
		"order": `TALK "order"`,
	})
	require.NoError(t, err)

	tests := map[string]string{
		"/order":          "order",
		"order":           "order",
		"ORDER now":       "order",
		"/order@shop_bot": "order",
		"hello":           "start",
		"":                "start",
		"/unknown":        "start",
	}
	for text, want := range tests {
		program, err := bot.Select(text)
		require.NoError(t, err, text)
		if program.Name() != want {
			t.Fatalf("Select(%q) = %q, want %q", text, program.Name(), want)
		}
	}
}

func TestSelectWithoutStartDialog(t *testing.T) {
	bot, err := FromSources("shop", Manifest{StartDialog: "welcome"}, map[string]string{"order": `TALK "x"`})
	require.NoError(t, err)

	_, err = bot.Select("hi")
	if CategoryFromError(err) != ErrorDialogNotFound {
		t.Fatalf("error category = %q, want %q", CategoryFromError(err), ErrorDialogNotFound)
	}
}

func TestLoadCatalogSkipsDirectoriesWithoutManifest(t *testing.T) {
	root := t.TempDir()
	writeBot(t, root, "alpha", "name: Alpha\n", map[string]string{"start.bas": `TALK "a"`})
	writeBot(t, root, "beta", "start_dialog: Welcome\n", map[string]string{"welcome.bas": `TALK "b"`})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))

	catalog, err := LoadCatalog(root, logger.Discard())
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, catalog.Names())

	beta, err := catalog.Get("beta")
	require.NoError(t, err)
	program, err := beta.Select("")
	require.NoError(t, err)
	require.Equal(t, "welcome", program.Name())

	_, err = catalog.Get("gamma")
	if CategoryFromError(err) != ErrorBotNotFound {
		t.Fatalf("error category = %q, want %q", CategoryFromError(err), ErrorBotNotFound)
	}
}
