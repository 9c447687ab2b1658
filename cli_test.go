package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, app *App, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	app.runInteractiveCLI(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	return out.String()
}

func TestCLISession(t *testing.T) {
	app := newTestApp(t)
	out := runCLI(t, app,
		"show",
		"use s1",
		"add "+textSlide("Hello"),
		"add 0 "+textSlide("Intro"),
		"move 1,0",
		"show",
		"title Launch",
		"versions",
		"restore 1",
		"no",
		"restore 1",
		"yes",
		"show",
		"exit",
	)

	assert.Contains(t, out, "No session yet.")
	assert.Contains(t, out, "Using session s1")
	assert.Contains(t, out, "Added slide 1. Saved as version 1.")
	assert.Contains(t, out, "Added slide 1. Saved as version 2.")
	assert.Contains(t, out, "Reordered slides: 2, 1. Saved as version 3.")
	assert.Contains(t, out, "  1. Hello [unscored]\n  2. Intro [unscored]")
	assert.Contains(t, out, "4 save point(s), newest first:")
	assert.Contains(t, out, "Restore cancelled.")
	assert.Contains(t, out, "Restored version 1; 3 later save point(s) deleted.")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "[s1] deck>"))

	view, err := app.coord.GetCurrentDeck(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.SlideCount)
}

func TestCLIUsageAndErrors(t *testing.T) {
	app := newTestApp(t)
	out := runCLI(t, app,
		"use bad/id",
		"new",
		"frobnicate",
		"add",
		"edit x",
		"delete",
		"move a,b",
		"preview",
		"search",
		"delete 4",
		"quit",
	)

	assert.Contains(t, out, "Error: invalid session id")
	assert.Contains(t, out, "Using new session ")
	assert.Contains(t, out, UnknownCmdMsg)
	assert.Contains(t, out, "Usage: add [pos] <html>")
	assert.Contains(t, out, "Usage: edit <pos> <html>")
	assert.Contains(t, out, "Usage: delete <pos>")
	assert.Contains(t, out, `Usage: move <i,j,k>: "a" is not a position`)
	assert.Contains(t, out, "Usage: preview <version>")
	assert.Contains(t, out, "Usage: search <query>")
	assert.Contains(t, out, "Error: position out of range")
}

func TestParseOrder(t *testing.T) {
	order, err := parseOrder("2,0, 1")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, order)

	order, err = parseOrder("1 0")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, order)

	_, err = parseOrder("")
	assert.Error(t, err)
}

func TestLeadingInt(t *testing.T) {
	n, rest, ok := leadingInt("3 <section>x</section>")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, "<section>x</section>", rest)

	_, rest, ok = leadingInt("<section>x</section>")
	assert.False(t, ok)
	assert.Equal(t, "<section>x</section>", rest)
}
