package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// runInteractiveCLI drives the same tool handlers as the MCP server from a
// terminal. The REPL remembers one session locally and passes it on every call.
func (a *App) runInteractiveCLI(ctx context.Context, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, WelcomeMsg)
	fmt.Fprintln(out, HelpMsg)

	session := ""
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for {
		if session != "" {
			fmt.Fprintf(out, "\n[%s] %s", truncate(session, 13), PromptStr)
		} else {
			fmt.Fprint(out, "\n"+PromptStr)
		}
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		cmd = strings.ToLower(cmd)
		if cmd == "" {
			continue
		}

		switch cmd {
		case "exit", "quit":
			return
		case "help":
			fmt.Fprintln(out, HelpMsg)
			continue
		case "new":
			id, err := uuid.NewV7()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			session = id.String()
			fmt.Fprintf(out, "Using new session %s\n", session)
			continue
		case "use":
			if err := validateSessionID(rest); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			session = rest
			fmt.Fprintf(out, "Using session %s\n", session)
			continue
		}

		if session == "" {
			fmt.Fprintln(out, "No session yet. Type 'new' or 'use <session>' first.")
			continue
		}
		args := map[string]any{"session": session}

		switch cmd {
		case "show":
			a.cliCall(ctx, out, a.cliShow, args)

		case "render":
			a.cliCall(ctx, out, a.renderDeckHandler, args)

		case "add":
			if pos, markup, ok := leadingInt(rest); ok {
				args["position"] = pos
				rest = markup
			}
			if rest == "" {
				fmt.Fprintln(out, "Usage: add [pos] <html>")
				continue
			}
			args["html"] = rest
			a.cliCall(ctx, out, a.addSlideHandler, args)

		case "edit":
			pos, markup, ok := leadingInt(rest)
			if !ok || markup == "" {
				fmt.Fprintln(out, "Usage: edit <pos> <html>")
				continue
			}
			args["position"] = pos
			args["html"] = markup
			a.cliCall(ctx, out, a.editSlideHandler, args)

		case "delete", "dup":
			pos, _, ok := leadingInt(rest)
			if !ok {
				fmt.Fprintf(out, "Usage: %s <pos>\n", cmd)
				continue
			}
			args["position"] = pos
			if cmd == "delete" {
				a.cliCall(ctx, out, a.deleteSlideHandler, args)
			} else {
				a.cliCall(ctx, out, a.duplicateSlideHandler, args)
			}

		case "move":
			order, err := parseOrder(rest)
			if err != nil {
				fmt.Fprintf(out, "Usage: move <i,j,k>: %v\n", err)
				continue
			}
			items := make([]any, len(order))
			for i, n := range order {
				items[i] = n
			}
			args["order"] = items
			a.cliCall(ctx, out, a.reorderSlidesHandler, args)

		case "style":
			args["css"] = rest
			a.cliCall(ctx, out, a.setStyleHandler, args)

		case "title":
			args["title"] = rest
			a.cliCall(ctx, out, a.setTitleHandler, args)

		case "versions":
			a.cliCall(ctx, out, a.listVersionsHandler, args)

		case "search":
			if rest == "" {
				fmt.Fprintln(out, "Usage: search <query>")
				continue
			}
			args["query"] = rest
			a.cliCall(ctx, out, a.searchVersionsHandler, args)

		case "intent":
			if rest == "" {
				fmt.Fprintln(out, "Usage: intent <what to change>")
				continue
			}
			args["intent"] = rest
			a.cliCall(ctx, out, a.applyIntentHandler, args)

		case "preview", "restore":
			v, _, ok := leadingInt(rest)
			if !ok {
				fmt.Fprintf(out, "Usage: %s <version>\n", cmd)
				continue
			}
			args["version"] = v
			if cmd == "preview" {
				a.cliCall(ctx, out, a.previewVersionHandler, args)
				continue
			}
			fmt.Fprintf(out, "Restoring version %d deletes every later save point. Type 'yes' to continue: ", v)
			if !scanner.Scan() {
				return
			}
			if strings.TrimSpace(strings.ToLower(scanner.Text())) != "yes" {
				fmt.Fprintln(out, "Restore cancelled.")
				continue
			}
			args["confirm"] = true
			a.cliCall(ctx, out, a.restoreVersionHandler, args)

		default:
			fmt.Fprintln(out, UnknownCmdMsg)
		}
	}
}

// cliShow prints a compact deck summary instead of the full JSON view.
func (a *App) cliShow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := sessionArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := a.coord.GetCurrentDeck(ctx, session)
	if err != nil {
		return toolError(err), nil
	}
	if view.SlideCount == 0 {
		return mcp.NewToolResultText(EmptyDeckMsg), nil
	}
	return mcp.NewToolResultText(formatDeckSummary(view)), nil
}

// cliCall invokes handler and prints its text content.
func (a *App) cliCall(ctx context.Context, out io.Writer, handler toolHandler, args map[string]any) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(ctx, req)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	text := resultText(res)
	if res.IsError {
		fmt.Fprintf(out, "Error: %s\n", text)
		return
	}
	fmt.Fprintln(out, text)
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// leadingInt splits "3 rest" into 3 and "rest".
func leadingInt(s string) (int, string, bool) {
	head, tail, _ := strings.Cut(s, " ")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, s, false
	}
	return n, strings.TrimSpace(tail), true
}

// parseOrder reads "2,0,1" or "2 0 1".
func parseOrder(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("no positions given")
	}
	order := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%q is not a position", f)
		}
		order = append(order, n)
	}
	return order, nil
}
