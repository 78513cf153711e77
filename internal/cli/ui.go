package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/podweave/podweave/internal/canvas"
)

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func check(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}

func podStatusColor(s canvas.PodStatus) string {
	switch s {
	case canvas.PodChatting, canvas.PodSummarizing:
		return color.YellowString(string(s))
	case canvas.PodError:
		return color.RedString(string(s))
	}
	return color.GreenString(string(canvas.PodIdle))
}

func connStatusColor(s canvas.ConnectionStatus) string {
	switch s {
	case canvas.ConnError, canvas.ConnRejected:
		return color.RedString(string(s))
	case canvas.ConnIdle, "":
		return string(canvas.ConnIdle)
	}
	return color.YellowString(string(s))
}
